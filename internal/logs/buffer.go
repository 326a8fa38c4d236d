// Package logs holds structured robot log entries: the bounded, id-keyed
// buffer the log stream feeds, the filter and sort helpers the views use,
// and the line parser the simulator uses to structure raw serial output.
package logs

import (
	"encoding/json"
	"slices"
)

// DefaultCapacity bounds the buffer.
const DefaultCapacity = 600

// Entry is one structured log record. ID is the dedup key.
type Entry struct {
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
	TimeISO   string  `json:"time_iso,omitempty"`
	Source    string  `json:"source,omitempty"`
	Device    string  `json:"device,omitempty"`
	Tag       string  `json:"tag,omitempty"`
	Parameter string  `json:"parameter,omitempty"`
	Value     any     `json:"value,omitempty"`
	Raw       string  `json:"raw,omitempty"`
}

// Message is one push on /ws/logs: either a batch (snapshot or live) with
// Entries set, or a single entry carried inline.
type Message struct {
	Type    string  `json:"type,omitempty"`
	Entries []Entry `json:"entries"`
}

// Decode classifies a raw log stream message. A batch returns its entries
// and batch=true; a single entry with an id returns it alone.
func Decode(b []byte) (entries []Entry, batch bool, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, false, err
	}
	if raw, ok := probe["entries"]; ok && string(raw) != "null" {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, false, err
		}
		return m.Entries, true, nil
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false, err
	}
	if e.ID == "" {
		return nil, false, nil
	}
	return []Entry{e}, false, nil
}

// Buffer keeps entries unique by ID, bounded, oldest dropped first. It is
// not safe for concurrent use.
type Buffer struct {
	capacity int
	entries  []Entry
}

// NewBuffer allocates a buffer. capacity < 1 selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Merge upserts batch by ID, sorts ascending by timestamp (stable, so equal
// timestamps keep their insertion order) and drops the oldest entries past
// capacity. Entries without an ID are ignored. Merging the same batch twice
// leaves the buffer unchanged.
func (b *Buffer) Merge(batch []Entry) {
	index := make(map[string]int, len(b.entries)+len(batch))
	merged := make([]Entry, 0, len(b.entries)+len(batch))
	for _, e := range b.entries {
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}
	for _, e := range batch {
		if e.ID == "" {
			continue
		}
		if i, ok := index[e.ID]; ok {
			merged[i] = e
			continue
		}
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}

	slices.SortStableFunc(merged, func(a, c Entry) int {
		switch {
		case a.Timestamp < c.Timestamp:
			return -1
		case a.Timestamp > c.Timestamp:
			return 1
		}
		return 0
	})
	b.entries = b.truncate(merged)
}

// Append handles the single-entry hot path: an entry whose ID is already
// buffered is updated in place, otherwise it is appended. No re-sort.
func (b *Buffer) Append(e Entry) {
	if e.ID == "" {
		return
	}
	for i := range b.entries {
		if b.entries[i].ID == e.ID {
			b.entries[i] = e
			return
		}
	}
	b.entries = b.truncate(append(b.entries, e))
}

// Replace discards the buffer and loads entries.
func (b *Buffer) Replace(entries []Entry) {
	b.entries = nil
	b.Merge(entries)
}

// Entries returns a copy of the buffer, oldest first.
func (b *Buffer) Entries() []Entry {
	return slices.Clone(b.entries)
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int { return len(b.entries) }

func (b *Buffer) truncate(entries []Entry) []Entry {
	if excess := len(entries) - b.capacity; excess > 0 {
		return slices.Clone(entries[excess:])
	}
	return entries
}
