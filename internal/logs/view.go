package logs

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// All matches any value in a Filter field.
const All = "all"

// Filter narrows a list of entries. Empty fields behave like All.
type Filter struct {
	Search    string
	Source    string
	Device    string
	Parameter string
}

// Sort orders a list of entries by one column.
type Sort struct {
	Column    string // timestamp, source, device, parameter, value
	Ascending bool
}

// DefaultSort shows the newest entries first.
var DefaultSort = Sort{Column: "timestamp"}

// Toggle returns the sort after the operator selects column: the same
// column flips direction, a new column starts descending for timestamps
// and ascending otherwise.
func (s Sort) Toggle(column string) Sort {
	if column == "" {
		return s
	}
	if s.Column == column {
		return Sort{Column: column, Ascending: !s.Ascending}
	}
	return Sort{Column: column, Ascending: column != "timestamp"}
}

// Apply filters entries and returns them sorted by s. The input is not modified.
func Apply(entries []Entry, f Filter, s Sort) []Entry {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !matches(f.Source, e.Source) || !matches(f.Device, e.Device) || !matches(f.Parameter, e.Parameter) {
			continue
		}
		if search != "" && !strings.Contains(haystack(e), search) {
			continue
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		c := compareColumn(a, b, s.Column)
		if !s.Ascending {
			c = -c
		}
		return c
	})
	return out
}

func matches(want, got string) bool {
	return want == "" || want == All || want == got
}

func haystack(e Entry) string {
	return strings.ToLower(fmt.Sprintf("%v %s %s %s %s %s",
		e.Timestamp, e.Source, e.Device, e.Parameter, ValueText(e.Value), e.Raw))
}

func compareColumn(a, b Entry, column string) int {
	switch column {
	case "source":
		return cmp.Compare(a.Source, b.Source)
	case "device":
		return cmp.Compare(a.Device, b.Device)
	case "parameter":
		return cmp.Compare(a.Parameter, b.Parameter)
	case "value":
		af, aNum := a.Value.(float64)
		bf, bNum := b.Value.(float64)
		if aNum && bNum {
			return cmp.Compare(af, bf)
		}
		switch {
		case a.Value == nil && b.Value == nil:
			return 0
		case a.Value == nil:
			return -1
		case b.Value == nil:
			return 1
		}
		return cmp.Compare(ValueText(a.Value), ValueText(b.Value))
	default:
		return cmp.Compare(a.Timestamp, b.Timestamp)
	}
}

// ValueText renders an entry value for display.
func ValueText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Options lists the distinct sources, devices and parameters present in
// entries, each headed by All, in first-seen order.
type Options struct {
	Sources    []string
	Devices    []string
	Parameters []string
}

// CollectOptions builds the filter choices for entries.
func CollectOptions(entries []Entry) Options {
	o := Options{Sources: []string{All}, Devices: []string{All}, Parameters: []string{All}}
	seen := map[string]bool{}
	add := func(list *[]string, kind, v string) {
		if v == "" || seen[kind+"\x00"+v] {
			return
		}
		seen[kind+"\x00"+v] = true
		*list = append(*list, v)
	}
	for _, e := range entries {
		add(&o.Sources, "s", e.Source)
		add(&o.Devices, "d", e.Device)
		add(&o.Parameters, "p", e.Parameter)
	}
	return o
}
