// Package transport normalizes the backend's description of its control
// links (Wi-Fi, UART) into one canonical ControlState and summarizes which
// link is currently carrying traffic.
package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ModeAuto lets the backend pick among the available transports.
const ModeAuto = "auto"

// Descriptor is the canonical shape of one transport.
type Descriptor struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Endpoint    *string    `json:"endpoint"`
	Available   bool       `json:"available"`
	LastSuccess *time.Time `json:"last_success"`
	LastFailure *time.Time `json:"last_failure"`
	LastError   *string    `json:"last_error"`
}

// ControlState is the registry snapshot. Transports is replaced wholesale on
// every normalization; readers never observe a partially updated list.
type ControlState struct {
	Mode       string       `json:"mode"`
	Active     *string      `json:"active"`
	Endpoint   *string      `json:"endpoint"`
	Transports []Descriptor `json:"transports"`
}

// Empty returns the state used before the first successful poll.
func Empty() ControlState {
	return ControlState{Mode: ModeAuto, Transports: []Descriptor{}}
}

// Clone returns a deep copy of s.
func (s ControlState) Clone() ControlState {
	out := ControlState{
		Mode:     s.Mode,
		Active:   cloneStr(s.Active),
		Endpoint: cloneStr(s.Endpoint),
	}
	if s.Transports != nil {
		out.Transports = make([]Descriptor, len(s.Transports))
		for i, d := range s.Transports {
			out.Transports[i] = d.clone()
		}
	}
	return out
}

// Find returns the transport with id, if present.
func (s ControlState) Find(id string) (Descriptor, bool) {
	for _, d := range s.Transports {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (d Descriptor) clone() Descriptor {
	d.Endpoint = cloneStr(d.Endpoint)
	d.LastError = cloneStr(d.LastError)
	d.LastSuccess = cloneTime(d.LastSuccess)
	d.LastFailure = cloneTime(d.LastFailure)
	return d
}

// NormalizeJSON decodes b and normalizes it. Undecodable input yields a copy
// of previous.
func NormalizeJSON(b []byte, previous ControlState) ControlState {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return previous.Clone()
	}
	return Normalize(raw, previous)
}

// Normalize converts a decoded backend payload into a ControlState.
//
// Field precedence, first match wins:
//
//	list      transports, available_transports, previous list
//	id        id, transport, name (trimmed, lowercased; empty ids are skipped)
//	label     label, name, id, upper-cased id
//	endpoint  endpoint, url, address
//	available available, connected, ok
//	mode      mode, control_mode, previous mode, "auto"
//	active    active, control_transport, previous active
//	endpoint  endpoint, control_endpoint, previous endpoint
//
// When ids collide the later entry wins. A raw value that is not a JSON
// object returns a copy of previous.
func Normalize(raw any, previous ControlState) ControlState {
	obj, ok := raw.(map[string]any)
	if !ok {
		return previous.Clone()
	}

	var transports []Descriptor
	if list, ok := firstList(obj, "transports", "available_transports"); ok {
		transports = normalizeList(list)
	} else {
		transports = previous.Clone().Transports
	}

	mode := ModeAuto
	if v := firstPresent(obj, "mode", "control_mode"); v != nil {
		mode = strings.ToLower(strings.TrimSpace(toString(v)))
	} else if previous.Mode != "" {
		mode = previous.Mode
	}
	if mode == "" {
		mode = ModeAuto
	}

	active := cloneStr(previous.Active)
	if v := firstPresent(obj, "active", "control_transport"); v != nil {
		active = nil
		if truthy(v) {
			s := strings.ToLower(strings.TrimSpace(toString(v)))
			active = &s
		}
	}

	endpoint := cloneStr(previous.Endpoint)
	if v := firstPresent(obj, "endpoint", "control_endpoint"); v != nil {
		s := toString(v)
		endpoint = &s
	}

	return ControlState{
		Mode:       mode,
		Active:     active,
		Endpoint:   endpoint,
		Transports: transports,
	}
}

func normalizeList(list []any) []Descriptor {
	out := make([]Descriptor, 0, len(list))
	index := make(map[string]int, len(list))

	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(toString(firstTruthy(entry, "id", "transport", "name"))))
		if id == "" {
			continue
		}

		label := strings.ToUpper(id)
		if v := firstTruthy(entry, "label", "name", "id"); v != nil {
			if s, ok := v.(string); ok {
				label = s
			}
		}

		d := Descriptor{
			ID:          id,
			Label:       label,
			LastSuccess: toTime(entry["last_success"]),
			LastFailure: toTime(entry["last_failure"]),
		}
		if v := firstPresent(entry, "endpoint", "url", "address"); v != nil {
			s := toString(v)
			d.Endpoint = &s
		}
		if v, ok := entry["available"]; ok && v != nil {
			d.Available = truthy(v)
		} else if v, ok := entry["connected"]; ok && v != nil {
			d.Available = truthy(v)
		} else {
			d.Available = truthy(entry["ok"])
		}
		if v := entry["last_error"]; v != nil {
			s := toString(v)
			d.LastError = &s
		}

		if i, dup := index[id]; dup {
			out[i] = d
			continue
		}
		index[id] = len(out)
		out = append(out, d)
	}
	return out
}

func firstList(obj map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if list, ok := obj[k].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

// firstPresent returns the first non-null value among keys.
func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// firstTruthy returns the first value among keys that is not null, false,
// zero, or the empty string.
func firstTruthy(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := obj[k]; truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// toTime accepts unix seconds (number or numeric string) or RFC 3339 text.
func toTime(v any) *time.Time {
	var secs float64
	switch x := v.(type) {
	case float64:
		secs = x
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return &t
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil
		}
		secs = f
	default:
		return nil
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return nil
	}
	whole, frac := math.Modf(secs)
	t := time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return &t
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := *p
	return &t
}
