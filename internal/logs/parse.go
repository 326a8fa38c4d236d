package logs

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	prefixRE   = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`)
	keyValueRE = regexp.MustCompile(`([A-Za-z0-9_./-]+)=([^\s,;]+)`)
	colonRE    = regexp.MustCompile(`^([A-Za-z0-9_ ./-]+):\s*(.*)$`)
)

type origin struct{ source, device string }

var tagOrigins = map[string]origin{
	"esp32":     {"esp32", "system"},
	"wifi":      {"esp32", "wifi"},
	"cli":       {"esp32", "cli"},
	"loop":      {"esp32", "loop"},
	"bt":        {"esp32", "automation"},
	"tlm":       {"esp32", "telemetry"},
	"i2c":       {"esp32", "i2c"},
	"vision":    {"esp32", "vision"},
	"camera":    {"esp32", "camera"},
	"cam":       {"esp32", "camera"},
	"shelf_map": {"esp32", "shelf_map"},
	"uno":       {"arduino", "system"},
	"power":     {"esp32", "power"},
}

func classify(tag, body string) origin {
	if tag != "" {
		t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), " ", "_")
		if o, ok := tagOrigins[t]; ok {
			return o
		}
		switch {
		case strings.Contains(t, "uno"):
			return origin{"arduino", t}
		case strings.Contains(t, "wifi"):
			return origin{"esp32", "wifi"}
		case strings.Contains(t, "cam"):
			return origin{"esp32", "camera"}
		}
	}
	upper := strings.ToUpper(body)
	switch {
	case strings.HasPrefix(upper, "[UNO]"):
		return origin{"arduino", "system"}
	case strings.Contains(upper, "GURU MEDITATION"):
		return origin{"esp32", "fault"}
	}
	return origin{"esp32", "system"}
}

// ParseValue decodes a firmware token: integers, then floats, then
// true/false, otherwise the trimmed text.
func ParseValue(token string) any {
	token = strings.TrimSpace(token)
	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return float64(i)
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f
	}
	switch strings.ToLower(token) {
	case "true":
		return true
	case "false":
		return false
	}
	return token
}

// ParseLine structures one raw serial line. Lines of the form
// "[tag] k=v k2=v2" yield one entry per pair; "[tag] key: value" yields one
// entry; anything else is one entry keyed by its tag. IDs are left empty.
func ParseLine(ts time.Time, line string) []Entry {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return nil
	}

	tag, body := "", raw
	if m := prefixRE.FindStringSubmatch(raw); m != nil {
		tag = strings.TrimSpace(m[1])
		body = strings.TrimSpace(m[2])
	}
	o := classify(tag, body)
	base := Entry{
		Timestamp: float64(ts.UnixNano()) / 1e9,
		TimeISO:   ts.UTC().Format(time.RFC3339Nano),
		Source:    o.source,
		Device:    o.device,
		Tag:       tag,
		Raw:       raw,
	}

	if pairs := keyValueRE.FindAllStringSubmatch(body, -1); len(pairs) > 0 {
		out := make([]Entry, 0, len(pairs))
		for _, p := range pairs {
			e := base
			e.Parameter = p[1]
			e.Value = ParseValue(p[2])
			out = append(out, e)
		}
		return out
	}

	e := base
	if m := colonRE.FindStringSubmatch(body); m != nil {
		e.Parameter = strings.TrimSpace(m[1])
		e.Value = ParseValue(m[2])
		return []Entry{e}
	}
	switch {
	case tag != "":
		e.Parameter = tag
	case o.device != "":
		e.Parameter = o.device
	default:
		e.Parameter = "message"
	}
	e.Value = ParseValue(body)
	return []Entry{e}
}
