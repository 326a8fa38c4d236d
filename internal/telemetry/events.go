// Package telemetry defines the messages pushed by the backend over its
// WebSocket streams and the sample type the console keeps for charting.
package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Metric describes one of the fixed robot readings.
type Metric struct {
	Key   string
	Label string
}

// Metrics is the closed set of readings carried by every Sample, in display order.
var Metrics = []Metric{
	{Key: "elev_mm", Label: "Elev (mm)"},
	{Key: "grip_pos_deg", Label: "Grip (deg)"},
	{Key: "lineL_adc", Label: "Line L"},
	{Key: "lineR_adc", Label: "Line R"},
	{Key: "vbatt_mV", Label: "Vbatt (mV)"},
}

// Message is one push on /ws/telemetry. A poll that reached the robot
// carries Data; a failed poll carries Error.
type Message struct {
	Command string          `json:"command,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	Data    map[string]any  `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Camera message types.
const (
	CameraFrame = "frame"
	CameraError = "error"
)

// CameraMessage is one push on /ws/camera. Frames carry a base64 payload.
type CameraMessage struct {
	Type      string  `json:"type"`
	Mime      string  `json:"mime,omitempty"`
	Payload   string  `json:"payload,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Sample is one timestamped snapshot of the robot readings. Every key in
// Metrics is present; a reading the robot did not report is nil.
type Sample struct {
	Timestamp time.Time           `json:"timestamp"`
	Metrics   map[string]*float64 `json:"metrics"`
}

// NewSample maps a telemetry data object onto the fixed metric set.
// Numbers and numeric strings are accepted; anything else becomes nil.
func NewSample(ts time.Time, data map[string]any) Sample {
	s := Sample{Timestamp: ts, Metrics: make(map[string]*float64, len(Metrics))}
	for _, m := range Metrics {
		s.Metrics[m.Key] = number(data[m.Key])
	}
	return s
}

// Value returns the reading for key and whether it was reported.
func (s Sample) Value(key string) (float64, bool) {
	v := s.Metrics[key]
	if v == nil {
		return 0, false
	}
	return *v, true
}

func number(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// UnixSeconds renders t the way the backend timestamps its messages.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
