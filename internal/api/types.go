package api

import (
	"encoding/json"

	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/shelfmap"
)

// Diagnostics is the nested status object from GET /api/diagnostics.
// Pointer fields distinguish "not reported" from a zero value.
type Diagnostics struct {
	Timestamp float64        `json:"timestamp"`
	Serial    SerialStatus   `json:"serial"`
	Camera    CameraStatus   `json:"camera"`
	Wifi      WifiStatus     `json:"wifi"`
	Uno       UnoStatus      `json:"uno"`
	Status    map[string]any `json:"status"`
	Meta      *Meta          `json:"meta,omitempty"`
}

type SerialStatus struct {
	RequestedPort *string  `json:"requested_port"`
	ActivePort    *string  `json:"active_port"`
	Connected     bool     `json:"connected"`
	Stale         bool     `json:"stale,omitempty"`
	StatusAgeS    *float64 `json:"status_age_s,omitempty"`
	StatusError   *string  `json:"status_error,omitempty"`
	Error         *string  `json:"error,omitempty"`
}

type CameraStatus struct {
	Configured       *bool   `json:"configured,omitempty"`
	SnapshotURL      *string `json:"snapshot_url"`
	Transport        *string `json:"transport,omitempty"`
	StreamIntervalMS *int    `json:"stream_interval_ms,omitempty"`
	Streaming        *bool   `json:"streaming,omitempty"`
	Source           *string `json:"source,omitempty"`
	Quality          *int    `json:"quality,omitempty"`
	Resolution       *string `json:"resolution,omitempty"`
	MaxResolution    *string `json:"max_resolution,omitempty"`
}

type WifiStatus struct {
	Connected *bool   `json:"connected"`
	IP        *string `json:"ip"`
}

type UnoStatus struct {
	Connected bool    `json:"connected"`
	Error     *string `json:"error"`
	StateID   *int    `json:"state_id"`
	ErrFlags  *int    `json:"err_flags"`
	SeqAck    *int    `json:"seq_ack"`
}

// Meta carries the backend's freshness verdict for the status block.
type Meta struct {
	StatusFresh *bool    `json:"status_fresh,omitempty"`
	StatusError *string  `json:"status_error,omitempty"`
	StatusAgeS  *float64 `json:"status_age_s,omitempty"`
}

// Info is GET /api/info.
type Info struct {
	SerialPort           *string         `json:"serial_port"`
	CameraSnapshotURL    *string         `json:"camera_snapshot_url"`
	CameraSnapshotSource *string         `json:"camera_snapshot_source"`
	CameraTransport      *string         `json:"camera_transport"`
	CameraStreaming      *bool           `json:"camera_streaming"`
	StatusFresh          bool            `json:"status_fresh"`
	ControlMode          *string         `json:"control_mode,omitempty"`
	ControlTransport     *string         `json:"control_transport,omitempty"`
	ControlEndpoint      *string         `json:"control_endpoint,omitempty"`
	AvailableTransports  json.RawMessage `json:"available_transports,omitempty"`
}

// ControlPayload re-shapes the info control fields into the
// control-transport form so both feed the same normalizer.
func (i *Info) ControlPayload() map[string]any {
	out := map[string]any{}
	if i.ControlMode != nil {
		out["mode"] = *i.ControlMode
	}
	if i.ControlTransport != nil {
		out["active"] = *i.ControlTransport
	}
	if i.ControlEndpoint != nil {
		out["endpoint"] = *i.ControlEndpoint
	}
	if len(i.AvailableTransports) > 0 {
		var list any
		if json.Unmarshal(i.AvailableTransports, &list) == nil && list != nil {
			out["transports"] = list
		}
	}
	return out
}

type CommandRequest struct {
	Command      string `json:"command"`
	RaiseOnError bool   `json:"raise_on_error"`
}

// CommandResult is the backend's parsed reply: the raw firmware lines and
// any key=value data found in them.
type CommandResult struct {
	Command string         `json:"command"`
	Raw     []string       `json:"raw"`
	Data    map[string]any `json:"data"`
}

type CameraConfigUpdate struct {
	Resolution *string `json:"resolution,omitempty"`
	Quality    *int    `json:"quality,omitempty"`
}

// ShelfMap is the shelf-map endpoints' response.
type ShelfMap struct {
	Grid      [][]string                 `json:"grid"`
	Palette   []shelfmap.RawPaletteEntry `json:"palette"`
	Raw       string                     `json:"raw,omitempty"`
	Timestamp float64                    `json:"timestamp,omitempty"`
	Source    string                     `json:"source,omitempty"`
	Persisted *bool                      `json:"persisted,omitempty"`
}

type ShelfMapUpdate struct {
	Grid    [][]string `json:"grid"`
	Persist bool       `json:"persist"`
}

type ShelfMapReset struct {
	Persist bool `json:"persist"`
}

// LogSnapshot is GET /api/logs.
type LogSnapshot struct {
	Entries []logs.Entry `json:"entries"`
}
