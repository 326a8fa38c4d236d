// Package status fuses the stream phase, the diagnostics header and the
// transport overview into the single status line shown to the operator.
package status

import (
	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/transport"
)

// Media reported by the diagnostics header.
const (
	MediumWifi  = "wifi"
	MediumTypeC = "type-c"
)

// Tone selects the indicator styling.
type Tone string

const (
	Connected    Tone = "connected"
	Warn         Tone = "warn"
	Connecting   Tone = "connecting"
	Disconnected Tone = "disconnected"
)

// Header is the robot link as the last diagnostics poll described it.
type Header struct {
	RobotConnected bool    `json:"robot_connected"`
	Medium         string  `json:"medium,omitempty"`
	IP             *string `json:"ip"`
	Stale          bool    `json:"stale"`
}

// Offline is the header used before the first poll, after a failed poll,
// and while telemetry reports the robot unreachable.
func Offline() Header {
	return Header{Stale: true}
}

// DeriveHeader reads the link state out of a diagnostics payload. The
// backend's meta.status_fresh wins; without it the status counts as fresh
// when either link reports connected.
func DeriveHeader(d *api.Diagnostics) Header {
	if d == nil {
		return Offline()
	}
	wifiUp := d.Wifi.Connected != nil && *d.Wifi.Connected

	fresh := d.Serial.Connected || wifiUp
	if d.Meta != nil && d.Meta.StatusFresh != nil {
		fresh = *d.Meta.StatusFresh
	}

	h := Header{Stale: !fresh}
	switch {
	case fresh && wifiUp:
		h.RobotConnected = true
		h.Medium = MediumWifi
		if d.Wifi.IP != nil {
			ip := *d.Wifi.IP
			h.IP = &ip
		}
	case fresh && d.Serial.Connected:
		h.RobotConnected = true
		h.Medium = MediumTypeC
	}
	return h
}

// Verdict is the rendered status line.
type Verdict struct {
	Tone      Tone   `json:"tone"`
	ClassName string `json:"class_name"`
	Text      string `json:"text"`
}

func verdict(tone Tone, text string) Verdict {
	return Verdict{Tone: tone, ClassName: "status-indicator " + string(tone), Text: text}
}

// Fuse applies the precedence ladder: a lost server link beats everything,
// then an online transport summary, then a connecting stream, then the
// diagnostics header, and finally offline.
func Fuse(phase stream.Phase, header Header, ov transport.Overview) Verdict {
	if phase == stream.PhaseDisconnected {
		return verdict(Disconnected, "Server Link Lost")
	}

	primary := ov.Primary
	if primary == nil {
		primary = ov.Active
	}
	if ov.Summary.Status == transport.StatusOnline && primary != nil {
		label := transport.DisplayLabel(primary, ov.Summary)
		if ov.Summary.Stale {
			return verdict(Warn, "Robot Online • "+label+" (status stale)")
		}
		return verdict(Connected, "Robot Online • "+label)
	}

	if phase == stream.PhaseConnecting {
		return verdict(Connecting, "Connecting...")
	}

	if header.RobotConnected {
		label := "Control Link"
		switch header.Medium {
		case MediumWifi:
			label = "Wi-Fi"
			if header.IP != nil && *header.IP != "" {
				label += " (" + *header.IP + ")"
			}
		case MediumTypeC:
			label = "UART"
		}
		if header.Stale {
			return verdict(Warn, "Robot Online • "+label+" (status stale)")
		}
		return verdict(Connected, "Robot Online • "+label)
	}

	return verdict(Disconnected, "Robot Offline")
}
