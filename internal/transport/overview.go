package transport

import (
	"regexp"
	"strings"
)

// Summary condenses the registry into the fields status fusion consumes.
type Summary struct {
	Status         string  `json:"status"` // "online" or "offline"
	Stale          bool    `json:"stale"`
	TransportID    string  `json:"transport_id,omitempty"`
	TransportLabel string  `json:"transport_label,omitempty"`
	Endpoint       *string `json:"endpoint"`
	AvailableCount int     `json:"available_count"`
}

// Overview is the derived view of a ControlState.
type Overview struct {
	Mode       string       `json:"mode"`
	ActiveID   string       `json:"active_id,omitempty"`
	Active     *Descriptor  `json:"active"`
	Primary    *Descriptor  `json:"primary"`
	Transports []Descriptor `json:"transports"`
	Summary    Summary      `json:"summary"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Summarize picks the primary transport: the active one when it is
// available, otherwise the first available transport in list order.
// stale is the upstream diagnostics freshness verdict.
func Summarize(state ControlState, stale bool) Overview {
	s := state.Clone()
	ov := Overview{
		Mode:       s.Mode,
		Transports: s.Transports,
	}
	if ov.Mode == "" {
		ov.Mode = ModeAuto
	}
	if s.Active != nil {
		ov.ActiveID = strings.ToLower(strings.TrimSpace(*s.Active))
	}

	var available []int
	for i := range s.Transports {
		d := &s.Transports[i]
		if ov.ActiveID != "" && d.ID == ov.ActiveID && ov.Active == nil {
			ov.Active = d
		}
		if d.Available {
			available = append(available, i)
		}
	}

	switch {
	case ov.Active != nil && ov.Active.Available:
		ov.Primary = ov.Active
	case len(available) > 0:
		ov.Primary = &s.Transports[available[0]]
	}

	ov.Summary = Summary{
		Status:         StatusOffline,
		Stale:          stale,
		AvailableCount: len(available),
	}
	if p := ov.Primary; p != nil {
		ov.Summary.Status = StatusOnline
		ov.Summary.TransportID = p.ID
		ov.Summary.TransportLabel = p.Label
		ov.Summary.Endpoint = cloneStr(p.Endpoint)
	}
	return ov
}

var schemeHost = regexp.MustCompile(`(?i)^[a-z]+://([^/]+)`)

// EndpointHost extracts host[:port] from an endpoint URL or bare address.
func EndpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if m := schemeHost.FindStringSubmatch(endpoint); m != nil {
		return m[1]
	}
	endpoint = strings.TrimPrefix(endpoint, "//")
	host, _, _ := strings.Cut(endpoint, "/")
	return host
}

// DisplayLabel renders a transport for the status line. A nil transport
// falls back to the summary, then to "Control Link".
func DisplayLabel(d *Descriptor, summary Summary) string {
	if d == nil {
		switch {
		case summary.TransportLabel != "":
			return summary.TransportLabel
		case summary.TransportID != "":
			return strings.ToUpper(summary.TransportID)
		}
		return "Control Link"
	}

	endpoint := ""
	switch {
	case d.Endpoint != nil && *d.Endpoint != "":
		endpoint = *d.Endpoint
	case summary.Endpoint != nil:
		endpoint = *summary.Endpoint
	}
	host := EndpointHost(endpoint)

	switch d.ID {
	case "wifi":
		if host != "" {
			return "Wi-Fi (" + host + ")"
		}
		return "Wi-Fi"
	case "serial":
		if host != "" {
			return "UART (" + host + ")"
		}
		return "UART"
	}
	if d.Label != "" {
		return d.Label
	}
	if d.ID != "" {
		return strings.ToUpper(d.ID)
	}
	return "Control Link"
}

// ModeLabel names the state's control mode for toasts and menus.
func ModeLabel(state ControlState) string {
	mode := strings.ToLower(strings.TrimSpace(state.Mode))
	if mode == "" || mode == ModeAuto {
		return "Auto (Wi-Fi -> UART)"
	}
	if d, ok := state.Find(mode); ok && d.Label != "" {
		return d.Label
	}
	return strings.ToUpper(mode)
}
