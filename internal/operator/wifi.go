package operator

import (
	"context"
	"strings"

	"github.com/large-farva/operator-console/internal/toast"
)

// WifiConfig is the normalized /api/control/wifi payload.
type WifiConfig struct {
	MACAddress         string  `json:"mac_address"`
	MACPrefix          string  `json:"mac_prefix"`
	IPAddress          string  `json:"ip_address"`
	WSPort             *int    `json:"ws_port"`
	WSPath             string  `json:"ws_path"`
	Endpoint           *string `json:"endpoint"`
	TransportAvailable bool    `json:"transport_available"`
	AutoDiscovery      bool    `json:"auto_discovery"`
}

// NormalizeWifiConfig trims every field, upper-cases MAC values, accepts
// ws_port or port and defaults auto-discovery to on.
func NormalizeWifiConfig(raw map[string]any) WifiConfig {
	cfg := WifiConfig{AutoDiscovery: true}
	if raw == nil {
		return cfg
	}
	if s, ok := raw["mac_address"].(string); ok {
		cfg.MACAddress = strings.ToUpper(strings.TrimSpace(s))
	}
	if s, ok := raw["mac_prefix"].(string); ok {
		cfg.MACPrefix = strings.ToUpper(strings.TrimSpace(s))
	}
	if s, ok := raw["ip_address"].(string); ok {
		cfg.IPAddress = strings.TrimSpace(s)
	}
	port := raw["ws_port"]
	if port == nil {
		port = raw["port"]
	}
	if n, ok := parseInt(port); ok && n > 0 {
		cfg.WSPort = &n
	}
	if s, ok := raw["ws_path"].(string); ok {
		cfg.WSPath = strings.TrimSpace(s)
	}
	if s, ok := raw["endpoint"].(string); ok {
		s = strings.TrimSpace(s)
		cfg.Endpoint = &s
	}
	cfg.TransportAvailable = truthy(raw["transport_available"])
	if v, ok := raw["auto_discovery"]; ok {
		cfg.AutoDiscovery = truthy(v)
	}
	return cfg
}

// StatusMessage describes how the Wi-Fi control link is configured.
func (w *WifiConfig) StatusMessage() string {
	if w == nil {
		return ""
	}
	endpoint := ""
	if w.Endpoint != nil {
		endpoint = *w.Endpoint
	}
	switch {
	case w.TransportAvailable && endpoint != "":
		return "Control link ready at " + endpoint
	case endpoint != "":
		return "Static endpoint configured: " + endpoint
	case w.AutoDiscovery:
		return "Auto-discovery enabled. Waiting for ESP32 broadcast."
	}
	return "Wi-Fi transport disabled. Clear overrides or provide an ESP32 IP to reconnect."
}

func (w *WifiConfig) statusLine() StatusLine {
	tone := toast.Info
	if w != nil && w.TransportAvailable {
		tone = toast.Success
	}
	return StatusLine{Message: w.StatusMessage(), Tone: tone}
}

// WifiChanges lists the fields to change. A nil field is left alone; a
// pointer to an empty string clears the override.
type WifiChanges struct {
	MACAddress *string
	MACPrefix  *string
	IPAddress  *string
	WSPort     *string
	WSPath     *string
}

// Payload builds the POST body: MAC values are upper-cased, the port is
// sent as a number when it parses, the path gets a leading slash, and
// empty values become null.
func (ch WifiChanges) Payload() map[string]any {
	out := map[string]any{}
	text := func(p *string, upper bool) any {
		s := strings.TrimSpace(*p)
		if upper {
			s = strings.ToUpper(s)
		}
		if s == "" {
			return nil
		}
		return s
	}
	if ch.MACAddress != nil {
		out["mac_address"] = text(ch.MACAddress, true)
	}
	if ch.MACPrefix != nil {
		out["mac_prefix"] = text(ch.MACPrefix, true)
	}
	if ch.IPAddress != nil {
		out["ip_address"] = text(ch.IPAddress, false)
	}
	if ch.WSPort != nil {
		s := strings.TrimSpace(*ch.WSPort)
		if n, ok := parseInt(s); ok {
			out["ws_port"] = n
		} else if s == "" {
			out["ws_port"] = nil
		} else {
			out["ws_port"] = s
		}
	}
	if ch.WSPath != nil {
		s := strings.TrimSpace(*ch.WSPath)
		switch {
		case s == "":
			out["ws_path"] = nil
		case strings.HasPrefix(s, "/"):
			out["ws_path"] = s
		default:
			out["ws_path"] = "/" + s
		}
	}
	return out
}

// LoadWifiConfig fetches the Wi-Fi control configuration. While a load is
// in flight it returns the current configuration without a second request.
func (c *Console) LoadWifiConfig(ctx context.Context, silent bool) (*WifiConfig, error) {
	c.mu.Lock()
	if c.wifiLoading {
		cfg := c.wifiConfig
		c.mu.Unlock()
		return cfg, nil
	}
	c.wifiLoading = true
	if !silent {
		c.wifiStatus = StatusLine{Message: "Loading Wi-Fi settings…", Tone: toast.Info}
	}
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.wifiLoading = false
		c.mu.Unlock()
		c.changed()
	}()

	raw, err := c.client.WifiConfig(ctx)
	if err != nil {
		c.log.Printf("console: wifi config fetch failed: %v", err)
		msg := errorText(err, "Failed to load Wi-Fi settings")
		c.setWifiStatus(StatusLine{Message: msg, Tone: toast.Error})
		if !silent {
			c.toasts.Show(msg, toast.Error)
		}
		return nil, err
	}

	cfg := NormalizeWifiConfig(raw)
	c.mu.Lock()
	c.wifiConfig = &cfg
	c.wifiStatus = cfg.statusLine()
	c.mu.Unlock()
	if !silent {
		c.toasts.Show("Wi-Fi settings refreshed", toast.Success)
	}
	return &cfg, nil
}

// ApplyWifiConfig posts the changed fields. With nothing to change it only
// refreshes the status line. After a successful write info, control and
// diagnostics are refreshed together.
func (c *Console) ApplyWifiConfig(ctx context.Context, changes WifiChanges, silent bool) (*WifiConfig, error) {
	payload := changes.Payload()
	if len(payload) == 0 {
		c.mu.Lock()
		cfg := c.wifiConfig
		c.wifiStatus = cfg.statusLine()
		c.mu.Unlock()
		c.changed()
		if !silent {
			c.toasts.Show("No Wi-Fi changes detected", toast.Info)
		}
		return cfg, nil
	}

	c.mu.Lock()
	if c.wifiSaving {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.wifiSaving = true
	c.wifiStatus = StatusLine{Message: "Applying Wi-Fi settings…", Tone: toast.Info}
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.wifiSaving = false
		c.mu.Unlock()
		c.changed()
	}()

	raw, err := c.client.SetWifiConfig(ctx, payload)
	if err != nil {
		c.log.Printf("console: wifi config update failed: %v", err)
		msg := errorText(err, "Failed to update Wi-Fi settings")
		c.setWifiStatus(StatusLine{Message: msg, Tone: toast.Error})
		if !silent {
			c.toasts.Show(msg, toast.Error)
		}
		return nil, err
	}

	cfg := NormalizeWifiConfig(raw)
	c.mu.Lock()
	c.wifiConfig = &cfg
	c.wifiStatus = cfg.statusLine()
	c.mu.Unlock()
	if !silent {
		c.toasts.Show("Wi-Fi settings updated", toast.Success)
	}

	c.settle(ctx, c.refreshInfo, c.refreshControl, c.refreshDiagnostics)
	return &cfg, nil
}

func (c *Console) setWifiStatus(s StatusLine) {
	c.mu.Lock()
	c.wifiStatus = s
	c.mu.Unlock()
	c.changed()
}
