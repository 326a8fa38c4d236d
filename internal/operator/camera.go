package operator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/toast"
)

// CameraConfig is the normalized /api/camera/config payload.
type CameraConfig struct {
	Resolution           string       `json:"resolution"`
	Quality              *int         `json:"quality"`
	Running              bool         `json:"running"`
	AvailableResolutions []Resolution `json:"available_resolutions"`
	QualityMin           int          `json:"quality_min"`
	QualityMax           int          `json:"quality_max"`
	MaxResolution        string       `json:"max_resolution,omitempty"`
}

// Resolution is one selectable frame size.
type Resolution struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Unsupported bool   `json:"unsupported,omitempty"`
}

// resolutionOf accepts a bare id or an {id|value|label, width, height,
// supported} object. Dimensions are appended to the label when both are set.
func resolutionOf(v any) (Resolution, bool) {
	switch x := v.(type) {
	case string:
		id := strings.ToUpper(strings.TrimSpace(x))
		return Resolution{Value: id, Label: id}, id != ""
	case map[string]any:
		id := ""
		for _, key := range []string{"id", "value", "label"} {
			if s := stringOf(x[key]); s != "" {
				id = strings.ToUpper(s)
				break
			}
		}
		if id == "" {
			return Resolution{}, false
		}
		label := stringOf(x["label"])
		if label == "" {
			label = id
		}
		w, h := stringOf(x["width"]), stringOf(x["height"])
		if truthy(x["width"]) && truthy(x["height"]) {
			label += " (" + w + "×" + h + ")"
		}
		supported, ok := x["supported"].(bool)
		return Resolution{Value: id, Label: label, Unsupported: ok && !supported}, true
	}
	return Resolution{}, false
}

// NormalizeCameraConfig upper-cases the resolution (UNKNOWN when absent),
// parses the quality bounds (10 and 63 by default) and accepts either
// spelling of the max resolution. A nil payload yields nil.
func NormalizeCameraConfig(raw map[string]any) *CameraConfig {
	if raw == nil {
		return nil
	}
	cfg := &CameraConfig{
		Resolution:           strings.ToUpper(stringOf(raw["resolution"])),
		Running:              truthy(raw["running"]),
		AvailableResolutions: []Resolution{},
		QualityMin:           10,
		QualityMax:           63,
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "UNKNOWN"
	}
	if q, ok := parseInt(raw["quality"]); ok {
		cfg.Quality = &q
	}
	if q, ok := parseInt(raw["quality_min"]); ok {
		cfg.QualityMin = q
	}
	if q, ok := parseInt(raw["quality_max"]); ok {
		cfg.QualityMax = q
	}
	if list, ok := raw["available_resolutions"].([]any); ok {
		for _, v := range list {
			if r, ok := resolutionOf(v); ok {
				cfg.AvailableResolutions = append(cfg.AvailableResolutions, r)
			}
		}
	}
	for _, key := range []string{"max_resolution", "maxResolution"} {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			cfg.MaxResolution = strings.ToUpper(strings.TrimSpace(s))
			break
		}
	}
	return cfg
}

// StatusMessage renders "Current: <res> • Quality <q> • Streaming|Idle"
// with the max resolution appended when known.
func (c *CameraConfig) StatusMessage() string {
	if c == nil {
		return ""
	}
	quality := "—"
	if c.Quality != nil {
		quality = strconv.Itoa(*c.Quality)
	}
	state := "Idle"
	if c.Running {
		state = "Streaming"
	}
	msg := fmt.Sprintf("Current: %s • Quality %s • %s", c.Resolution, quality, state)
	if c.MaxResolution != "" {
		msg += " • Max " + c.MaxResolution
	}
	return msg
}

// LoadCameraConfig fetches the camera configuration. While a load is in
// flight it returns the current configuration without a second request.
func (c *Console) LoadCameraConfig(ctx context.Context, silent bool) (*CameraConfig, error) {
	c.mu.Lock()
	if c.cameraLoading {
		cfg := c.cameraConfig
		c.mu.Unlock()
		return cfg, nil
	}
	c.cameraLoading = true
	if !silent {
		c.cameraStatus = StatusLine{Message: "Loading camera configuration…", Tone: toast.Info}
	}
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.cameraLoading = false
		c.mu.Unlock()
		c.changed()
	}()

	raw, err := c.client.CameraConfig(ctx)
	if err != nil {
		c.log.Printf("console: camera config fetch failed: %v", err)
		if !silent {
			c.setCameraStatus(errorText(err, "Failed to load camera settings"), toast.Error)
			c.toasts.Show("Failed to fetch camera settings: "+err.Error(), toast.Error)
		}
		return nil, err
	}

	cfg := NormalizeCameraConfig(raw)
	tone := toast.Info
	if cfg != nil && cfg.Running {
		tone = toast.Success
	}
	c.mu.Lock()
	c.cameraConfig = cfg
	c.cameraStatus = StatusLine{Message: cfg.StatusMessage(), Tone: tone}
	c.mu.Unlock()
	if !silent {
		c.toasts.Show("Camera settings refreshed", toast.Success)
	}
	return cfg, nil
}

// ApplyCameraConfig writes resolution and/or quality. An update with
// neither set sends nothing.
func (c *Console) ApplyCameraConfig(ctx context.Context, update api.CameraConfigUpdate) (*CameraConfig, error) {
	if update.Resolution == nil && update.Quality == nil {
		c.setCameraStatus("No changes to apply.", toast.Info)
		c.toasts.Show("No camera settings changes detected", toast.Info)
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.cameraConfig, nil
	}

	c.mu.Lock()
	if c.cameraUpdating {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.cameraUpdating = true
	c.cameraStatus = StatusLine{Message: "Applying camera settings…", Tone: toast.Info}
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.cameraUpdating = false
		c.mu.Unlock()
		c.changed()
	}()

	raw, err := c.client.SetCameraConfig(ctx, update)
	if err != nil {
		c.log.Printf("console: camera config update failed: %v", err)
		msg := errorText(err, "Failed to update camera settings")
		c.setCameraStatus(msg, toast.Error)
		c.toasts.Show(msg, toast.Error)
		return nil, err
	}

	cfg := NormalizeCameraConfig(raw)
	c.mu.Lock()
	c.cameraConfig = cfg
	c.cameraStatus = StatusLine{Message: "Camera settings updated", Tone: toast.Success}
	c.mu.Unlock()
	c.toasts.Show("Camera settings updated", toast.Success)

	c.settle(ctx, c.refreshInfo, c.refreshDiagnostics)
	return cfg, nil
}

// CameraBusy reports whether a camera config load or update is in flight.
func (c *Console) CameraBusy() (loading, updating bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraLoading, c.cameraUpdating
}

func (c *Console) setCameraStatus(message string, tone toast.Tone) {
	c.mu.Lock()
	c.cameraStatus = StatusLine{Message: message, Tone: tone}
	c.mu.Unlock()
	c.changed()
}

// parseInt reads a leading base-10 integer from a JSON number or string.
func parseInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		end := 0
		if end < len(s) && (s[end] == '-' || s[end] == '+') {
			end++
		}
		digits := end
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == digits {
			return 0, false
		}
		n, err := strconv.Atoi(s[:end])
		return n, err == nil
	}
	return 0, false
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	}
	return true
}
