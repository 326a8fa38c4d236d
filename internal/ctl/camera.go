package ctl

import (
	"fmt"
	"os"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/operator"
)

// CameraOptions controls the camera command. With neither Resolution nor
// Quality set the current configuration is shown.
type CameraOptions struct {
	Resolution string
	Quality    int // 0 leaves quality unchanged
	JSON       bool
}

// Camera shows or updates the camera configuration.
func Camera(baseURL string, opts CameraOptions) error {
	client := newClient(baseURL)
	ctx, cancel := requestContext()
	defer cancel()

	var (
		raw map[string]any
		err error
	)
	update := api.CameraConfigUpdate{}
	if r := strings.ToUpper(strings.TrimSpace(opts.Resolution)); r != "" {
		update.Resolution = &r
	}
	if opts.Quality != 0 {
		q := opts.Quality
		update.Quality = &q
	}
	changing := update.Resolution != nil || update.Quality != nil
	if changing {
		raw, err = client.SetCameraConfig(ctx, update)
	} else {
		raw, err = client.CameraConfig(ctx)
	}
	if err != nil {
		return err
	}

	cfg := operator.NormalizeCameraConfig(raw)
	if opts.JSON {
		return printJSON(cfg)
	}
	if cfg == nil {
		return fmt.Errorf("camera returned no configuration")
	}

	fmt.Fprintln(stdout)
	if changing {
		fmt.Fprintf(stdout, "  %s  camera settings updated\n\n", colorize(green, "OK"))
	}
	fmt.Fprintln(stdout, header("  CAMERA"))
	fmt.Fprintln(stdout, rule(46))
	fmt.Fprintf(stdout, "  %s\n\n", cfg.StatusMessage())
	field("Quality", fmt.Sprintf("%d..%d (lower is sharper)", cfg.QualityMin, cfg.QualityMax))
	var options []string
	for _, r := range cfg.AvailableResolutions {
		label := r.Label
		if r.Value == cfg.Resolution {
			label = colorize(green, label+" *")
		} else if r.Unsupported {
			label = colorize(dim, label+" (unsupported)")
		}
		options = append(options, label)
	}
	if len(options) > 0 {
		field("Options", options[0])
		for _, o := range options[1:] {
			fmt.Fprintf(stdout, "  %s %s\n", padRight("", 12), o)
		}
	}
	fmt.Fprintln(stdout)
	return nil
}

// CameraStream turns the robot's camera stream on or off.
func CameraStream(baseURL string, on bool, opts CommandOptions) error {
	command := "CAMSTREAM OFF"
	if on {
		command = "CAMSTREAM ON"
	}
	opts.RaiseOnError = true
	return send(baseURL, command, opts)
}

// Snapshot saves one still frame from GET /api/camera/snapshot to path.
func Snapshot(baseURL, path string, jsonOutput bool) error {
	status, body, err := getRaw(baseURL, "/api/camera/snapshot")
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("snapshot failed: HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if jsonOutput {
		return printJSON(map[string]any{"path": path, "bytes": len(body)})
	}
	fmt.Fprintf(stdout, "\n  %s  saved %s to %s\n\n", colorize(green, "OK"), formatBytes(int64(len(body))), path)
	return nil
}
