package ctl

import (
	"fmt"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// VersionInfo fetches backend version via GET /api/version and displays both
// the CLI and backend version information.
func VersionInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var backend struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	backendErr := getJSON(baseURL, "/api/version", &backend)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"go_version": GoVersion,
			},
		}
		if backendErr == nil {
			resp["backend"] = backend
		} else {
			resp["backend_error"] = backendErr.Error()
		}
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  OPERATOR CONSOLE VERSION"))
	fmt.Fprintln(stdout, rule(38))
	field("CLI", Version+" ("+GoVersion+")")
	if backendErr != nil {
		field("Backend", colorize(red, "unreachable: "+backendErr.Error()))
	} else {
		field("Backend", backend.Version+" ("+backend.GoVersion+")")
		field("Built", backend.BuiltAt)
	}
	fmt.Fprintln(stdout)

	return nil
}
