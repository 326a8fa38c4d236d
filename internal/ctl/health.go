package ctl

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Health checks backend liveness via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	healthy := status == 200

	// The simulator answers with detail; a plain backend just says ok.
	var detail struct {
		RobotOnline   *bool          `json:"robot_online"`
		UptimeSeconds int64          `json:"uptime_seconds"`
		Clients       map[string]int `json:"ws_clients"`
	}
	hasDetail := json.Unmarshal(body, &detail) == nil && detail.RobotOnline != nil

	if jsonOutput {
		resp := map[string]any{"healthy": healthy, "url": baseURL}
		if hasDetail {
			resp["robot_online"] = *detail.RobotOnline
			resp["uptime_seconds"] = detail.UptimeSeconds
			resp["ws_clients"] = detail.Clients
		}
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	if healthy {
		fmt.Fprintf(stdout, "  %s  backend is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(stdout, "  %s  backend returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}
	if hasDetail {
		field("Robot", yesNo(*detail.RobotOnline))
		field("Uptime", formatDuration(time.Duration(detail.UptimeSeconds)*time.Second))
		for _, name := range []string{"telemetry", "camera", "logs"} {
			if n, ok := detail.Clients[name]; ok {
				field("WS "+name, fmt.Sprintf("%d client(s)", n))
			}
		}
	}
	fmt.Fprintln(stdout)

	return nil
}
