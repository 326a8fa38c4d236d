package ctl

import (
	"fmt"

	"github.com/large-farva/operator-console/internal/operator"
)

// Wifi shows the Wi-Fi control settings, or applies changes when any field
// in changes is set. An empty value clears the override.
func Wifi(baseURL string, changes operator.WifiChanges, jsonOutput bool) error {
	client := newClient(baseURL)
	ctx, cancel := requestContext()
	defer cancel()

	payload := changes.Payload()
	var (
		raw map[string]any
		err error
	)
	if len(payload) > 0 {
		raw, err = client.SetWifiConfig(ctx, payload)
	} else {
		raw, err = client.WifiConfig(ctx)
	}
	if err != nil {
		return err
	}

	cfg := operator.NormalizeWifiConfig(raw)
	if jsonOutput {
		return printJSON(cfg)
	}

	fmt.Fprintln(stdout)
	if len(payload) > 0 {
		fmt.Fprintf(stdout, "  %s  Wi-Fi settings updated\n\n", colorize(green, "OK"))
	}
	fmt.Fprintln(stdout, header("  WI-FI CONTROL LINK"))
	fmt.Fprintln(stdout, rule(46))
	tone := yellow
	if cfg.TransportAvailable {
		tone = green
	}
	fmt.Fprintf(stdout, "  %s\n\n", colorize(tone, cfg.StatusMessage()))
	field("MAC", dashIfEmpty(cfg.MACAddress))
	field("MAC prefix", dashIfEmpty(cfg.MACPrefix))
	field("IP", dashIfEmpty(cfg.IPAddress))
	port := "-"
	if cfg.WSPort != nil {
		port = fmt.Sprint(*cfg.WSPort)
	}
	field("WS port", port)
	field("WS path", dashIfEmpty(cfg.WSPath))
	field("Discovery", yesNo(cfg.AutoDiscovery))
	fmt.Fprintln(stdout)
	return nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
