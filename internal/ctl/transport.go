package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/transport"
)

// Transport shows the control transports, or switches the control mode when
// mode is non-empty.
func Transport(baseURL, mode string, jsonOutput bool) error {
	client := newClient(baseURL)
	ctx, cancel := requestContext()
	defer cancel()

	var (
		raw []byte
		err error
	)
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "" {
		raw, err = client.SetControlTransport(ctx, mode)
	} else {
		raw, err = client.ControlTransport(ctx)
	}
	if err != nil {
		return err
	}

	state := transport.NormalizeJSON(raw, transport.Empty())
	ov := transport.Summarize(state, false)
	if jsonOutput {
		return printJSON(map[string]any{"state": state, "overview": ov})
	}

	fmt.Fprintln(stdout)
	if mode != "" {
		fmt.Fprintf(stdout, "  %s  control mode set to %s\n\n", colorize(green, "OK"), transport.ModeLabel(state))
	}
	field("Mode", transport.ModeLabel(state))
	field("Active", orDash(state.Active))
	field("Endpoint", orDash(state.Endpoint))
	fmt.Fprintln(stdout)
	printTransports(ov)
	fmt.Fprintln(stdout)
	return nil
}

// printTransports renders the transport table.
func printTransports(ov transport.Overview) {
	fmt.Fprintln(stdout, header("  TRANSPORTS"))
	fmt.Fprintln(stdout, rule(70))
	fmt.Fprintf(stdout, "  %s %s %s %s\n",
		colorize(dim, padRight("ID", 8)),
		colorize(dim, padRight("LABEL", 10)),
		colorize(dim, padRight("UP", 5)),
		colorize(dim, "ENDPOINT / LAST"),
	)
	for _, d := range ov.Transports {
		marker := " "
		if ov.Primary != nil && ov.Primary.ID == d.ID {
			marker = colorize(green, "*")
		}
		up := colorize(red, padRight("no", 5))
		if d.Available {
			up = colorize(green, padRight("yes", 5))
		}
		last := ""
		switch {
		case d.LastError != nil && *d.LastError != "":
			last = colorize(red, *d.LastError)
		case d.LastSuccess != nil:
			last = colorize(dim, "ok "+formatDuration(time.Since(*d.LastSuccess))+" ago")
		}
		fmt.Fprintf(stdout, " %s%s %s %s %s %s\n", marker, padRight(d.ID, 8), padRight(d.Label, 10), up, orDash(d.Endpoint), last)
	}
}
