package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/status"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/telemetry"
	"github.com/large-farva/operator-console/internal/transport"
)

// StatusReport is the fused view printed by the status command.
type StatusReport struct {
	Verdict     status.Verdict     `json:"verdict"`
	Header      status.Header      `json:"header"`
	Overview    transport.Overview `json:"overview"`
	ModeLabel   string             `json:"mode_label"`
	Diagnostics *api.Diagnostics   `json:"diagnostics,omitempty"`
	Info        *api.Info          `json:"info,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

// fetchStatus polls diagnostics, service info and the control transport
// once and fuses them the same way the live console does. The server link
// counts as lost only when no request got an HTTP answer.
func fetchStatus(baseURL string) StatusReport {
	client := newClient(baseURL)
	ctx, cancel := requestContext()
	defer cancel()

	var rep StatusReport
	reached := false
	note := func(what string, err error) {
		if api.StatusOf(err) != 0 {
			reached = true
		}
		rep.Errors = append(rep.Errors, what+": "+err.Error())
	}

	control := transport.Empty()
	hdr := status.Offline()

	if d, err := client.Diagnostics(ctx); err != nil {
		note("diagnostics", err)
	} else {
		reached = true
		rep.Diagnostics = d
		hdr = status.DeriveHeader(d)
	}
	if info, err := client.Info(ctx); err != nil {
		note("info", err)
	} else {
		reached = true
		rep.Info = info
		control = transport.Normalize(info.ControlPayload(), control)
	}
	if raw, err := client.ControlTransport(ctx); err != nil {
		note("control transport", err)
	} else {
		reached = true
		control = transport.NormalizeJSON(raw, control)
	}

	phase := stream.PhaseReady
	if !reached {
		phase = stream.PhaseDisconnected
	}
	rep.Header = hdr
	rep.Overview = transport.Summarize(control, hdr.Stale)
	rep.ModeLabel = transport.ModeLabel(control)
	rep.Verdict = status.Fuse(phase, hdr, rep.Overview)
	return rep
}

// Status fetches the robot status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")
	rep := fetchStatus(baseURL)

	if jsonOutput {
		return printJSON(rep)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  ROBOT STATUS"))
	fmt.Fprintln(stdout, rule(46))
	field("Status", colorize(toneColor(string(rep.Verdict.Tone)), rep.Verdict.Text))
	field("Mode", rep.ModeLabel)
	if p := rep.Overview.Primary; p != nil {
		field("Transport", transport.DisplayLabel(p, rep.Overview.Summary))
	} else {
		field("Transport", colorize(dim, "none available"))
	}

	if d := rep.Diagnostics; d != nil {
		serial := orDash(d.Serial.ActivePort)
		if serial == "-" {
			serial = orDash(d.Serial.RequestedPort)
		}
		field("Serial", serial+"  connected="+yesNo(d.Serial.Connected))
		field("Wi-Fi", orDash(d.Wifi.IP))
		if d.Uno.StateID != nil {
			field("UNO", fmt.Sprintf("state=%d err=%d seq=%d", *d.Uno.StateID, derefInt(d.Uno.ErrFlags), derefInt(d.Uno.SeqAck)))
		}
		if d.Meta != nil && d.Meta.StatusAgeS != nil {
			age := formatDuration(time.Duration(*d.Meta.StatusAgeS * float64(time.Second)))
			if rep.Header.Stale {
				age = colorize(yellow, age+" (stale)")
			}
			field("Status age", age)
		}
		if c := d.Camera; c.Streaming != nil {
			field("Camera", fmt.Sprintf("%s %s q=%d", onOff(*c.Streaming), orDash(c.Resolution), derefInt(c.Quality)))
		}

		if len(d.Status) > 0 {
			sample := telemetry.NewSample(time.Now(), d.Status)
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, header("  READINGS"))
			fmt.Fprintln(stdout, rule(46))
			for _, m := range telemetry.Metrics {
				v, ok := sample.Value(m.Key)
				if !ok {
					field(m.Label, "-")
					continue
				}
				field(m.Label, fmt.Sprintf("%g", v))
			}
		}
	}

	if len(rep.Overview.Transports) > 0 {
		fmt.Fprintln(stdout)
		printTransports(rep.Overview)
	}

	if len(rep.Errors) > 0 {
		fmt.Fprintln(stdout)
		for _, e := range rep.Errors {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(red, "!"), e)
		}
	}
	fmt.Fprintf(stdout, "\n  %s\n\n", colorize(dim, baseURL))

	return nil
}

// Diagnostics prints the raw diagnostics document.
func Diagnostics(baseURL string) error {
	ctx, cancel := requestContext()
	defer cancel()
	d, err := newClient(baseURL).Diagnostics(ctx)
	if err != nil {
		return err
	}
	return printJSON(d)
}

// Info prints the service info document.
func Info(baseURL string) error {
	ctx, cancel := requestContext()
	defer cancel()
	info, err := newClient(baseURL).Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func onOff(b bool) string {
	if b {
		return colorize(green, "streaming")
	}
	return colorize(dim, "paused")
}
