package ctl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/telemetry"
)

// Stream names accepted by watch.
const (
	StreamTelemetry = "telemetry"
	StreamLogs      = "logs"
	StreamCamera    = "camera"
)

// Battery range used for the charge bar.
const (
	vbattEmptyMV = 6600
	vbattFullMV  = 8400
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Streams        []string    // streams to follow (empty = telemetry and logs)
	Filter         logs.Filter // applied to log entries
	JSON           bool        // output raw JSON per message
	ReconnectDelay time.Duration
}

// watcher serializes output from the per-stream goroutines.
type watcher struct {
	mu   sync.Mutex
	opts WatchOptions
}

// Watch follows the backend's WebSocket streams and prints every message in
// a human-readable format until ctx is cancelled. Dropped sockets are
// redialed after ReconnectDelay.
func Watch(ctx context.Context, baseURL string, opts WatchOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")
	streams := opts.Streams
	if len(streams) == 0 {
		streams = []string{StreamTelemetry, StreamLogs}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}

	w := &watcher{opts: opts}
	var links []*stream.Link
	for _, name := range streams {
		if !slices.Contains([]string{StreamTelemetry, StreamLogs, StreamCamera}, name) {
			return fmt.Errorf("unknown stream %q (want telemetry, logs or camera)", name)
		}
		u, err := stream.WSURL(baseURL, "/ws/"+name)
		if err != nil {
			return err
		}
		links = append(links, stream.NewLink(stream.LinkOptions{
			Name:           "watch-" + name,
			URL:            u,
			ReconnectDelay: opts.ReconnectDelay,
			OnMessage:      func(msg []byte) { w.render(name, msg) },
			OnState:        func(s stream.State) { w.state(name, u, s) },
		}))
	}

	if !opts.JSON {
		w.printf("\n  %s %s\n", colorize(dim, "watching"), strings.Join(streams, ", "))
		w.printf("%s\n\n", rule(50))
	}
	for _, l := range links {
		l.Connect()
	}

	<-ctx.Done()
	for _, l := range links {
		l.Disconnect()
	}
	if !opts.JSON {
		w.printf("\n%s\n", colorize(dim, "  disconnecting..."))
	}
	return nil
}

func (w *watcher) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

func (w *watcher) state(name, url string, s stream.State) {
	if w.opts.JSON {
		return
	}
	switch s {
	case stream.Open:
		w.printf("  %s %s %s\n", colorize(green, "connected"), padRight(name, 9), colorize(dim, url))
	case stream.ReconnectScheduled:
		w.printf("  %s %s %s\n", colorize(yellow, "lost     "), padRight(name, 9),
			colorize(dim, "retrying in "+w.opts.ReconnectDelay.String()))
	}
}

// render prints one stream message. Unparseable messages are shown raw.
func (w *watcher) render(name string, raw []byte) {
	if name == StreamLogs {
		w.renderLogs(raw)
		return
	}
	if w.opts.JSON {
		w.printf("%s\n", raw)
		return
	}
	ts := colorize(dim, time.Now().Format("15:04:05"))

	switch name {
	case StreamTelemetry:
		var msg telemetry.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.printf("  %s %s\n", ts, raw)
			return
		}
		if msg.Error != "" {
			w.printf("  %s %s  %s\n", ts, colorize(red, "robot"), colorize(red, msg.Error))
			return
		}
		w.printf("  %s %s  %s\n", ts, colorize(cyan, "tlm  "), formatSample(telemetry.NewSample(time.Now(), msg.Data)))

	case StreamCamera:
		var msg telemetry.CameraMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.printf("  %s %s\n", ts, raw)
			return
		}
		switch msg.Type {
		case telemetry.CameraFrame:
			size := int64(base64.StdEncoding.DecodedLen(len(msg.Payload)))
			w.printf("  %s %s  frame %s %s\n", ts, colorize(blue, "cam  "), msg.Mime, formatBytes(size))
		case telemetry.CameraError:
			w.printf("  %s %s  %s\n", ts, colorize(blue, "cam  "), colorize(red, msg.Message))
		default:
			w.printf("  %s %s  %s\n", ts, colorize(blue, "cam  "), raw)
		}
	}
}

// renderLogs prints the entries of a log batch that pass the filter,
// oldest first.
func (w *watcher) renderLogs(raw []byte) {
	entries, _, err := logs.Decode(raw)
	if err != nil {
		if !w.opts.JSON {
			w.printf("  %s\n", raw)
		}
		return
	}
	entries = logs.Apply(entries, w.opts.Filter, logs.Sort{Column: "timestamp", Ascending: true})
	for _, e := range entries {
		if w.opts.JSON {
			b, _ := json.Marshal(e)
			w.printf("%s\n", b)
			continue
		}
		w.printf("%s\n", formatEntry(e))
	}
}

// formatSample renders the fixed readings on one line with a battery bar.
func formatSample(s telemetry.Sample) string {
	var parts []string
	for _, m := range telemetry.Metrics {
		v, ok := s.Value(m.Key)
		text := "-"
		if ok {
			text = fmt.Sprintf("%g", v)
		}
		parts = append(parts, colorize(dim, m.Key+"=")+text)
	}
	if v, ok := s.Value("vbatt_mV"); ok {
		pct := int((v - vbattEmptyMV) * 100 / (vbattFullMV - vbattEmptyMV))
		parts = append(parts, "["+progressBar(pct, 10)+"]")
	}
	return strings.Join(parts, " ")
}

// formatEntry renders one log entry as "time source device key=value".
func formatEntry(e logs.Entry) string {
	t := time.Unix(0, int64(e.Timestamp*1e9)).Local().Format("15:04:05")
	body := e.Raw
	if e.Parameter != "" {
		body = e.Parameter + "=" + logs.ValueText(e.Value)
	}
	return fmt.Sprintf("  %s %s %s %s",
		colorize(dim, t),
		formatSource(e.Source),
		colorize(dim, padRight(e.Device, 10)),
		body,
	)
}

// formatSource returns a colored, fixed-width source label.
func formatSource(source string) string {
	label := padRight(source, 7)
	switch source {
	case "esp32":
		return colorize(cyan, label)
	case "arduino":
		return colorize(green, label)
	default:
		return label
	}
}
