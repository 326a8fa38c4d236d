package ctl

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/operator"
	"github.com/large-farva/operator-console/internal/shelfmap"
	"github.com/large-farva/operator-console/internal/transport"
)

// ConsoleOptions configures the interactive console.
type ConsoleOptions struct {
	Cfg    config.Config
	Logger *log.Logger
}

// repl drives one operator.Console from terminal input. Toasts, status
// changes and confirmation prompts are printed as they happen.
type repl struct {
	ctx context.Context
	con *operator.Console

	mu          sync.Mutex
	lastToast   int64
	lastVerdict string
	confirming  bool
}

// Console runs the full console state core against the backend and reads
// operator commands from stdin until quit, EOF or ctx is cancelled.
func Console(ctx context.Context, opts ConsoleOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan struct{}, 1)
	con, err := operator.New(operator.Options{
		Logger: opts.Logger,
		Cfg:    opts.Cfg,
		Client: api.New(opts.Cfg.Server.BaseURL, api.WithHTTPClient(httpClient)),
		OnChange: func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	runDone := make(chan error, 1)
	go func() { runDone <- con.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r := &repl{ctx: ctx, con: con}
	r.printf("\n%s\n%s\n", header("  OPERATOR CONSOLE"), rule(46))
	r.printf("  %s %s\n", colorize(dim, "backend:"), opts.Cfg.Server.BaseURL)
	r.printf("  %s\n\n", colorize(dim, "type help for commands, quit to exit"))

	for {
		select {
		case <-ctx.Done():
			return <-runDone
		case <-changes:
			r.refresh()
		case line, ok := <-lines:
			if !ok || r.handle(line) {
				cancel()
				return <-runDone
			}
		}
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

// refresh prints what changed since the last call: new toasts, a new
// status line and a newly opened confirmation.
func (r *repl) refresh() {
	snap := r.con.Snapshot()

	r.mu.Lock()
	var out []string
	if snap.Verdict.Text != r.lastVerdict {
		r.lastVerdict = snap.Verdict.Text
		out = append(out, fmt.Sprintf("  %s %s", colorize(dim, "status"), colorize(toneColor(string(snap.Verdict.Tone)), snap.Verdict.Text)))
	}
	for _, t := range snap.Toasts {
		if t.ID <= r.lastToast {
			continue
		}
		r.lastToast = t.ID
		out = append(out, fmt.Sprintf("  %s %s", colorize(toneColor(string(t.Tone)), "●"), t.Message))
	}
	switch {
	case snap.Confirm != nil && !r.confirming:
		r.confirming = true
		out = append(out, fmt.Sprintf("\n  %s\n  %s [y/N]", colorize(yellow, header(snap.Confirm.Title)), snap.Confirm.Message))
	case snap.Confirm == nil:
		r.confirming = false
	}
	r.mu.Unlock()

	if len(out) > 0 {
		r.printf("%s\n", strings.Join(out, "\n"))
	}
}

// handle runs one input line and reports whether the console should exit.
// While a confirmation is open the line answers it.
func (r *repl) handle(line string) bool {
	if _, pending := r.con.Gate().Pending(); pending {
		r.con.Gate().Resolve(isYes(line))
		return false
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	ctx, cancel := context.WithTimeout(r.ctx, 15*time.Second)
	defer cancel()

	switch verb {
	case "quit", "exit":
		return true
	case "help", "?":
		r.help()
	case "status":
		r.status()
	case "start":
		_ = r.con.StartTask(ctx, rest)
		r.output()
	case "cmd", "command":
		if rest == "" {
			r.printf("  usage: cmd <text>\n")
			break
		}
		if _, err := r.con.ExecuteRaw(ctx, rest); err == nil {
			r.output()
		}
	case "brake":
		// The gate blocks until the next input line answers it.
		r.async(func(ctx context.Context) {
			if sent, err := r.con.EmergencyBrake(ctx); sent && err == nil {
				r.output()
			}
		})
	case "mode":
		if len(args) != 1 {
			r.printf("  usage: mode auto|wifi|serial\n")
			break
		}
		_, _ = r.con.ChangeTransport(ctx, args[0], false)
	case "camera":
		r.camera(ctx, args)
	case "wifi":
		r.wifi(ctx, args)
	case "shelf":
		r.shelf(ctx, args)
	case "logs":
		r.logs(ctx, args)
	case "sort":
		if len(args) == 1 {
			s := r.con.ToggleLogSort(args[0])
			r.printf("  sorted by %s (ascending=%t)\n", s.Column, s.Ascending)
		}
	case "filter":
		r.filter(args)
	case "toasts":
		for _, t := range r.con.Toasts().Visible() {
			r.printf("  %3d %s %s\n", t.ID, colorize(toneColor(string(t.Tone)), padRight(string(t.Tone), 8)), t.Message)
		}
	case "dismiss":
		for _, a := range args {
			if id, err := strconv.ParseInt(a, 10, 64); err == nil {
				r.con.Toasts().Dismiss(id)
			}
		}
	case "clear":
		r.con.ClearCommandOutput()
	default:
		r.printf("  unknown command %q (try help)\n", verb)
	}
	return false
}

// async runs fn on the console context so the input loop stays free to
// answer a confirmation.
func (r *repl) async(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, 2*time.Minute)
		defer cancel()
		fn(ctx)
	}()
}

func (r *repl) output() {
	if out := r.con.CommandOutput(); out != "" {
		r.printf("%s\n", indent(out))
	}
}

func (r *repl) status() {
	s := r.con.Snapshot()
	r.printf("  %s %s\n", colorize(dim, padRight("status", 10)), colorize(toneColor(string(s.Verdict.Tone)), s.Verdict.Text))
	r.printf("  %s %s\n", colorize(dim, padRight("mode", 10)), s.ModeLabel)
	if p := s.Overview.Primary; p != nil {
		r.printf("  %s %s\n", colorize(dim, padRight("link", 10)), transport.DisplayLabel(p, s.Overview.Summary))
	}
	r.printf("  %s %s\n", colorize(dim, padRight("telemetry", 10)), colorize(phaseColor(s.Phase), string(s.Phase)))
	if s.Latest != nil {
		r.printf("  %s %s\n", colorize(dim, padRight("readings", 10)), formatSample(*s.Latest))
	}
	if s.RobotError != "" {
		r.printf("  %s %s\n", colorize(dim, padRight("robot", 10)), colorize(red, s.RobotError))
	}
	cam := string(s.CameraPhase)
	if s.Camera.Frame != nil {
		cam += fmt.Sprintf(", last frame %s at %s", formatBytes(int64(len(s.Camera.Frame.Data))), s.Camera.Frame.Received.Format("15:04:05"))
	}
	if s.Camera.Error != "" {
		cam += ", " + colorize(red, s.Camera.Error)
	}
	r.printf("  %s %s\n", colorize(dim, padRight("camera", 10)), cam)
	r.printf("  %s %s, %d entries\n", colorize(dim, padRight("logs", 10)), s.LogPhase, s.LogCount)
}

func (r *repl) camera(ctx context.Context, args []string) {
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "":
		if cfg, err := r.con.LoadCameraConfig(ctx, true); err == nil && cfg != nil {
			r.printf("  %s\n", cfg.StatusMessage())
		}
	case "toggle":
		_ = r.con.Camera().ToggleStreaming(ctx)
	case "view":
		r.con.Camera().EnsureStream()
	case "hide":
		r.con.Camera().DisconnectSocket()
	case "set":
		if len(args) < 2 {
			r.printf("  usage: camera set <resolution> [quality]\n")
			return
		}
		res := strings.ToUpper(args[1])
		update := api.CameraConfigUpdate{Resolution: &res}
		if len(args) > 2 {
			q, err := strconv.Atoi(args[2])
			if err != nil {
				r.printf("  quality must be a number\n")
				return
			}
			update.Quality = &q
		}
		if cfg, err := r.con.ApplyCameraConfig(ctx, update); err == nil && cfg != nil {
			r.printf("  %s\n", cfg.StatusMessage())
		}
	default:
		r.printf("  usage: camera [toggle|view|hide|set <res> [q]]\n")
	}
}

// wifi shows the Wi-Fi settings, or applies key=value changes. Keys are
// mac, prefix, ip, port and path; an empty value clears the override.
func (r *repl) wifi(ctx context.Context, args []string) {
	if len(args) == 0 {
		if cfg, err := r.con.LoadWifiConfig(ctx, true); err == nil && cfg != nil {
			r.printf("  %s\n", cfg.StatusMessage())
		}
		return
	}
	var ch operator.WifiChanges
	for _, a := range args {
		key, value, ok := strings.Cut(a, "=")
		if !ok {
			r.printf("  expected key=value, got %q\n", a)
			return
		}
		v := value
		switch strings.ToLower(key) {
		case "mac":
			ch.MACAddress = &v
		case "prefix":
			ch.MACPrefix = &v
		case "ip":
			ch.IPAddress = &v
		case "port":
			ch.WSPort = &v
		case "path":
			ch.WSPath = &v
		default:
			r.printf("  unknown wifi field %q\n", key)
			return
		}
	}
	if cfg, err := r.con.ApplyWifiConfig(ctx, ch, false); err == nil && cfg != nil {
		r.printf("  %s\n", cfg.StatusMessage())
	}
}

func (r *repl) shelf(ctx context.Context, args []string) {
	persist := false
	var rest []string
	for _, a := range args {
		if a == "--persist" {
			persist = true
			continue
		}
		rest = append(rest, a)
	}
	sub := ""
	if len(rest) > 0 {
		sub = strings.ToLower(rest[0])
	}

	switch sub {
	case "":
		if m, err := r.con.ReloadShelfMap(ctx, true); err == nil && m != nil {
			r.mu.Lock()
			printShelf(m.Grid, m.Palette)
			r.mu.Unlock()
		}
	case "set":
		grid, err := shelfmap.ParseGrid(strings.Join(rest[1:], " "), shelfmap.Codes(r.con.ShelfPalette()))
		if err != nil {
			r.printf("  %s\n", colorize(red, err.Error()))
			return
		}
		if m, err := r.con.UpdateShelfMap(ctx, grid, persist); err == nil && m != nil {
			r.mu.Lock()
			printShelf(m.Grid, m.Palette)
			r.mu.Unlock()
		}
	case "reset":
		r.async(func(ctx context.Context) {
			if m, err := r.con.ResetShelfMap(ctx, persist); err == nil && m != nil {
				r.mu.Lock()
				printShelf(m.Grid, m.Palette)
				r.mu.Unlock()
			}
		})
	default:
		r.printf("  usage: shelf [set \"R,G,B; Y,W,K; -,-,-\" | reset] [--persist]\n")
	}
}

// logs connects or disconnects the log stream, or prints the newest n
// entries of the filtered view.
func (r *repl) logs(ctx context.Context, args []string) {
	n := 20
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			r.con.Logs().Connect()
			return
		case "off":
			r.con.Logs().Disconnect()
			return
		case "fetch":
			_ = r.con.Logs().FetchSnapshot(ctx, 0, true)
			return
		}
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	view := r.con.LogView()
	if len(view) > n {
		view = view[:n]
	}
	for _, e := range view {
		r.printf("%s\n", formatEntry(e))
	}
	if len(view) == 0 {
		r.printf("  %s\n", colorize(dim, "no entries (logs on to stream, logs fetch for a snapshot)"))
	}
}

// filter sets the log view filter from key=value pairs; no arguments
// clears it.
func (r *repl) filter(args []string) {
	f := logs.Filter{Source: logs.All, Device: logs.All, Parameter: logs.All}
	for _, a := range args {
		key, value, ok := strings.Cut(a, "=")
		if !ok {
			f.Search = strings.TrimSpace(f.Search + " " + a)
			continue
		}
		switch strings.ToLower(key) {
		case "source":
			f.Source = value
		case "device":
			f.Device = value
		case "param", "parameter":
			f.Parameter = value
		case "search":
			f.Search = value
		}
	}
	r.con.SetLogFilter(f)
}

func (r *repl) help() {
	r.printf(`
  status                          fused status, readings, streams
  start [task]                    send START
  brake                           emergency stop (asks first)
  cmd <text>                      send a raw CLI command
  mode auto|wifi|serial           switch the control transport
  camera [toggle|view|hide]       camera settings and stream
  camera set <res> [quality]      change resolution and quality
  wifi [ip=.. port=.. path=..]    show or change Wi-Fi settings
  shelf [set "<grid>"|reset] [--persist]
  logs [n|on|off|fetch]           show or stream robot logs
  filter [source=.. device=.. param=.. text]
  sort <column>                   timestamp, source, device, parameter, value
  toasts | dismiss <id>           notifications
  clear                           clear command output
  quit

`)
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
