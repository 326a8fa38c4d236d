// Opctl is the command-line client for the robot operator console. It
// queries and controls the robot backend over HTTP, follows its WebSocket
// streams, and runs the full interactive console in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/ctl"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/metrics"
	"github.com/large-farva/operator-console/internal/operator"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults apply when empty)")
		host       = pflag.StringP("host", "H", "", "Backend URL, overrides server.base_url (e.g. http://192.168.4.2:8000)")
		jsonOut    = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: config:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.BaseURL = strings.TrimRight(*host, "/")
	}
	base := cfg.Server.BaseURL

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]
	cmdOpts := ctl.CommandOptions{JSON: *jsonOut}

	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(base, *jsonOut)

	case "health":
		err = ctl.Health(base, *jsonOut)

	case "version":
		err = ctl.VersionInfo(base, *jsonOut)

	case "diagnostics":
		err = ctl.Diagnostics(base)

	case "info":
		err = ctl.Info(base)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut, Filter: logs.Filter{Source: logs.All, Device: logs.All, Parameter: logs.All}}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.IntVar(&opts.Limit, "limit", 200, "Number of entries to fetch (1-1000)")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log entries")
		logFlags.StringVar(&opts.Filter.Source, "source", logs.All, "Filter by source (esp32, arduino)")
		logFlags.StringVar(&opts.Filter.Device, "device", logs.All, "Filter by device (wifi, camera, telemetry, ...)")
		logFlags.StringVar(&opts.Filter.Parameter, "param", logs.All, "Filter by parameter name")
		logFlags.StringVar(&opts.Filter.Search, "search", "", "Free-text search")
		if err = logFlags.Parse(subArgs); err == nil {
			err = ctl.Logs(ctx, base, opts)
		}

	// ── Control commands ──────────────────────────────────────────
	case "command", "cmd":
		cmdFlags := pflag.NewFlagSet("command", pflag.ContinueOnError)
		cmdFlags.BoolVar(&cmdOpts.RaiseOnError, "raise", false, "Fail when the firmware answers with an error line")
		if err = cmdFlags.Parse(subArgs); err == nil {
			err = ctl.Command(base, strings.Join(cmdFlags.Args(), " "), cmdOpts)
		}

	case "start":
		err = ctl.Start(base, strings.Join(subArgs, " "), cmdOpts)

	case "brake":
		brakeFlags := pflag.NewFlagSet("brake", pflag.ContinueOnError)
		brakeFlags.BoolVarP(&cmdOpts.Yes, "yes", "y", false, "Skip the confirmation prompt")
		if err = brakeFlags.Parse(subArgs); err == nil {
			err = ctl.Brake(base, cmdOpts)
		}

	case "transport":
		mode := ""
		if len(subArgs) > 0 {
			mode = subArgs[0]
		}
		err = ctl.Transport(base, mode, *jsonOut)

	case "camera":
		err = camera(base, subArgs, *jsonOut, cmdOpts)

	case "wifi":
		var changes operator.WifiChanges
		wifiFlags := pflag.NewFlagSet("wifi", pflag.ContinueOnError)
		mac := wifiFlags.String("mac", "", "ESP32 MAC address (empty clears)")
		prefix := wifiFlags.String("prefix", "", "MAC prefix used for discovery")
		ip := wifiFlags.String("ip", "", "Static ESP32 IP (empty re-enables discovery)")
		port := wifiFlags.String("port", "", "Control WebSocket port")
		path := wifiFlags.String("path", "", "Control WebSocket path")
		if err = wifiFlags.Parse(subArgs); err == nil {
			// Only flags given on the command line are sent.
			wifiFlags.Visit(func(f *pflag.Flag) {
				switch f.Name {
				case "mac":
					changes.MACAddress = mac
				case "prefix":
					changes.MACPrefix = prefix
				case "ip":
					changes.IPAddress = ip
				case "port":
					changes.WSPort = port
				case "path":
					changes.WSPath = path
				}
			})
			err = ctl.Wifi(base, changes, *jsonOut)
		}

	case "shelf":
		opts := ctl.ShelfOptions{JSON: *jsonOut}
		shelfFlags := pflag.NewFlagSet("shelf", pflag.ContinueOnError)
		shelfFlags.StringVar(&opts.Set, "set", "", `New layout, e.g. "R,G,B; Y,W,K; -,-,-"`)
		shelfFlags.BoolVar(&opts.Reset, "reset", false, "Restore the firmware default layout")
		shelfFlags.BoolVar(&opts.Persist, "persist", false, "Save the change to flash")
		shelfFlags.BoolVarP(&opts.Yes, "yes", "y", false, "Skip the reset confirmation")
		if err = shelfFlags.Parse(subArgs); err == nil {
			err = ctl.Shelf(base, opts)
		}

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{
			Filter:         logs.Filter{Source: logs.All, Device: logs.All, Parameter: logs.All},
			JSON:           *jsonOut,
			ReconnectDelay: cfg.Streams.TelemetryReconnect(),
		}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Streams, "stream", nil, "Streams to follow (telemetry, logs, camera)")
		if err = watchFlags.Parse(subArgs); err == nil {
			err = ctl.Watch(ctx, base, opts)
		}

	case "console":
		err = console(ctx, cfg)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func camera(base string, args []string, jsonOut bool, cmdOpts ctl.CommandOptions) error {
	if len(args) > 0 {
		switch args[0] {
		case "on", "off":
			return ctl.CameraStream(base, args[0] == "on", cmdOpts)
		case "snapshot":
			path := "snapshot.png"
			if len(args) > 1 {
				path = args[1]
			}
			return ctl.Snapshot(base, path, jsonOut)
		}
	}
	opts := ctl.CameraOptions{JSON: jsonOut}
	camFlags := pflag.NewFlagSet("camera", pflag.ContinueOnError)
	camFlags.StringVar(&opts.Resolution, "resolution", "", "Frame size (QQVGA, QVGA, VGA, SVGA, ...)")
	camFlags.IntVar(&opts.Quality, "quality", 0, "JPEG quality (lower is sharper)")
	if err := camFlags.Parse(args); err != nil {
		return err
	}
	return ctl.Camera(base, opts)
}

// console runs the interactive console, serving /metrics on the side when
// metrics.bind is set.
func console(ctx context.Context, cfg config.Config) error {
	logger, cleanup, err := cfg.Logging.NewLogger("opctl ")
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Metrics.Bind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Printf("metrics: serving on http://%s/metrics", cfg.Metrics.Bind)
	}

	return ctl.Console(ctx, ctl.ConsoleOptions{Cfg: cfg, Logger: logger})
}

func usage() {
	fmt.Print(`
  opctl — robot operator console CLI

  USAGE
    opctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show the fused robot status, transports and readings
    health          Check backend liveness
    version         Show CLI and backend version information
    diagnostics     Print the raw diagnostics document
    info            Print the service info document
    logs            Show recent robot log entries

  COMMANDS (control)
    command TEXT    Send a raw CLI line to the robot
    start [TASK]    Send START, optionally with a task id
    brake           Emergency stop (asks for confirmation)
    transport [M]   Show transports, or switch mode (auto, wifi, serial)
    camera          Show or change camera settings
    camera on|off   Turn the camera stream on or off
    camera snapshot [FILE]
                    Save one still frame (default snapshot.png)
    wifi            Show or change the Wi-Fi control link settings
    shelf           Show or change the shelf map

  COMMANDS (live)
    watch           Follow telemetry, log and camera streams (Ctrl-C to stop)
    console         Interactive operator console

  GLOBAL FLAGS
    -c, --config PATH   Config TOML (server, streams, toasts, metrics, ...)
    -H, --host URL      Backend base URL (overrides server.base_url)
        --json          Output raw JSON instead of formatted text

  COMMAND FLAGS
    command:
        --raise             Fail when the firmware answers with an error

    brake:
        -y, --yes           Skip the confirmation prompt

    camera:
        --resolution RES    Frame size (QQVGA .. UXGA, capped by the sensor)
        --quality N         JPEG quality, lower is sharper

    wifi:
        --mac, --prefix, --ip, --port, --path
                            Override a field; an empty value clears it

    shelf:
        --set "GRID"        New layout, rows separated by ";"
        --reset             Restore the default layout (asks first)
        --persist           Save to flash
        -y, --yes           Skip the reset confirmation

    watch:
        --stream NAME       telemetry, logs, camera (comma-separated;
                            default telemetry,logs)

    logs:
        --limit N           Entries to fetch (default 200, max 1000)
        --tail              Stream live entries
        --source, --device, --param, --search
                            Filter entries

  EXAMPLES
    opctl status
    opctl --json status
    opctl --host http://192.168.4.2:8000 watch --stream telemetry
    opctl start pick-3
    opctl brake
    opctl command CAMCFG ?
    opctl transport wifi
    opctl camera --resolution VGA --quality 20
    opctl camera snapshot frame.png
    opctl wifi --ip 192.168.4.23 --port 81
    opctl wifi --ip ""
    opctl shelf --set "R,G,B; Y,W,K; -,-,-" --persist
    opctl shelf --reset
    opctl logs --device wifi --limit 50
    opctl logs --tail --source arduino
    opctl console

`)
}
