// Package sim is a simulated robot backend. It serves the same REST and
// WebSocket surface the console talks to, backed by an in-memory firmware
// model, so the console and CLI can be exercised end to end without
// hardware.
package sim

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/metrics"
	"github.com/large-farva/operator-console/internal/ws"
)

// logCapacity bounds the simulator's own log history.
const logCapacity = 1000

// Options holds everything the Server needs from the caller.
type Options struct {
	Logger *log.Logger
	Cfg    config.Config
	Bind   string
}

// Server is the simulated backend: the HTTP router, one hub per stream and
// the robot model they share.
type Server struct {
	log       *log.Logger
	cfg       config.Config
	bind      string
	startedAt time.Time

	telemetryHub *ws.Hub
	cameraHub    *ws.Hub
	logHub       *ws.Hub

	mu         sync.Mutex
	robot      *robot
	wifi       wifiSettings
	mode       string
	logBuf     *logs.Buffer
	lastStatus time.Time
	lastError  string
}

// New creates a Server with the robot online. Call Run to serve, or mount
// Handler directly.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		log:          logger,
		cfg:          opts.Cfg,
		bind:         opts.Bind,
		startedAt:    time.Now(),
		telemetryHub: ws.NewHub("telemetry"),
		cameraHub:    ws.NewHub("camera"),
		logHub:       ws.NewHub("logs"),
		robot:        newRobot(),
		wifi:         defaultWifi(),
		mode:         "auto",
		logBuf:       logs.NewBuffer(logCapacity),
	}
	s.logHub.Greet = func() []any {
		return []any{logs.Message{Type: "snapshot", Entries: s.recentLogs(logCapacity)}}
	}
	return s
}

// Handler returns the router with every REST, WebSocket and ops route.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	api.HandleFunc("/control/transport", s.handleControlTransport).Methods(http.MethodGet)
	api.HandleFunc("/control/transport", s.handleSetControlTransport).Methods(http.MethodPost)
	api.HandleFunc("/control/wifi", s.handleWifi).Methods(http.MethodGet)
	api.HandleFunc("/control/wifi", s.handleSetWifi).Methods(http.MethodPost)
	api.HandleFunc("/camera/config", s.handleCameraConfig).Methods(http.MethodGet)
	api.HandleFunc("/camera/config", s.handleSetCameraConfig).Methods(http.MethodPost)
	api.HandleFunc("/camera/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/shelf-map", s.handleShelfMap).Methods(http.MethodGet)
	api.HandleFunc("/shelf-map", s.handleSetShelfMap).Methods(http.MethodPut)
	api.HandleFunc("/shelf-map/reset", s.handleResetShelfMap).Methods(http.MethodPost)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	r.Handle("/ws/telemetry", s.telemetryHub.Handler())
	r.Handle("/ws/camera", s.cameraHub.Handler())
	r.Handle("/ws/logs", s.logHub.Handler())
	return r
}

// Start runs the hubs and the telemetry, camera and log producers until ctx
// is cancelled. Run calls it; tests that mount Handler on their own server
// call it directly.
func (s *Server) Start(ctx context.Context) {
	go s.telemetryHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.logHub.Run(ctx)

	go s.every(ctx, ms(s.cfg.Sim.TelemetryIntervalMS), s.pushTelemetry)
	go s.every(ctx, ms(s.cfg.Sim.CameraIntervalMS), s.pushFrame)
	go s.every(ctx, ms(s.cfg.Sim.LogIntervalMS), s.pushChatter)
}

// Run serves on the configured bind address until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	bind := s.bind
	if bind == "" {
		bind = s.cfg.Sim.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8000"
	}

	server := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	s.log.Printf("listening on http://%s", ln.Addr())

	s.Start(ctx)
	s.emitLine("[esp32] boot complete fw=sim-" + s.startedAt.UTC().Format("20060102"))

	go func() {
		<-ctx.Done()
		s.log.Printf("shutdown requested")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// every calls fn on a ticker until ctx is cancelled.
func (s *Server) every(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// run executes a command against the robot and tracks status freshness.
// Unless quiet, the exchange is recorded in the log history.
func (s *Server) run(command string, quiet bool) ([]string, map[string]any, error) {
	s.mu.Lock()
	lines, err := s.robot.execute(command)
	if errors.Is(err, ErrOffline) {
		s.lastError = err.Error()
	} else if len(lines) > 0 {
		s.lastStatus = time.Now()
		s.lastError = ""
	}
	s.mu.Unlock()

	if !quiet {
		s.emitLine("[cli] > " + command)
		for _, line := range lines {
			s.emitLine("[cli] " + line)
		}
	}
	return lines, parseReply(lines), err
}

// statusFreshLocked reports whether a reply arrived within the last few
// polls. s.mu must be held.
func (s *Server) statusFreshLocked() bool {
	if s.lastStatus.IsZero() || !s.robot.online {
		return false
	}
	window := 3 * ms(s.cfg.Sim.TelemetryIntervalMS)
	if window < 5*time.Second {
		window = 5 * time.Second
	}
	return time.Since(s.lastStatus) <= window
}

// emitLine structures one firmware line, stores it and pushes it to the
// log stream.
func (s *Server) emitLine(line string) {
	entries := logs.ParseLine(time.Now(), line)
	if len(entries) == 0 {
		return
	}
	for i := range entries {
		entries[i].ID = uuid.NewString()
	}
	s.mu.Lock()
	s.logBuf.Merge(entries)
	s.mu.Unlock()
	s.logHub.BroadcastJSON(logs.Message{Type: "log", Entries: entries})
}

func (s *Server) recentLogs(limit int) []logs.Entry {
	s.mu.Lock()
	entries := s.logBuf.Entries()
	s.mu.Unlock()
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
