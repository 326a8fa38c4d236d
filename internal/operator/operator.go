// Package operator is the console's state core. It owns the REST client,
// the three stream managers, the toast queue and the confirmation gate,
// polls the backend, and exposes every operator action as a method. Views
// render Snapshot and call actions; nothing else talks to the network.
package operator

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/confirm"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/shelfmap"
	"github.com/large-farva/operator-console/internal/status"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/telemetry"
	"github.com/large-farva/operator-console/internal/toast"
	"github.com/large-farva/operator-console/internal/transport"
)

// ErrBusy is returned when the same action is already in flight.
var ErrBusy = stream.ErrBusy

// StatusLine is an inline message shown next to a settings form.
type StatusLine struct {
	Message string     `json:"message"`
	Tone    toast.Tone `json:"tone"`
}

// Options holds everything the Console needs from the caller.
type Options struct {
	Logger *log.Logger
	Cfg    config.Config
	// Client overrides the REST client built from Cfg.Server.BaseURL.
	Client *api.Client
	// OnChange is called without locks held whenever observable state changes.
	OnChange func()
}

// Console is the operator state core. It is safe for concurrent use.
type Console struct {
	log      *log.Logger
	cfg      config.Config
	client   *api.Client
	onChange func()

	toasts    *toast.Queue
	gate      *confirm.Gate
	telemetry *stream.Telemetry
	camera    *stream.Camera
	logs      *stream.Logs

	bg     context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once

	mu             sync.Mutex
	diagnostics    *api.Diagnostics
	info           *api.Info
	header         status.Header
	control        transport.ControlState
	controlPending bool
	commandOutput  string
	braking        bool
	cameraConfig   *CameraConfig
	cameraStatus   StatusLine
	cameraLoading  bool
	cameraUpdating bool
	wifiConfig     *WifiConfig
	wifiStatus     StatusLine
	wifiLoading    bool
	wifiSaving     bool
	shelf          *ShelfMap
	shelfPalette   []shelfmap.PaletteEntry
	shelfStatus    StatusLine
	shelfBusy      bool
	logFilter      logs.Filter
	logSort        logs.Sort
}

// New builds a Console with idle streams. Call Run to start polling and
// the telemetry stream.
func New(opts Options) (*Console, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	client := opts.Client
	if client == nil {
		client = api.New(opts.Cfg.Server.BaseURL)
	}

	c := &Console{
		log:          logger,
		cfg:          opts.Cfg,
		client:       client,
		onChange:     opts.OnChange,
		header:       status.Offline(),
		control:      transport.Empty(),
		shelfPalette: shelfmap.NormalizePalette(nil),
		logFilter:    logs.Filter{Source: logs.All, Device: logs.All, Parameter: logs.All},
		logSort:      logs.DefaultSort,
	}
	c.bg, c.stop = context.WithCancel(context.Background())

	c.toasts = toast.New(toast.Options{
		Duration:   opts.Cfg.Toasts.Duration(),
		MaxVisible: opts.Cfg.Toasts.MaxVisible,
		OnChange:   c.changed,
	})
	c.gate = confirm.New(c.changed)

	common := stream.Options{
		BaseURL:          client.BaseURL(),
		HandshakeTimeout: opts.Cfg.Streams.HandshakeTimeout(),
		Logger:           logger,
		Notifier:         c.toasts,
		OnChange:         c.changed,
	}

	var err error
	tOpts := common
	tOpts.ReconnectDelay = opts.Cfg.Streams.TelemetryReconnect()
	tOpts.OnChange = c.telemetryChanged
	c.telemetry, err = stream.NewTelemetry(stream.TelemetryOptions{
		Options:  tOpts,
		Capacity: opts.Cfg.Buffers.TelemetryPoints,
	})
	if err != nil {
		return nil, err
	}

	cOpts := common
	cOpts.ReconnectDelay = opts.Cfg.Streams.CameraReconnect()
	c.camera, err = stream.NewCamera(stream.CameraOptions{
		Options: cOpts,
		Send: func(ctx context.Context, command string) error {
			_, err := c.client.Command(ctx, command, true)
			return err
		},
		Refresh: func(ctx context.Context) {
			c.settle(ctx, c.refreshInfo, c.refreshDiagnostics)
		},
	})
	if err != nil {
		return nil, err
	}

	lOpts := common
	lOpts.ReconnectDelay = opts.Cfg.Streams.LogReconnect()
	c.logs, err = stream.NewLogs(stream.LogsOptions{
		Options:  lOpts,
		Capacity: opts.Cfg.Buffers.LogEntries,
		Source:   client,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Run performs the initial fetches, connects telemetry and polls until ctx
// is cancelled. It tears every stream down before returning.
func (c *Console) Run(ctx context.Context) error {
	defer c.Close()

	c.settle(ctx, c.refreshDiagnostics, c.refreshInfo, c.refreshControl)
	c.telemetry.Connect()

	diag := time.NewTicker(seconds(c.cfg.Polling.DiagnosticsSeconds, 10))
	defer diag.Stop()
	info := time.NewTicker(seconds(c.cfg.Polling.InfoSeconds, 30))
	defer info.Stop()
	control := time.NewTicker(seconds(c.cfg.Polling.ControlSeconds, 30))
	defer control.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Printf("console: shutdown requested")
			return nil
		case <-diag.C:
			c.spawn(c.refreshDiagnostics)
		case <-info.C:
			c.spawn(c.refreshInfo)
		case <-control.C:
			c.spawn(c.refreshControl)
		}
	}
}

// Close disconnects every stream, cancels a pending confirmation, stops the
// toast sweep and waits for background refreshes. It is idempotent.
func (c *Console) Close() {
	c.closed.Do(func() {
		c.stop()
		c.gate.Cancel()
		c.telemetry.Disconnect()
		c.camera.DisconnectSocket()
		c.logs.Disconnect()
		c.wg.Wait()
		c.toasts.Close()
	})
}

func (c *Console) Telemetry() *stream.Telemetry { return c.telemetry }
func (c *Console) Camera() *stream.Camera { return c.camera }
func (c *Console) Logs() *stream.Logs { return c.logs }
func (c *Console) Toasts() *toast.Queue { return c.toasts }
func (c *Console) Gate() *confirm.Gate { return c.gate }
func (c *Console) Client() *api.Client { return c.client }

// Notify shows a toast.
func (c *Console) Notify(message string, tone toast.Tone) {
	c.toasts.Show(message, tone)
}

// spawn runs fn on the console's background context. Errors are already
// surfaced by fn.
func (c *Console) spawn(fn func(context.Context) error) {
	c.wg.Go(func() { _ = fn(c.bg) })
}

// settle runs every fn concurrently and waits for all of them. Individual
// failures are ignored; each fn reports its own.
func (c *Console) settle(ctx context.Context, fns ...func(context.Context) error) {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Go(func() { _ = fn(ctx) })
	}
	wg.Wait()
}

func (c *Console) refreshDiagnostics(ctx context.Context) error {
	_, err := c.FetchDiagnostics(ctx)
	return err
}

func (c *Console) refreshInfo(ctx context.Context) error {
	_, err := c.FetchServiceInfo(ctx)
	return err
}

func (c *Console) refreshControl(ctx context.Context) error {
	_, err := c.FetchControlState(ctx, true)
	return err
}

// telemetryChanged drops the header to offline while the robot is
// reported unreachable over the telemetry stream.
func (c *Console) telemetryChanged() {
	if c.telemetry != nil && c.telemetry.RobotUnreachable() {
		c.mu.Lock()
		c.header = status.Offline()
		c.mu.Unlock()
	}
	c.changed()
}

func (c *Console) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// Snapshot is a consistent copy of everything a view renders.
type Snapshot struct {
	Verdict        status.Verdict         `json:"verdict"`
	Phase          stream.Phase           `json:"phase"`
	Header         status.Header          `json:"header"`
	Control        transport.ControlState `json:"control"`
	Overview       transport.Overview     `json:"overview"`
	ControlPending bool                   `json:"control_pending"`
	ModeLabel      string                 `json:"mode_label"`
	Diagnostics    *api.Diagnostics       `json:"diagnostics,omitempty"`
	Info           *api.Info              `json:"info,omitempty"`
	Latest         *telemetry.Sample      `json:"latest,omitempty"`
	RobotError     string                 `json:"robot_error,omitempty"`
	Camera         stream.CameraState     `json:"camera"`
	CameraPhase    stream.Phase           `json:"camera_phase"`
	CommandOutput  string                 `json:"command_output"`
	Toasts         []toast.Toast          `json:"toasts"`
	Confirm        *confirm.Request       `json:"confirm,omitempty"`
	Shelf          *ShelfMap              `json:"shelf,omitempty"`
	ShelfStatus    StatusLine             `json:"shelf_status"`
	CameraConfig   *CameraConfig          `json:"camera_config,omitempty"`
	CameraStatus   StatusLine             `json:"camera_status"`
	WifiConfig     *WifiConfig            `json:"wifi_config,omitempty"`
	WifiStatus     StatusLine             `json:"wifi_status"`
	LogPhase       stream.Phase           `json:"log_phase"`
	LogCount       int                    `json:"log_count"`
}

// Snapshot captures the current state and the fused status line.
func (c *Console) Snapshot() Snapshot {
	phase := c.telemetry.Phase()

	c.mu.Lock()
	s := Snapshot{
		Phase:          phase,
		Header:         c.header,
		Control:        c.control.Clone(),
		ControlPending: c.controlPending,
		Diagnostics:    c.diagnostics,
		Info:           c.info,
		CommandOutput:  c.commandOutput,
		Shelf:          c.shelf,
		ShelfStatus:    c.shelfStatus,
		CameraConfig:   c.cameraConfig,
		CameraStatus:   c.cameraStatus,
		WifiConfig:     c.wifiConfig,
		WifiStatus:     c.wifiStatus,
	}
	c.mu.Unlock()

	s.Overview = transport.Summarize(s.Control, s.Header.Stale)
	s.ModeLabel = transport.ModeLabel(s.Control)
	s.Verdict = status.Fuse(phase, s.Header, s.Overview)
	if latest, ok := c.telemetry.Latest(); ok {
		s.Latest = &latest
	}
	s.RobotError = c.telemetry.LastError()
	s.Camera = c.camera.State()
	s.CameraPhase = c.camera.Phase()
	s.Toasts = c.toasts.Visible()
	if req, ok := c.gate.Pending(); ok {
		s.Confirm = &req
	}
	s.LogPhase = c.logs.Phase()
	s.LogCount = len(c.logs.Entries())
	return s
}

// Status returns just the fused status line.
func (c *Console) Status() status.Verdict {
	return c.Snapshot().Verdict
}

// SetLogFilter replaces the log view filter.
func (c *Console) SetLogFilter(f logs.Filter) {
	c.mu.Lock()
	c.logFilter = f
	c.mu.Unlock()
	c.changed()
}

// ToggleLogSort sorts by column, flipping direction when it is already the
// sort column.
func (c *Console) ToggleLogSort(column string) logs.Sort {
	c.mu.Lock()
	c.logSort = c.logSort.Toggle(column)
	s := c.logSort
	c.mu.Unlock()
	c.changed()
	return s
}

// LogView returns the buffered log entries with the current filter and sort
// applied.
func (c *Console) LogView() []logs.Entry {
	c.mu.Lock()
	f, s := c.logFilter, c.logSort
	c.mu.Unlock()
	return logs.Apply(c.logs.Entries(), f, s)
}
