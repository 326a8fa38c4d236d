package stream

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/metrics"
	"github.com/large-farva/operator-console/internal/telemetry"
	"github.com/large-farva/operator-console/internal/toast"
)

// Common options shared by the three managers.
type Options struct {
	BaseURL          string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Logger           *log.Logger
	Notifier         toast.Notifier
	// OnChange is called without locks held whenever observable state changes.
	OnChange func()
}

// TelemetryOptions configures the telemetry manager.
type TelemetryOptions struct {
	Options
	Capacity int
	// Now stamps incoming samples; nil means time.Now.
	Now func() time.Time
}

// Telemetry owns the persistent /ws/telemetry socket and the sample ring.
type Telemetry struct {
	link   *Link
	notify toast.Notifier
	log    *log.Logger
	now    func() time.Time
	change func()

	mu          sync.Mutex
	phase       Phase
	ring        *telemetry.Ring
	lastError   string
	unreachable bool
}

// NewTelemetry creates a manager in the connecting phase. Call Connect to dial.
func NewTelemetry(opts TelemetryOptions) (*Telemetry, error) {
	u, err := WSURL(opts.BaseURL, "/ws/telemetry")
	if err != nil {
		return nil, err
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Telemetry{
		notify: notifierOrNop(opts.Notifier),
		now:    opts.Now,
		change: opts.OnChange,
		phase:  PhaseConnecting,
		ring:   telemetry.NewRing(opts.Capacity),
	}
	t.link = NewLink(LinkOptions{
		Name:             "telemetry",
		URL:              u,
		ReconnectDelay:   opts.ReconnectDelay,
		HandshakeTimeout: opts.HandshakeTimeout,
		Logger:           opts.Logger,
		OnOpen:           t.handleOpen,
		OnMessage:        t.handleMessage,
		OnClose:          t.handleClose,
		OnState:          t.handleState,
	})
	t.log = t.link.log
	return t, nil
}

// Connect dials the socket; it is a no-op while a socket is open or
// connecting and cancels a pending reconnect timer otherwise.
func (t *Telemetry) Connect() { t.link.Connect() }

// Disconnect tears the socket down for good; nothing reconnects afterwards
// until Connect is called again.
func (t *Telemetry) Disconnect() { t.link.Disconnect() }

// ReconnectPending reports whether a reconnect timer is armed.
func (t *Telemetry) ReconnectPending() bool { return t.link.ReconnectPending() }

// State reports the underlying link state.
func (t *Telemetry) State() State { return t.link.State() }

func (t *Telemetry) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Samples returns the buffered samples, oldest first.
func (t *Telemetry) Samples() []telemetry.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ring.Snapshot()
}

func (t *Telemetry) Latest() (telemetry.Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ring.Latest()
}

// RobotUnreachable reports whether the last push was a backend error. The
// socket itself stays open in that case.
func (t *Telemetry) RobotUnreachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unreachable
}

// LastError returns the robot error most recently reported, if any.
func (t *Telemetry) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

func (t *Telemetry) handleOpen() {
	t.notify.Show("WebSocket connected", toast.Success)
}

func (t *Telemetry) handleMessage(msg []byte) {
	var m telemetry.Message
	if err := json.Unmarshal(msg, &m); err != nil {
		metrics.StreamParseErrors.WithLabelValues("telemetry").Inc()
		t.log.Printf("stream telemetry: parse error: %v", err)
		return
	}

	var announce string
	t.mu.Lock()
	if m.Data != nil {
		t.ring.Push(telemetry.NewSample(t.now(), m.Data))
	}
	if m.Error != "" {
		if m.Error != t.lastError {
			t.lastError = m.Error
			announce = m.Error
		}
		t.unreachable = true
	} else {
		t.lastError = ""
		t.unreachable = false
	}
	t.mu.Unlock()

	if announce != "" {
		t.notify.Show("Robot offline: "+announce, toast.Warning)
	}
	t.changed()
}

func (t *Telemetry) handleClose(error) {
	t.mu.Lock()
	t.lastError = ""
	t.mu.Unlock()
}

func (t *Telemetry) handleState(s State) {
	t.mu.Lock()
	prev := t.phase
	t.phase = s.Phase()
	t.mu.Unlock()
	if prev != s.Phase() {
		t.changed()
	}
}

func (t *Telemetry) changed() {
	if t.change != nil {
		t.change()
	}
}

type nopNotifier struct{}

func (nopNotifier) Show(string, toast.Tone) (int64, bool) { return 0, false }

func notifierOrNop(n toast.Notifier) toast.Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
