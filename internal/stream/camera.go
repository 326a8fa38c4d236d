package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/metrics"
	"github.com/large-farva/operator-console/internal/telemetry"
	"github.com/large-farva/operator-console/internal/toast"
)

// DisabledMessage is shown in place of the feed while streaming is
// administratively off.
const DisabledMessage = "Camera stream disabled. Use Enable Stream above."

// SourceOverride marks a manually configured snapshot URL; the firmware
// streaming flag does not gate it.
const SourceOverride = "override"

// ErrBusy is returned when an operation is already in flight.
var ErrBusy = errors.New("operation already in progress")

// Frame is the most recent camera image.
type Frame struct {
	Mime     string
	Data     []byte
	Received time.Time
}

// CameraState is the camera view model. Streaming is nil until the
// backend reports it.
type CameraState struct {
	Transport        string  `json:"transport"`
	Streaming        *bool   `json:"streaming"`
	Source           string  `json:"source"`
	Frame            *Frame  `json:"-"`
	Error            string  `json:"error,omitempty"`
	Configured       bool    `json:"configured"`
	Resolution       string  `json:"resolution,omitempty"`
	Quality          *int    `json:"quality,omitempty"`
	StreamIntervalMS *int    `json:"stream_interval_ms,omitempty"`
	SnapshotURL      *string `json:"snapshot_url,omitempty"`
}

// gated reports whether the backend has streaming switched off for a
// non-override source.
func (s CameraState) gated() bool {
	return s.Source != SourceOverride && s.Streaming != nil && !*s.Streaming
}

// CameraOptions configures the camera manager.
type CameraOptions struct {
	Options
	// Send issues a backend command with raise_on_error set.
	Send func(ctx context.Context, command string) error
	// Refresh re-polls info and diagnostics after a toggle; its errors are
	// ignored.
	Refresh func(ctx context.Context)
}

// Camera owns the demand-activated /ws/camera socket. It connects only
// while desired and not gated, keeps just the latest frame, and reconnects
// after a fixed delay while desired.
type Camera struct {
	link    *Link
	notify  toast.Notifier
	log     *log.Logger
	send    func(ctx context.Context, command string) error
	refresh func(ctx context.Context)
	change  func()

	mu            sync.Mutex
	state         CameraState
	lastError     string
	togglePending bool
}

// NewCamera creates an idle manager.
func NewCamera(opts CameraOptions) (*Camera, error) {
	u, err := WSURL(opts.BaseURL, "/ws/camera")
	if err != nil {
		return nil, err
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	c := &Camera{
		notify:  notifierOrNop(opts.Notifier),
		send:    opts.Send,
		refresh: opts.Refresh,
		change:  opts.OnChange,
		state:   CameraState{Source: "auto"},
	}
	c.link = NewLink(LinkOptions{
		Name:             "camera",
		URL:              u,
		ReconnectDelay:   opts.ReconnectDelay,
		HandshakeTimeout: opts.HandshakeTimeout,
		Logger:           opts.Logger,
		Admit:            c.admit,
		OnMessage:        c.handleMessage,
		OnClose:          c.handleClose,
		OnState:          func(State) { c.changed() },
	})
	c.log = c.link.log
	return c, nil
}

// State returns a copy of the camera view model.
func (c *Camera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase reports the socket phase.
func (c *Camera) Phase() Phase { return c.link.State().Phase() }

// Desired reports whether the camera view wants the stream.
func (c *Camera) Desired() bool { return c.link.Desired() }

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Camera) ReconnectPending() bool { return c.link.ReconnectPending() }

// TogglePending reports whether a streaming toggle is in flight.
func (c *Camera) TogglePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.togglePending
}

// EnsureStream marks the stream desired and connects unless gated.
func (c *Camera) EnsureStream() { c.link.Connect() }

// DisconnectSocket clears the desired flag, cancels reconnects, closes the
// socket and drops the frame.
func (c *Camera) DisconnectSocket() {
	c.link.Disconnect()
	c.mu.Lock()
	c.state.Frame = nil
	c.lastError = ""
	c.mu.Unlock()
	c.changed()
}

// Restart replaces the socket right away. When the view is closed or
// streaming is gated it only tells the operator why nothing happened.
func (c *Camera) Restart(notify bool) {
	if !c.link.Desired() {
		c.notify.Show("Open the Camera tab to start the stream", toast.Info)
		return
	}
	c.mu.Lock()
	gated := c.state.gated()
	c.mu.Unlock()
	if gated {
		c.notify.Show("Camera stream is disabled. Use Enable Stream above.", toast.Warning)
		return
	}
	if notify {
		c.notify.Show("Restarting camera stream…", toast.Info)
	}
	c.link.Restart()
}

// ToggleStreaming flips the firmware streaming flag. A second call while
// one is in flight returns ErrBusy. In override mode the flag does not
// apply and nothing is sent.
func (c *Camera) ToggleStreaming(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Source == SourceOverride {
		c.mu.Unlock()
		c.notify.Show("Manual snapshot URL override is active. Disable override to use this control.", toast.Warning)
		return nil
	}
	if c.togglePending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.togglePending = true
	enable := c.state.Streaming == nil || !*c.state.Streaming
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.togglePending = false
		c.mu.Unlock()
		c.changed()
	}()

	command := "CAMSTREAM OFF"
	if enable {
		command = "CAMSTREAM ON"
	}
	c.notify.Show("Sending "+command+"...", toast.Info)

	if c.send == nil {
		return errors.New("camera: no command sender configured")
	}
	if err := c.send(ctx, command); err != nil {
		c.log.Printf("camera: toggle failed: %v", err)
		c.notify.Show(errorText(err, "Failed to toggle camera stream"), toast.Error)
		return err
	}

	c.mu.Lock()
	c.state.Streaming = &enable
	c.state.Error = ""
	c.mu.Unlock()
	if enable {
		c.notify.Show("Camera stream enabled", toast.Success)
	} else {
		c.notify.Show("Camera stream disabled", toast.Success)
	}
	c.reconcile()

	if c.refresh != nil {
		c.refresh(ctx)
	}
	return nil
}

// ApplyDiagnostics patches the state with the fields the diagnostics
// camera block reports.
func (c *Camera) ApplyDiagnostics(d *api.Diagnostics) {
	if d == nil {
		return
	}
	cam := d.Camera
	c.mu.Lock()
	if cam.Transport != nil {
		c.state.Transport = *cam.Transport
	}
	if cam.SnapshotURL != nil && *cam.SnapshotURL != "" {
		c.state.SnapshotURL = cam.SnapshotURL
	} else {
		c.state.SnapshotURL = nil
	}
	if cam.Streaming != nil {
		v := *cam.Streaming
		c.state.Streaming = &v
	}
	if cam.Source != nil {
		c.state.Source = *cam.Source
	}
	if cam.StreamIntervalMS != nil {
		c.state.StreamIntervalMS = cam.StreamIntervalMS
	}
	if cam.Quality != nil {
		c.state.Quality = cam.Quality
	}
	if cam.Resolution != nil {
		c.state.Resolution = *cam.Resolution
	}
	if cam.Configured != nil {
		c.state.Configured = *cam.Configured
	}
	c.mu.Unlock()
	c.reconcile()
	c.changed()
}

// ApplyServiceInfo replaces the camera fields carried by /api/info. A nil
// info (the request failed) marks the camera unavailable.
func (c *Camera) ApplyServiceInfo(info *api.Info, err error) {
	c.mu.Lock()
	switch {
	case err != nil:
		c.state.Error = errorText(err, "Unavailable")
		c.state.Streaming = nil
		c.state.SnapshotURL = nil
	case info == nil:
		c.state = CameraState{Source: "auto", Error: "Unavailable", Frame: c.state.Frame}
	default:
		c.state.Transport = deref(info.CameraTransport)
		c.state.SnapshotURL = info.CameraSnapshotURL
		c.state.Streaming = info.CameraStreaming
		c.state.Source = deref(info.CameraSnapshotSource)
		if c.state.Source == "" {
			c.state.Source = "auto"
		}
		c.state.Error = ""
	}
	c.mu.Unlock()
	c.reconcile()
	c.changed()
}

// reconcile applies the gate to the current socket: a gated open socket is
// dropped, an ungated desired stream is connected.
func (c *Camera) reconcile() {
	if !c.link.Desired() {
		return
	}
	c.mu.Lock()
	gated := c.state.gated()
	c.mu.Unlock()

	st := c.link.State()
	switch {
	case gated && (st == Open || st == Connecting || st == ReconnectScheduled):
		c.link.Restart()
	case !gated && (st == Idle):
		c.link.Connect()
	}
}

// admit is the link's dial gate.
func (c *Camera) admit() bool {
	c.mu.Lock()
	if c.state.gated() {
		changed := c.state.Error != DisabledMessage
		c.state.Error = DisabledMessage
		c.mu.Unlock()
		if changed {
			c.changed()
		}
		return false
	}
	if c.state.Error == DisabledMessage {
		c.state.Error = ""
	}
	c.mu.Unlock()
	return true
}

func (c *Camera) handleMessage(msg []byte) {
	var m telemetry.CameraMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		metrics.StreamParseErrors.WithLabelValues("camera").Inc()
		c.log.Printf("stream camera: parse error: %v", err)
		return
	}

	switch {
	case m.Type == telemetry.CameraFrame && m.Payload != "" && m.Mime != "":
		data, err := base64.StdEncoding.DecodeString(m.Payload)
		if err != nil {
			metrics.StreamParseErrors.WithLabelValues("camera").Inc()
			c.log.Printf("stream camera: bad frame payload: %v", err)
			return
		}
		c.mu.Lock()
		c.state.Frame = &Frame{Mime: m.Mime, Data: data, Received: time.Now()}
		c.state.Error = ""
		c.lastError = ""
		c.mu.Unlock()
		c.changed()

	case m.Type == telemetry.CameraError && m.Message != "":
		c.mu.Lock()
		c.state.Error = m.Message
		announce := m.Message != c.lastError
		c.lastError = m.Message
		c.mu.Unlock()
		if announce {
			c.notify.Show("Camera: "+m.Message, toast.Warning)
		}
		c.changed()
	}
}

func (c *Camera) handleClose(error) {
	c.mu.Lock()
	c.lastError = ""
	c.mu.Unlock()
}

func (c *Camera) changed() {
	if c.change != nil {
		c.change()
	}
}

func errorText(err error, fallback string) string {
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
