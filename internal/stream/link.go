// Package stream maintains the console's three WebSocket feeds (telemetry,
// camera and logs) against an unreliable backend. Each feed is a Link, a
// small state machine that dials, reads, and reconnects after a fixed delay
// for as long as the owner wants the connection.
package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/operator-console/internal/metrics"
)

// Phase is the connection phase shown to the operator.
type Phase string

const (
	PhaseConnecting   Phase = "connecting"
	PhaseReady        Phase = "ready"
	PhaseDisconnected Phase = "disconnected"
)

// State is a Link's internal lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	ReconnectScheduled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case ReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Phase maps the lifecycle state onto the operator-facing phase.
func (s State) Phase() Phase {
	switch s {
	case Connecting:
		return PhaseConnecting
	case Open:
		return PhaseReady
	default:
		return PhaseDisconnected
	}
}

// WSURL derives the WebSocket URL for path from an http(s) base URL,
// keeping any base path prefix.
func WSURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// LinkOptions configures a Link. Callbacks run on the link's goroutines
// without any link lock held.
type LinkOptions struct {
	Name             string // metrics label and log prefix
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Logger           *log.Logger
	Dialer           *websocket.Dialer

	// Admit is consulted before every dial. Returning false leaves the
	// link idle without scheduling a retry.
	Admit func() bool

	OnOpen    func()
	OnMessage func(msg []byte)
	OnClose   func(err error)
	OnState   func(State)
}

// Link owns one WebSocket connection. Every socket gets an epoch; events
// from a socket whose epoch is no longer current are dropped, so a close
// that races a Disconnect or Restart never schedules a reconnect.
type Link struct {
	opts   LinkOptions
	log    *log.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	desired  bool
	epoch    uint64
	conn     *websocket.Conn
	cancel   context.CancelFunc
	timer    *time.Timer
	timerSeq uint64
}

// NewLink creates an idle link.
func NewLink(opts LinkOptions) *Link {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	return &Link{opts: opts, log: logger, dialer: dialer}
}

// State reports the current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Desired reports whether the owner currently wants a connection.
func (l *Link) Desired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.desired
}

// ReconnectPending reports whether a reconnect timer is armed.
func (l *Link) ReconnectPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timer != nil
}

// Connect marks the link desired and dials unless a socket is already open
// or connecting. A pending reconnect timer is cancelled and the dial happens
// now.
func (l *Link) Connect() {
	l.mu.Lock()
	l.desired = true
	l.cancelTimerLocked()
	if l.state == ReconnectScheduled {
		l.state = Idle
	}
	l.mu.Unlock()
	l.start()
}

// Disconnect clears the desired flag, cancels any reconnect timer, and
// closes the socket. It is safe to call repeatedly.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.desired = false
	l.cancelTimerLocked()
	conn, cancel := l.detachLocked()
	if conn == nil && l.state == Idle {
		l.mu.Unlock()
		return
	}
	l.state = Closing
	l.mu.Unlock()
	l.notify(Closing)

	closeConn(conn, cancel)

	l.setState(Idle)
	l.log.Printf("stream %s: disconnected", l.opts.Name)
}

// Restart drops the current socket without waiting for its close event and
// dials again immediately. It does nothing unless the link is desired.
func (l *Link) Restart() {
	l.mu.Lock()
	if !l.desired {
		l.mu.Unlock()
		return
	}
	l.cancelTimerLocked()
	conn, cancel := l.detachLocked()
	l.state = Idle
	l.mu.Unlock()

	closeConn(conn, cancel)
	l.log.Printf("stream %s: restarting", l.opts.Name)
	l.start()
}

// start dials if the link is desired, admitted, and not already active.
func (l *Link) start() {
	if l.opts.Admit != nil && !l.opts.Admit() {
		return
	}

	l.mu.Lock()
	if !l.desired || l.state == Connecting || l.state == Open {
		l.mu.Unlock()
		return
	}
	l.epoch++
	epoch := l.epoch
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.HandshakeTimeout)
	l.cancel = cancel
	l.state = Connecting
	l.mu.Unlock()
	l.notify(Connecting)

	go l.run(ctx, cancel, epoch)
}

func (l *Link) run(ctx context.Context, cancel context.CancelFunc, epoch uint64) {
	conn, _, err := l.dialer.DialContext(ctx, l.opts.URL, nil)
	cancel()

	l.mu.Lock()
	if l.epoch != epoch {
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		l.log.Printf("stream %s: dial %s failed: %v", l.opts.Name, l.opts.URL, err)
		l.closed(epoch, err)
		return
	}
	l.conn = conn
	l.state = Open
	l.mu.Unlock()

	metrics.StreamConnects.WithLabelValues(l.opts.Name).Inc()
	l.log.Printf("stream %s: connected to %s", l.opts.Name, l.opts.URL)
	l.notify(Open)
	if l.opts.OnOpen != nil {
		l.opts.OnOpen()
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			l.closed(epoch, err)
			return
		}
		if !l.current(epoch) {
			return
		}
		metrics.StreamMessages.WithLabelValues(l.opts.Name).Inc()
		if l.opts.OnMessage != nil {
			l.opts.OnMessage(msg)
		}
	}
}

// closed handles the end of the socket for epoch: the link goes idle, or
// schedules exactly one reconnect when still desired.
func (l *Link) closed(epoch uint64, err error) {
	l.mu.Lock()
	if l.epoch != epoch {
		l.mu.Unlock()
		return
	}
	conn, cancel := l.detachLocked()
	next := Idle
	if l.desired {
		next = ReconnectScheduled
		l.scheduleLocked()
	}
	l.state = next
	l.mu.Unlock()

	closeConn(conn, cancel)
	if next == ReconnectScheduled {
		metrics.StreamReconnects.WithLabelValues(l.opts.Name).Inc()
		l.log.Printf("stream %s: closed (%v), reconnecting in %s", l.opts.Name, err, l.opts.ReconnectDelay)
	}
	if l.opts.OnClose != nil {
		l.opts.OnClose(err)
	}
	l.notify(next)
}

func (l *Link) current(epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch == epoch
}

// detachLocked supersedes the current socket and hands it back for closing.
func (l *Link) detachLocked() (*websocket.Conn, context.CancelFunc) {
	l.epoch++
	conn, cancel := l.conn, l.cancel
	l.conn, l.cancel = nil, nil
	return conn, cancel
}

func (l *Link) scheduleLocked() {
	l.cancelTimerLocked()
	seq := l.timerSeq
	l.timer = time.AfterFunc(l.opts.ReconnectDelay, func() { l.fire(seq) })
}

func (l *Link) cancelTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerSeq++
}

func (l *Link) fire(seq uint64) {
	l.mu.Lock()
	if l.timer == nil || l.timerSeq != seq {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.state = Idle
	l.mu.Unlock()
	l.start()
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.notify(s)
}

func (l *Link) notify(s State) {
	if l.opts.OnState != nil {
		l.opts.OnState(s)
	}
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}
