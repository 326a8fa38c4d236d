package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/metrics"
)

// LogSource fetches a REST snapshot of recent log entries.
type LogSource interface {
	Logs(ctx context.Context, limit int) (*api.LogSnapshot, error)
}

// LogsOptions configures the logs manager.
type LogsOptions struct {
	Options
	Capacity int
	Source   LogSource
}

// Logs owns the /ws/logs socket and the bounded, id-deduplicated entry
// buffer. Snapshot messages merge; single-entry messages upsert.
type Logs struct {
	link   *Link
	log    *log.Logger
	source LogSource
	change func()

	mu       sync.Mutex
	buf      *logs.Buffer
	fetching bool
	lastErr  error
}

// NewLogs creates an idle manager.
func NewLogs(opts LogsOptions) (*Logs, error) {
	u, err := WSURL(opts.BaseURL, "/ws/logs")
	if err != nil {
		return nil, err
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	m := &Logs{
		source: opts.Source,
		change: opts.OnChange,
		buf:    logs.NewBuffer(opts.Capacity),
	}
	m.link = NewLink(LinkOptions{
		Name:             "logs",
		URL:              u,
		ReconnectDelay:   opts.ReconnectDelay,
		HandshakeTimeout: opts.HandshakeTimeout,
		Logger:           opts.Logger,
		OnMessage:        m.handleMessage,
		OnState:          func(State) { m.changed() },
	})
	m.log = m.link.log
	return m, nil
}

// Connect opens the live feed; it reconnects while desired.
func (m *Logs) Connect() { m.link.Connect() }

// Disconnect closes the live feed. Buffered entries are kept.
func (m *Logs) Disconnect() { m.link.Disconnect() }

func (m *Logs) Phase() Phase { return m.link.State().Phase() }

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Logs) ReconnectPending() bool { return m.link.ReconnectPending() }

// Entries returns a copy of the buffer in timestamp order.
func (m *Logs) Entries() []logs.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Entries()
}

// Fetching reports whether a REST snapshot request is in flight.
func (m *Logs) Fetching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetching
}

// LastError returns the error from the most recent snapshot fetch.
func (m *Logs) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// FetchSnapshot loads up to limit entries over REST. With replace the buffer
// is swapped for the result, otherwise the result is merged in.
func (m *Logs) FetchSnapshot(ctx context.Context, limit int, replace bool) error {
	if m.source == nil {
		return nil
	}
	m.mu.Lock()
	if m.fetching {
		m.mu.Unlock()
		return ErrBusy
	}
	m.fetching = true
	m.mu.Unlock()
	m.changed()

	snap, err := m.source.Logs(ctx, limit)

	m.mu.Lock()
	m.fetching = false
	m.lastErr = err
	if err == nil {
		if replace {
			m.buf.Replace(snap.Entries)
		} else {
			m.buf.Merge(snap.Entries)
		}
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Printf("stream logs: snapshot fetch failed: %v", err)
	}
	m.changed()
	return err
}

func (m *Logs) handleMessage(msg []byte) {
	entries, batch, err := logs.Decode(msg)
	if err != nil {
		metrics.StreamParseErrors.WithLabelValues("logs").Inc()
		m.log.Printf("stream logs: parse error: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	m.mu.Lock()
	if batch {
		m.buf.Merge(entries)
	} else {
		m.buf.Append(entries[0])
	}
	m.mu.Unlock()
	m.changed()
}

func (m *Logs) changed() {
	if m.change != nil {
		m.change()
	}
}
