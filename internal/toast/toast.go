// Package toast implements the operator-facing notification queue. Messages
// are deduplicated while visible, rate limited per (tone, message) pair, capped
// in number, and expired by a single coalesced sweep timer.
package toast

import (
	"sync"
	"time"

	"github.com/large-farva/operator-console/internal/metrics"
)

// Tone classifies a toast for rendering.
type Tone string

const (
	Success Tone = "success"
	Error   Tone = "error"
	Warning Tone = "warning"
	Info    Tone = "info"
)

// sweepGrace delays the sweep slightly past the earliest expiry so the toast
// is reliably expired when the timer fires.
const sweepGrace = 25 * time.Millisecond

// Toast is one visible notification.
type Toast struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Tone      Tone      `json:"tone"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier is the narrow interface the rest of the console uses to report
// outcomes to the operator.
type Notifier interface {
	Show(message string, tone Tone) (int64, bool)
}

// Options configures a Queue.
type Options struct {
	Duration   time.Duration
	MaxVisible int
	// OnChange is called, without any lock held, whenever the visible set changes.
	OnChange func()
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Queue holds the visible toasts. It is safe for concurrent use.
type Queue struct {
	duration time.Duration
	max      int
	onChange func()
	now      func() time.Time

	mu       sync.Mutex
	nextID   int64
	toasts   []Toast
	cooldown map[string]time.Time
	sweep    *time.Timer
	sweepAt  time.Time
	sweepSeq uint64
	closed   bool
}

// New creates an empty queue.
func New(opts Options) *Queue {
	if opts.Duration <= 0 {
		opts.Duration = 5 * time.Second
	}
	if opts.MaxVisible < 1 {
		opts.MaxVisible = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		duration: opts.Duration,
		max:      opts.MaxVisible,
		onChange: opts.OnChange,
		now:      opts.Now,
		cooldown: make(map[string]time.Time),
	}
}

func key(message string, tone Tone) string {
	return string(tone) + ":" + message
}

// Show enqueues a toast and returns its id. The second result is false when
// the toast was suppressed, either because an identical toast is visible or
// because the same pair was shown within the cooldown window.
func (q *Queue) Show(message string, tone Tone) (int64, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, false
	}

	for _, t := range q.toasts {
		if t.Message == message && t.Tone == tone {
			q.mu.Unlock()
			metrics.ToastsSuppressed.Inc()
			return 0, false
		}
	}

	now := q.now()
	k := key(message, tone)
	if last, ok := q.cooldown[k]; ok && now.Sub(last) < q.duration {
		q.mu.Unlock()
		metrics.ToastsSuppressed.Inc()
		return 0, false
	}
	q.pruneCooldownLocked(now)
	q.cooldown[k] = now

	q.nextID++
	t := Toast{ID: q.nextID, Message: message, Tone: tone, ExpiresAt: now.Add(q.duration)}
	q.toasts = append(q.toasts, t)
	if over := len(q.toasts) - q.max; over > 0 {
		q.toasts = append([]Toast(nil), q.toasts[over:]...)
	}
	q.scheduleLocked(now)
	q.mu.Unlock()

	metrics.ToastsShown.WithLabelValues(string(tone)).Inc()
	q.changed()
	return t.ID, true
}

// Dismiss removes a toast immediately. Unknown ids are ignored.
func (q *Queue) Dismiss(id int64) {
	q.mu.Lock()
	idx := -1
	for i, t := range q.toasts {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.toasts = append(q.toasts[:idx:idx], q.toasts[idx+1:]...)
	q.scheduleLocked(q.now())
	q.mu.Unlock()
	q.changed()
}

// Visible returns a copy of the visible toasts, oldest first.
func (q *Queue) Visible() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Toast(nil), q.toasts...)
}

// Close cancels the sweep timer and rejects further toasts.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.sweep != nil {
		q.sweep.Stop()
		q.sweep = nil
	}
}

// scheduleLocked points the single sweep timer at the earliest expiry.
func (q *Queue) scheduleLocked(now time.Time) {
	if len(q.toasts) == 0 || q.closed {
		if q.sweep != nil {
			q.sweep.Stop()
			q.sweep = nil
		}
		return
	}

	earliest := q.toasts[0].ExpiresAt
	for _, t := range q.toasts[1:] {
		if t.ExpiresAt.Before(earliest) {
			earliest = t.ExpiresAt
		}
	}
	if q.sweep != nil && q.sweepAt.Equal(earliest) {
		return
	}
	if q.sweep != nil {
		q.sweep.Stop()
	}

	delay := max(earliest.Sub(now), 0) + sweepGrace
	q.sweepAt = earliest
	q.sweepSeq++
	seq := q.sweepSeq
	q.sweep = time.AfterFunc(delay, func() { q.runSweep(seq) })
}

func (q *Queue) runSweep(seq uint64) {
	q.mu.Lock()
	if q.sweep == nil || q.sweepSeq != seq {
		q.mu.Unlock()
		return
	}
	q.sweep = nil

	now := q.now()
	kept := q.toasts[:0:0]
	for _, t := range q.toasts {
		if t.ExpiresAt.After(now) {
			kept = append(kept, t)
		}
	}
	mutated := len(kept) != len(q.toasts)
	q.toasts = kept
	q.scheduleLocked(now)
	q.mu.Unlock()

	if mutated {
		q.changed()
	}
}

func (q *Queue) pruneCooldownLocked(now time.Time) {
	for k, at := range q.cooldown {
		if now.Sub(at) >= q.duration {
			delete(q.cooldown, k)
		}
	}
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}
