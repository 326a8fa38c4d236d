// Package confirm implements the single-slot confirmation broker that gates
// destructive actions behind an explicit operator answer.
package confirm

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned when Confirm is called while another request is
// still waiting for an answer.
var ErrPending = errors.New("confirmation already pending")

// Request is the prompt shown to the operator.
type Request struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Gate holds at most one outstanding Request.
type Gate struct {
	onChange func()

	mu      sync.Mutex
	pending *Request
	answer  chan bool
}

// New creates a gate. onChange may be nil; it is called without the lock held
// whenever a request opens or settles.
func New(onChange func()) *Gate {
	return &Gate{onChange: onChange}
}

// Confirm publishes a request and blocks until Resolve is called or ctx is
// done. A cancelled context resolves to false with the context error.
func (g *Gate) Confirm(ctx context.Context, title, message string) (bool, error) {
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return false, ErrPending
	}
	answer := make(chan bool, 1)
	g.pending = &Request{Title: title, Message: message}
	g.answer = answer
	g.mu.Unlock()
	g.changed()

	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		g.settle(answer, false)
		return false, ctx.Err()
	}
}

// Resolve answers the outstanding request. It is a no-op when nothing is pending.
func (g *Gate) Resolve(ok bool) {
	g.mu.Lock()
	answer := g.answer
	g.mu.Unlock()
	if answer != nil {
		g.settle(answer, ok)
	}
}

// Cancel resolves the outstanding request with false.
func (g *Gate) Cancel() {
	g.Resolve(false)
}

// Pending returns the outstanding request, if any.
func (g *Gate) Pending() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Request{}, false
	}
	return *g.pending, true
}

// settle clears the slot if it still belongs to answer and delivers ok.
func (g *Gate) settle(answer chan bool, ok bool) {
	g.mu.Lock()
	if g.answer != answer {
		g.mu.Unlock()
		return
	}
	g.pending = nil
	g.answer = nil
	g.mu.Unlock()

	g.changed()
	answer <- ok
}

func (g *Gate) changed() {
	if g.onChange != nil {
		g.onChange()
	}
}
