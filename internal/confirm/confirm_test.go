package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ask runs Confirm in a goroutine and waits until the request is visible.
func ask(ctx context.Context, t *testing.T, g *Gate) <-chan [2]any {
	t.Helper()
	out := make(chan [2]any, 1)
	go func() {
		ok, err := g.Confirm(ctx, "Emergency stop", "Engage the brake?")
		out <- [2]any{ok, err}
	}()
	require.Eventually(t, func() bool {
		_, pending := g.Pending()
		return pending
	}, time.Second, time.Millisecond)
	return out
}

func TestConfirmResolvesTrue(t *testing.T) {
	g := New(nil)
	out := ask(context.Background(), t, g)

	req, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, "Emergency stop", req.Title)

	g.Resolve(true)
	res := <-out
	assert.Equal(t, true, res[0])
	assert.Nil(t, res[1])

	_, pending := g.Pending()
	assert.False(t, pending)
}

func TestCancelResolvesFalse(t *testing.T) {
	g := New(nil)
	out := ask(context.Background(), t, g)

	g.Cancel()
	res := <-out
	assert.Equal(t, false, res[0])
	assert.Nil(t, res[1])
}

func TestSecondConfirmIsRejected(t *testing.T) {
	g := New(nil)
	out := ask(context.Background(), t, g)

	ok, err := g.Confirm(context.Background(), "Reset shelf map", "Reset?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPending)

	req, _ := g.Pending()
	assert.Equal(t, "Emergency stop", req.Title, "first request must remain outstanding")

	g.Resolve(true)
	res := <-out
	assert.Equal(t, true, res[0])
}

func TestContextCancellationClearsSlot(t *testing.T) {
	g := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	out := ask(ctx, t, g)

	cancel()
	res := <-out
	assert.Equal(t, false, res[0])
	assert.ErrorIs(t, res[1].(error), context.Canceled)

	_, pending := g.Pending()
	assert.False(t, pending)
}

func TestResolveWithoutRequestIsNoop(t *testing.T) {
	calls := 0
	g := New(func() { calls++ })
	g.Resolve(true)
	assert.Zero(t, calls)
}

func TestOnChangeFiresOnOpenAndSettle(t *testing.T) {
	changes := make(chan struct{}, 4)
	g := New(func() { changes <- struct{}{} })
	out := ask(context.Background(), t, g)
	g.Resolve(false)
	<-out
	assert.Len(t, changes, 2)
}
