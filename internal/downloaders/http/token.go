package mydmhttp

import (
	"context"
	"sync"
)

// Token carries a job's pause and cancel requests to its workers. Workers
// poll the flags at chunk boundaries; anything that blocks (backoff sleeps,
// waiting for a pool slot) selects on Context, which is done as soon as the
// job is paused or cancelled and replaced with a fresh one on resume.
type Token struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	ctx       context.Context
	stop      context.CancelFunc
}

func NewToken() *Token {
	ctx, stop := context.WithCancel(context.Background())
	return &Token{ctx: ctx, stop: stop}
}

// Pause reports whether the token moved from running to paused.
func (t *Token) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || t.cancelled {
		return false
	}
	t.paused = true
	t.stop()
	return true
}

// Resume reports whether the token moved from paused to running.
func (t *Token) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused || t.cancelled {
		return false
	}
	t.paused = false
	t.ctx, t.stop = context.WithCancel(context.Background())
	return true
}

// Cancel is sticky: a cancelled token never runs again.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.stop()
}

func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Context is done once the token is paused or cancelled.
func (t *Token) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}
