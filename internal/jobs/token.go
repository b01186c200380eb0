// Package jobs provides the cancellation and completion primitives shared by
// concurrent segment loads: a monotonic cancellation Token, a bounded worker
// Pool, and a Synchronizer that joins a dynamic set of jobs.
package jobs

import (
	"context"
	"sync/atomic"
)

// Token is a cancellation handle shared by every job of one owner.
// Cancellation is monotonic: once set it is never reset.
type Token struct {
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewToken returns a live token. It is also cancelled when parent is done.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token cancelled. Safe to call any number of times.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (t *Token) Cancelled() bool {
	if t.cancelled.Load() {
		return true
	}
	if t.ctx.Err() != nil {
		t.cancelled.Store(true)
		return true
	}
	return false
}

// Err returns context.Canceled once the token is cancelled, nil otherwise.
// Long-running collaborators call it at their checkpoints.
func (t *Token) Err() error {
	if t.Cancelled() {
		return context.Canceled
	}
	return nil
}

// Done is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context that ends with the token, for handing to
// network calls.
func (t *Token) Context() context.Context {
	return t.ctx
}
