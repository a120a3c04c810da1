package barrier

import (
	"context"
	"errors"
	"sync"
)

// ErrOverfull is returned when more participants arrive than expected.
var ErrOverfull = errors.New("barrier: more participants than expected")

// Barrier synchronizes ring bring-up.
type Barrier interface {
	// Ready announces that the caller is listening.
	Ready(ctx context.Context) error
	// Wait blocks until every participant is ready.
	Wait(ctx context.Context) error
	// Close releases resources held for peers.
	Close() error
}

// Local is an in-process barrier shared by n nodes.
type Local struct {
	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

// NewLocal creates a barrier for n participants.
func NewLocal(n int) *Local {
	b := &Local{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

// Ready counts one participant in.
func (b *Local) Ready(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining == 0 {
		return ErrOverfull
	}
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
	}
	return nil
}

// Wait blocks until all participants are ready or ctx ends.
func (b *Local) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op.
func (b *Local) Close() error {
	return nil
}
