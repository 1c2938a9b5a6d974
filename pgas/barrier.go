package pgas

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBarrierBroken is returned when a barrier was poisoned by a cancelled
// waiter in an earlier generation.
var ErrBarrierBroken = errors.New("pgas: barrier broken")

// generation is one rendezvous cycle of the barrier. done and broken are
// written under the barrier mutex before ch is closed, so waiters released by
// the close observe them without further locking.
type generation struct {
	ch     chan struct{}
	done   bool
	broken bool
}

// barrier is a reusable rendezvous for a fixed number of parties.
type barrier struct {
	n int

	mu      sync.Mutex
	arrived int
	gen     *generation
}

func newBarrier(n int) *barrier {
	return &barrier{
		n:   n,
		gen: &generation{ch: make(chan struct{})},
	}
}

func (b *barrier) await(ctx context.Context) error {
	b.mu.Lock()
	g := b.gen
	if g.broken {
		b.mu.Unlock()
		return ErrBarrierBroken
	}
	b.arrived++
	if b.arrived == b.n {
		// Last party in: release this generation and open the next one.
		b.arrived = 0
		g.done = true
		close(g.ch)
		b.gen = &generation{ch: make(chan struct{})}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.ch:
		if g.broken {
			return ErrBarrierBroken
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if g.done {
			// The rendezvous completed while we were being cancelled.
			b.mu.Unlock()
			return nil
		}
		if !g.broken {
			g.broken = true
			close(g.ch)
		}
		b.mu.Unlock()
		return fmt.Errorf("pgas: barrier wait: %w", ctx.Err())
	}
}
