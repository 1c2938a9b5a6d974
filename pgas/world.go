// Package pgas provides a partitioned global address space substrate: a fixed
// set of ranks, each running its own control flow, that can address each
// other's memory segments through remote read, remote write, and remote
// atomic fetch-add, plus the collective primitives (barrier, publish/fetch
// directory) needed to bootstrap a shared layout.
package pgas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNotPublished is returned by Fetch when the peer has not published a
// value under the requested key.
var ErrNotPublished = errors.New("pgas: not published")

type dirKey struct {
	key  string
	rank int
}

// World is the shared substrate for a fixed number of ranks. All segments and
// directory entries live for the lifetime of the world; there is no teardown
// protocol beyond dropping the world.
type World struct {
	n       int
	barrier *barrier

	mu        sync.RWMutex
	directory map[dirKey]any
}

// NewWorld creates a substrate for n ranks.
func NewWorld(n int) (*World, error) {
	if n < 1 {
		return nil, fmt.Errorf("pgas: need at least one rank, got %d", n)
	}
	return &World{
		n:         n,
		barrier:   newBarrier(n),
		directory: make(map[dirKey]any),
	}, nil
}

// Ranks returns the number of ranks in the world.
func (w *World) Ranks() int { return w.n }

// Rank returns the handle for rank id.
func (w *World) Rank(id int) (*Rank, error) {
	if id < 0 || id >= w.n {
		return nil, fmt.Errorf("pgas: rank %d out of range [0,%d)", id, w.n)
	}
	return &Rank{id: id, world: w}, nil
}

// Rank is one partition's handle onto the world. A rank is driven by exactly
// one goroutine; the handle itself is cheap and copyable.
type Rank struct {
	id    int
	world *World
}

// ID returns this rank's id in [0, N()).
func (r *Rank) ID() int { return r.id }

// N returns the number of ranks in the world.
func (r *Rank) N() int { return r.world.n }

// World returns the underlying world.
func (r *Rank) World() *World { return r.world }

// Barrier blocks until every rank in the world has arrived. The barrier is
// reusable. If ctx is cancelled while waiting, the barrier is poisoned: the
// cancelled waiter and all later arrivals get an error, so a failed
// collective cannot strand the surviving ranks.
func (r *Rank) Barrier(ctx context.Context) error {
	return r.world.barrier.await(ctx)
}

// Publish stores v in the world directory under (key, publishing rank).
// Directory entries are written during bootstrap and read-only afterwards;
// a Publish is made visible to Fetch on other ranks by the barrier between
// them.
func Publish[T any](r *Rank, key string, v T) {
	w := r.world
	w.mu.Lock()
	defer w.mu.Unlock()
	w.directory[dirKey{key: key, rank: r.id}] = v
}

// Fetch reads the value peer published under key.
func Fetch[T any](r *Rank, key string, peer int) (T, error) {
	var zero T
	w := r.world
	if peer < 0 || peer >= w.n {
		return zero, fmt.Errorf("pgas: fetch %q: rank %d out of range [0,%d)", key, peer, w.n)
	}
	w.mu.RLock()
	v, ok := w.directory[dirKey{key: key, rank: peer}]
	w.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("pgas: fetch %q from rank %d: %w", key, peer, ErrNotPublished)
	}
	tv, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("pgas: fetch %q from rank %d: published value is %T", key, peer, v)
	}
	return tv, nil
}

// Run executes fn once per rank, concurrently, over a fresh world. It blocks
// until every rank returns and reports the first error; an error on any rank
// cancels the ctx seen by the others, which unblocks their collectives.
func Run(ctx context.Context, n int, fn func(ctx context.Context, r *Rank) error) error {
	w, err := NewWorld(n)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		r, err := w.Rank(i)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return fn(ctx, r)
		})
	}
	return g.Wait()
}
