package pgas

import (
	"context"
	"fmt"
	"sync"
)

// lockStripes bounds the lock table of a segment. Remote puts and gets to the
// same cell are serialized the way a target NIC serializes RMA operations;
// striping keeps the table small regardless of segment size.
const lockStripes = 64

// Array is a segment of n fixed-size records allocated on one rank and
// remotely addressable from every rank via its base Ptr.
type Array[T any] struct {
	rank  int
	cells []T
	locks [lockStripes]sync.Mutex
}

// NewArray allocates a segment of n records on rank r. Allocation failure is
// fatal to the collective: callers are expected to propagate the error out of
// their SPMD function.
func NewArray[T any](r *Rank, n int) (*Array[T], error) {
	if n <= 0 {
		return nil, fmt.Errorf("pgas: rank %d: cannot allocate array of %d records", r.id, n)
	}
	return &Array[T]{rank: r.id, cells: make([]T, n)}, nil
}

// Len returns the number of records in the segment.
func (a *Array[T]) Len() int { return len(a.cells) }

// Rank returns the id of the rank the segment lives on.
func (a *Array[T]) Rank() int { return a.rank }

// Ptr returns the segment's remote-reachable base address.
func (a *Array[T]) Ptr() Ptr[T] { return Ptr[T]{arr: a} }

// Ptr is a global address: a segment plus an offset into it. The zero Ptr is
// invalid. Ptrs are exchanged through the world directory during bootstrap
// and stay valid for the world's lifetime.
type Ptr[T any] struct {
	arr *Array[T]
	off int
}

// Plus returns the address off records past p.
func (p Ptr[T]) Plus(off int) Ptr[T] { return Ptr[T]{arr: p.arr, off: p.off + off} }

// Rank returns the id of the rank the addressed memory lives on.
func (p Ptr[T]) Rank() int { return p.arr.rank }

// Get performs a remote read of the record at p and awaits its completion.
func Get[T any](ctx context.Context, p Ptr[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("pgas: get: %w", err)
	}
	if p.arr == nil || p.off < 0 || p.off >= len(p.arr.cells) {
		return zero, fmt.Errorf("pgas: get: offset %d out of range", p.off)
	}
	mu := &p.arr.locks[p.off%lockStripes]
	mu.Lock()
	v := p.arr.cells[p.off]
	mu.Unlock()
	return v, nil
}

// Put performs a remote write of v to the record at p and awaits its
// completion. Put carries no ordering guarantee relative to fetch-add on a
// counter cell; callers that need claim-then-write visibility must arrange it
// themselves.
func Put[T any](ctx context.Context, p Ptr[T], v T) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pgas: put: %w", err)
	}
	if p.arr == nil || p.off < 0 || p.off >= len(p.arr.cells) {
		return fmt.Errorf("pgas: put: offset %d out of range", p.off)
	}
	mu := &p.arr.locks[p.off%lockStripes]
	mu.Lock()
	p.arr.cells[p.off] = v
	mu.Unlock()
	return nil
}
