package pgas

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Counters is a segment of integer cells supporting remote atomic fetch-add,
// allocated on one rank and addressable from every rank. Cells start at zero.
type Counters struct {
	rank  int
	cells []atomic.Int64
}

// NewCounters allocates a segment of n counter cells on rank r.
func NewCounters(r *Rank, n int) (*Counters, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pgas: rank %d: cannot allocate %d counters", r.id, n)
	}
	return &Counters{rank: r.id, cells: make([]atomic.Int64, n)}, nil
}

// Len returns the number of cells in the segment.
func (c *Counters) Len() int { return len(c.cells) }

// Rank returns the id of the rank the segment lives on.
func (c *Counters) Rank() int { return c.rank }

// Ptr returns the segment's remote-reachable base address.
func (c *Counters) Ptr() CtrPtr { return CtrPtr{arr: c} }

// CtrPtr is a global address of one counter cell.
type CtrPtr struct {
	arr *Counters
	off int
}

// Plus returns the address off cells past p.
func (p CtrPtr) Plus(off int) CtrPtr { return CtrPtr{arr: p.arr, off: p.off + off} }

// Rank returns the id of the rank the addressed cell lives on.
func (p CtrPtr) Rank() int { return p.arr.rank }

// FetchAdd atomically adds delta to the cell at p and returns the cell's
// prior value. The add is totally ordered per cell across all ranks; this is
// the substrate's only cross-rank arbitration primitive.
func (p CtrPtr) FetchAdd(ctx context.Context, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("pgas: fetch-add: %w", err)
	}
	if p.arr == nil || p.off < 0 || p.off >= len(p.arr.cells) {
		return 0, fmt.Errorf("pgas: fetch-add: offset %d out of range", p.off)
	}
	return p.arr.cells[p.off].Add(delta) - delta, nil
}

// Load atomically reads the cell at p without mutating it.
func (p CtrPtr) Load(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("pgas: load: %w", err)
	}
	if p.arr == nil || p.off < 0 || p.off >= len(p.arr.cells) {
		return 0, fmt.Errorf("pgas: load: offset %d out of range", p.off)
	}
	return p.arr.cells[p.off].Load(), nil
}
