// Package table implements a distributed, partition-aware hash table for
// fixed-size sequence fragment records. Storage is split across all ranks of
// a pgas world; any rank can claim, write, and read any slot through remote
// operations, with a remote atomic fetch-add as the only coordination
// primitive. Capacity is fixed at construction: no resizing, no eviction.
package table

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/seqforge/kmerdht/kmer"
	"github.com/seqforge/kmerdht/pgas"
)

// Directory keys under which each rank publishes its segment base addresses
// during bootstrap.
const (
	dataKey = "table/data"
	usedKey = "table/used"
)

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(t *Table) { t.log = log }
}

// Table is one rank's handle onto the shared hash table. Every rank holds its
// own handle over the same storage; handles are not safe for use by more than
// one goroutine, the storage underneath is.
type Table struct {
	rank         *pgas.Rank
	capacity     uint64
	slotsPerRank int

	// Base addresses of every rank's segments, indexed by rank id.
	// Immutable after bootstrap.
	data []pgas.Ptr[kmer.Record]
	used []pgas.CtrPtr

	log *slog.Logger
}

// New builds the table collectively: every rank of the world must call New
// with the same capacity. Each rank allocates its local share of the record
// and counter arrays, publishes their base addresses, and after a barrier
// fetches every peer's addresses; a second barrier guarantees no rank starts
// inserting before all ranks can address all storage. Allocation failure on
// any rank aborts the whole collective.
func New(ctx context.Context, r *pgas.Rank, capacity uint64, opts ...Option) (*Table, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("table: capacity must be positive")
	}
	ranks := r.N()

	t := &Table{
		rank:     r,
		capacity: capacity,
		// Pad the local share so that uneven division never leaves the last
		// rank short. Probing always uses the requested capacity, so the
		// padding slots are never addressed.
		slotsPerRank: int(capacity)/ranks + 1,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}

	localData, err := pgas.NewArray[kmer.Record](r, t.slotsPerRank)
	if err != nil {
		return nil, fmt.Errorf("table: record storage: %w", err)
	}
	localUsed, err := pgas.NewCounters(r, t.slotsPerRank)
	if err != nil {
		return nil, fmt.Errorf("table: counter storage: %w", err)
	}
	t.log.Debug("allocated local segments",
		"rank", r.ID(), "slots_per_rank", t.slotsPerRank, "capacity", capacity)

	pgas.Publish(r, dataKey, localData.Ptr())
	pgas.Publish(r, usedKey, localUsed.Ptr())

	if err := r.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("table: bootstrap publish barrier: %w", err)
	}

	t.data = make([]pgas.Ptr[kmer.Record], ranks)
	t.used = make([]pgas.CtrPtr, ranks)
	for peer := 0; peer < ranks; peer++ {
		if t.data[peer], err = pgas.Fetch[pgas.Ptr[kmer.Record]](r, dataKey, peer); err != nil {
			return nil, fmt.Errorf("table: bootstrap: %w", err)
		}
		if t.used[peer], err = pgas.Fetch[pgas.CtrPtr](r, usedKey, peer); err != nil {
			return nil, fmt.Errorf("table: bootstrap: %w", err)
		}
	}

	if err := r.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("table: bootstrap fetch barrier: %w", err)
	}
	t.log.Debug("table ready", "rank", r.ID(), "ranks", ranks)
	return t, nil
}

// Size returns the table's requested total capacity.
func (t *Table) Size() uint64 { return t.capacity }

// Ranks returns the number of ranks the table is partitioned across.
func (t *Table) Ranks() int { return len(t.data) }

// SlotsPerRank returns the padded per-rank slot count.
func (t *Table) SlotsPerRank() int { return t.slotsPerRank }

// Locate maps a logical slot to the rank that stores it and the offset inside
// that rank's segment. Pure; identical on every rank. Valid for
// slot < Size().
func (t *Table) Locate(slot uint64) (rank, offset int) {
	return int(slot / uint64(t.slotsPerRank)), int(slot % uint64(t.slotsPerRank))
}

// Claim performs the remote atomic fetch-add on the slot's occupancy counter
// and returns the counter's prior value. Exactly one caller across all ranks
// observes 0 for a given slot and thereby wins the right to write it; every
// other caller observes a value >= 1. No ordering is implied between a
// winning Claim and the visibility of the subsequent record write.
func (t *Table) Claim(ctx context.Context, slot uint64) (int64, error) {
	rank, offset := t.Locate(slot)
	return t.used[rank].Plus(offset).FetchAdd(ctx, 1)
}

// SlotUsed reports whether the slot has been claimed. Informational only:
// Insert and Find never consult it.
func (t *Table) SlotUsed(ctx context.Context, slot uint64) (bool, error) {
	rank, offset := t.Locate(slot)
	v, err := t.used[rank].Plus(offset).Load(ctx)
	return v != 0, err
}

// ReadSlot reads the record stored at the slot, whatever its claim state.
// Unwritten slots read as the zero record.
func (t *Table) ReadSlot(ctx context.Context, slot uint64) (kmer.Record, error) {
	if slot >= t.capacity {
		return kmer.Record{}, fmt.Errorf("table: slot %d out of range [0,%d)", slot, t.capacity)
	}
	rank, offset := t.Locate(slot)
	return pgas.Get(ctx, t.data[rank].Plus(offset))
}

func (t *Table) writeSlot(ctx context.Context, slot uint64, rec kmer.Record) error {
	rank, offset := t.Locate(slot)
	return pgas.Put(ctx, t.data[rank].Plus(offset), rec)
}

// Insert stores the record in the first free slot along its probe sequence
// h, h+1, ... mod Size(). It returns false, with no error, when all Size()
// probes lose their claim: the table is full along this probe sequence and
// the record is dropped. The record write is awaited before Insert returns
// true, but a concurrent reader on another rank may still observe the claimed
// slot before the write lands.
func (t *Table) Insert(ctx context.Context, rec kmer.Record) (bool, error) {
	h := rec.Kmer.Hash()
	for probe := uint64(0); probe < t.capacity; probe++ {
		slot := (h + probe) % t.capacity
		prior, err := t.Claim(ctx, slot)
		if err != nil {
			return false, err
		}
		if prior == 0 {
			if err := t.writeSlot(ctx, slot, rec); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	t.log.Warn("insert exhausted probe sequence", "rank", t.rank.ID(), "hash", h)
	return false, nil
}

// Find walks the key's probe sequence and compares each stored record's key
// against the query. It ignores occupancy counters entirely: unclaimed slots
// read as the zero record and simply fail the comparison, so a miss always
// scans the full Size() probes before reporting not-found.
func (t *Table) Find(ctx context.Context, key kmer.Kmer) (kmer.Record, bool, error) {
	h := key.Hash()
	for probe := uint64(0); probe < t.capacity; probe++ {
		slot := (h + probe) % t.capacity
		rec, err := t.ReadSlot(ctx, slot)
		if err != nil {
			return kmer.Record{}, false, err
		}
		if rec.Kmer == key {
			return rec, true, nil
		}
	}
	return kmer.Record{}, false, nil
}
