package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/seqforge/kmerdht/kmer"
	"github.com/seqforge/kmerdht/pgas"
	"github.com/seqforge/kmerdht/snapshot"
	"github.com/seqforge/kmerdht/table"
)

const (
	ranks        = 4
	perRank      = 512
	capacity     = uint64(ranks*perRank) * 2 // keep the load factor at 0.5
	snapshotPath = "table.snapshot"
)

// fragment builds the i-th synthetic record: a base-4 encoding of i as the
// sequence, flanked by fixed extensions.
func fragment(i int) kmer.Record {
	buf := make([]byte, kmer.Length)
	for pos := range buf {
		buf[pos] = "ACGT"[i%4]
		i /= 4
	}
	rec, err := kmer.NewRecord(string(buf), 'A', 'T')
	if err != nil {
		panic(err)
	}
	return rec
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log.Info("booting world", "ranks", ranks, "capacity", capacity)

	err := pgas.Run(context.Background(), ranks, func(ctx context.Context, r *pgas.Rank) error {
		tbl, err := table.New(ctx, r, capacity, table.WithLogger(log))
		if err != nil {
			return err
		}

		// Bulk load: each rank owns a disjoint batch of fragments.
		for j := 0; j < perRank; j++ {
			rec := fragment(1 + r.ID()*perRank + j)
			ok, err := tbl.Insert(ctx, rec)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rank %d: table full while loading fragment %d", r.ID(), j)
			}
		}
		log.Info("bulk load done", "rank", r.ID(), "fragments", perRank)

		if err := r.Barrier(ctx); err != nil {
			return err
		}

		// Cross-rank lookups: read back a neighbour rank's batch.
		peer := (r.ID() + 1) % ranks
		for j := 0; j < perRank; j++ {
			want := fragment(1 + peer*perRank + j)
			got, found, err := tbl.Find(ctx, want.Kmer)
			if err != nil {
				return err
			}
			if !found || got != want {
				return fmt.Errorf("rank %d: fragment %d of rank %d not readable", r.ID(), j, peer)
			}
		}
		log.Info("cross-rank lookups verified", "rank", r.ID(), "peer", peer)

		if err := r.Barrier(ctx); err != nil {
			return err
		}

		if r.ID() == 0 {
			f, err := os.Create(snapshotPath)
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := snapshot.Write(ctx, f, tbl)
			if err != nil {
				return err
			}
			log.Info("snapshot written", "path", snapshotPath, "records", n)
		}
		return nil
	})
	if err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}

	f, err := os.Open(snapshotPath)
	if err != nil {
		log.Error("open snapshot", "err", err)
		os.Exit(1)
	}
	defer f.Close()
	m, err := snapshot.Read(f)
	if err != nil {
		log.Error("read snapshot", "err", err)
		os.Exit(1)
	}
	log.Info("snapshot verified",
		"capacity", m.Capacity,
		"claimed_slots", m.Claimed.GetCardinality(),
		"records", len(m.Records))
}
