package pgas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWorldRejectsZeroRanks(t *testing.T) {
	_, err := NewWorld(0)
	require.Error(t, err)
}

func TestRankOutOfRange(t *testing.T) {
	w, err := NewWorld(3)
	require.NoError(t, err)

	_, err = w.Rank(-1)
	require.Error(t, err)
	_, err = w.Rank(3)
	require.Error(t, err)

	r, err := w.Rank(2)
	require.NoError(t, err)
	require.Equal(t, 2, r.ID())
	require.Equal(t, 3, r.N())
}

func TestRunExecutesEveryRank(t *testing.T) {
	const n = 8
	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Run(context.Background(), n, func(_ context.Context, r *Rank) error {
		mu.Lock()
		seen[r.ID()] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, n)
}

func TestRunPropagatesErrorWithoutDeadlock(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), 4, func(ctx context.Context, r *Rank) error {
		if r.ID() == 2 {
			return boom
		}
		// The failing rank never arrives; cancellation must release us.
		return r.Barrier(ctx)
	})
	require.ErrorIs(t, err, boom)
}

func TestBarrierRendezvous(t *testing.T) {
	const n = 6
	var before atomic.Int64

	err := Run(context.Background(), n, func(ctx context.Context, r *Rank) error {
		before.Add(1)
		if err := r.Barrier(ctx); err != nil {
			return err
		}
		if got := before.Load(); got != n {
			return fmt.Errorf("rank %d passed barrier with %d arrivals", r.ID(), got)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBarrierReusable(t *testing.T) {
	const n = 4
	const rounds = 10
	var counter atomic.Int64

	err := Run(context.Background(), n, func(ctx context.Context, r *Rank) error {
		for round := 0; round < rounds; round++ {
			counter.Add(1)
			if err := r.Barrier(ctx); err != nil {
				return err
			}
			if got := counter.Load(); got < int64(n*(round+1)) {
				return fmt.Errorf("round %d: counter %d", round, got)
			}
			if err := r.Barrier(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBarrierCancelPoisons(t *testing.T) {
	w, err := NewWorld(2)
	require.NoError(t, err)
	r0, err := w.Rank(0)
	require.NoError(t, err)
	r1, err := w.Rank(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = r0.Barrier(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Late arrivals see a poisoned barrier instead of hanging.
	err = r1.Barrier(context.Background())
	require.ErrorIs(t, err, ErrBarrierBroken)
}

func TestPublishFetchAllToAll(t *testing.T) {
	const n = 5
	err := Run(context.Background(), n, func(ctx context.Context, r *Rank) error {
		Publish(r, "addr", r.ID()*10)
		if err := r.Barrier(ctx); err != nil {
			return err
		}
		for peer := 0; peer < n; peer++ {
			v, err := Fetch[int](r, "addr", peer)
			if err != nil {
				return err
			}
			if v != peer*10 {
				return fmt.Errorf("rank %d fetched %d from peer %d", r.ID(), v, peer)
			}
		}
		return r.Barrier(ctx)
	})
	require.NoError(t, err)
}

func TestFetchUnpublished(t *testing.T) {
	w, err := NewWorld(2)
	require.NoError(t, err)
	r, err := w.Rank(0)
	require.NoError(t, err)

	_, err = Fetch[int](r, "missing", 1)
	require.ErrorIs(t, err, ErrNotPublished)

	_, err = Fetch[int](r, "missing", 7)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotPublished)
}

func TestFetchWrongType(t *testing.T) {
	w, err := NewWorld(1)
	require.NoError(t, err)
	r, err := w.Rank(0)
	require.NoError(t, err)

	Publish(r, "addr", "not an int")
	_, err = Fetch[int](r, "addr", 0)
	require.Error(t, err)
}
