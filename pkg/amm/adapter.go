package amm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"venue-swap/pkg/metrics"
)

// LiquiditySource fetches the current pool state
type LiquiditySource interface {
	FetchPools(ctx context.Context) ([]Pool, uint64, error)
}

// SnapshotCache persists the last good snapshot between runs
type SnapshotCache interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Swapper answers best-route queries
type Swapper interface {
	BestSwap(ctx context.Context, q Query) (BestSwap, error)
}

// Adapter caches liquidity and answers best-route queries against it. Readers always see
// a complete snapshot: refreshes build a new one and publish it with a single store.
type Adapter struct {
	source LiquiditySource
	finder PathFinder
	cache  SnapshotCache
	log    *zap.Logger

	snapshot  atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

// Option configures an Adapter
type Option func(*Adapter)

// WithCache persists snapshots to c and lets Warm restore them
func WithCache(c SnapshotCache) Option {
	return func(a *Adapter) { a.cache = c }
}

// WithLogger sets the adapter's logger
func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// NewAdapter creates an adapter with an empty snapshot
func NewAdapter(source LiquiditySource, finder PathFinder, opts ...Option) *Adapter {
	a := &Adapter{
		source: source,
		finder: finder,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.finder == nil {
		a.finder = NewWeightedPathFinder(DefaultMaxHops)
	}
	return a
}

// Snapshot returns the currently published snapshot, possibly nil
func (a *Adapter) Snapshot() *Snapshot {
	return a.snapshot.Load()
}

// RefreshLiquidity fetches pools and publishes a new snapshot. On failure the previous
// snapshot stays in place and queries keep running against it.
func (a *Adapter) RefreshLiquidity(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	pools, block, err := a.source.FetchPools(ctx)
	if err != nil {
		metrics.LiquidityRefresh.WithLabelValues("error").Inc()
		fields := []zap.Field{zap.Error(err)}
		if prev := a.snapshot.Load(); prev != nil {
			fields = append(fields, zap.Uint64("stale_block", prev.Block), zap.Duration("age", time.Since(prev.FetchedAt)))
		}
		a.log.Warn("liquidity refresh failed, keeping last snapshot", fields...)
		return fmt.Errorf("refresh liquidity: %w", err)
	}

	snap := NewSnapshot(pools, block, time.Now())
	a.snapshot.Store(snap)
	metrics.LiquidityRefresh.WithLabelValues("ok").Inc()
	a.log.Debug("liquidity refreshed", zap.Int("pools", len(snap.Pools)), zap.Uint64("block", block))

	if a.cache != nil {
		if err := a.cache.Save(ctx, snap); err != nil {
			a.log.Warn("failed to cache snapshot", zap.Error(err))
		}
	}
	return nil
}

// Warm publishes the cached snapshot if nothing has been fetched yet
func (a *Adapter) Warm(ctx context.Context) error {
	if a.cache == nil || a.snapshot.Load() != nil {
		return nil
	}
	snap, err := a.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cached snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	a.snapshot.CompareAndSwap(nil, NewSnapshot(snap.Pools, snap.Block, snap.FetchedAt))
	a.log.Info("warmed liquidity from cache", zap.Int("pools", len(snap.Pools)), zap.Uint64("block", snap.Block))
	return nil
}

// BestSwap runs q against the current snapshot. An empty snapshot yields NoSwaps.
func (a *Adapter) BestSwap(ctx context.Context, q Query) (BestSwap, error) {
	snap := a.snapshot.Load()
	if snap.Empty() {
		return NoSwaps(), nil
	}
	return a.finder.FindBestSwap(ctx, snap, q)
}

// Run refreshes liquidity every interval until ctx is done, calling onRefresh after each
// successful refresh.
func (a *Adapter) Run(ctx context.Context, interval time.Duration, onRefresh func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RefreshLiquidity(ctx); err != nil {
				continue
			}
			if onRefresh != nil {
				onRefresh()
			}
		}
	}
}
