// Package catalog keeps the reference data used to resolve discounts: states,
// distributors, bonus types, consumption tiers and discount rules.
//
// The data lives in an immutable Snapshot. Reload builds a new snapshot from
// the store and swaps it in atomically, so readers never observe a partially
// loaded dataset.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/rules"
)

// Source reads reference data. domain.Repository satisfies it.
type Source interface {
	ListStates(ctx context.Context) ([]*domain.State, error)
	ListDistributors(ctx context.Context) ([]*domain.Distributor, error)
	ListBonusTypes(ctx context.Context) ([]*domain.BonusType, error)
	ListTiers(ctx context.Context) ([]*domain.ConsumptionTier, error)
	ListRules(ctx context.Context) ([]*domain.DiscountRule, error)
}

// Catalog serves the current snapshot and reloads it on demand.
type Catalog struct {
	source      Source
	engine      *rules.Engine
	maxAttempts uint64

	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	// Serializes reloads so versions are published in order.
	reloadMu sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithMaxAttempts bounds how many times Reload reads the store before giving
// up. Values below one mean a single attempt.
func WithMaxAttempts(n uint64) Option {
	return func(c *Catalog) {
		c.maxAttempts = n
	}
}

// New creates a catalog holding an empty snapshot. Call Reload to load data.
func New(source Source, engine *rules.Engine, opts ...Option) *Catalog {
	c := &Catalog{
		source:      source,
		engine:      engine,
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}

	empty, _ := Build(0, nil, engine)
	c.current.Store(empty)
	return c
}

// Snapshot returns the snapshot currently in effect. Callers should fetch it
// once per request and use it throughout.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload reads the store, builds a new snapshot and swaps it in. On failure
// the previous snapshot stays active.
func (c *Catalog) Reload(ctx context.Context) (*Snapshot, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	start := time.Now()

	ds, err := c.loadWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	snap, err := Build(c.version.Load()+1, ds, c.engine)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	c.version.Store(snap.Version)
	c.current.Store(snap)

	slog.Info("catalog reloaded",
		"version", snap.Version,
		"distributors", len(ds.Distributors),
		"tiers", len(ds.Tiers),
		"rules", len(ds.Rules),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

// Load builds a snapshot directly from a dataset, bypassing the store.
func (c *Catalog) Load(ds *domain.Dataset) (*Snapshot, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	snap, err := Build(c.version.Load()+1, ds, c.engine)
	if err != nil {
		return nil, err
	}
	c.version.Store(snap.Version)
	c.current.Store(snap)
	return snap, nil
}

func (c *Catalog) loadWithRetry(ctx context.Context) (*domain.Dataset, error) {
	var ds *domain.Dataset

	retries := uint64(0)
	if c.maxAttempts > 1 {
		retries = c.maxAttempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)

	err := backoff.RetryNotify(func() error {
		var err error
		ds, err = c.load(ctx)
		return err
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("catalog load failed, retrying", "error", err, "wait_ms", wait.Milliseconds())
	})
	return ds, err
}

// load reads the five reference tables concurrently.
func (c *Catalog) load(ctx context.Context) (*domain.Dataset, error) {
	ds := &domain.Dataset{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		ds.States, err = c.source.ListStates(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.Distributors, err = c.source.ListDistributors(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.BonusTypes, err = c.source.ListBonusTypes(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.Tiers, err = c.source.ListTiers(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.Rules, err = c.source.ListRules(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Watch reloads the catalog every interval until ctx is done. Failed reloads
// are logged and the previous snapshot is kept.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Reload(ctx); err != nil {
				slog.Error("periodic catalog reload failed", "error", err)
			}
		}
	}
}
