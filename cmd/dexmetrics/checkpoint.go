package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"DexMetrics/internal/core"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/persistence"

	"github.com/rs/zerolog"
)

// checkpointer takes engine checkpoints every interval units. A checkpoint
// becomes restorable (verified) only once the unit log holds its unit, so a
// restart never restores state ahead of the log it replays from.
type checkpointer struct {
	engine   *core.Engine
	mgr      *persistence.CheckpointManager
	interval uint64
	keep     int
	metrics  *observability.Metrics
	log      zerolog.Logger

	lastTaken uint64 // engine goroutine only

	pending     atomic.Uint64 // saved, awaiting flush; 0 is none
	lastFlushed atomic.Uint64
}

func newCheckpointer(engine *core.Engine, mgr *persistence.CheckpointManager, interval, keep int, metrics *observability.Metrics, log zerolog.Logger) *checkpointer {
	if interval <= 0 {
		interval = 10_000
	}
	c := &checkpointer{
		engine:   engine,
		mgr:      mgr,
		interval: uint64(interval),
		keep:     keep,
		metrics:  metrics,
		log:      log,
	}
	if last, ok := engine.LastUnit(); ok {
		c.lastTaken = last
	}
	return c
}

// afterUnit runs on the engine goroutine after every committed unit.
func (c *checkpointer) afterUnit(ctx context.Context) {
	last, ok := c.engine.LastUnit()
	if !ok || last-c.lastTaken < c.interval {
		return
	}
	if _, err := c.take(ctx); err != nil {
		c.log.Warn().Err(err).Msg("periodic checkpoint failed")
	}
}

// take saves a checkpoint of the committed state. Engine goroutine only.
func (c *checkpointer) take(ctx context.Context) (uint64, error) {
	start := time.Now()

	cp, err := c.engine.CreateCheckpointState()
	if err != nil {
		return 0, err
	}
	size, err := c.mgr.Save(ctx, cp)
	if err != nil {
		return 0, err
	}
	c.lastTaken = cp.UnitNumber

	if c.metrics != nil {
		c.metrics.CheckpointTaken.Inc()
		c.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
		c.metrics.CheckpointSizeBytes.Set(float64(size))
		c.metrics.CheckpointLastUnit.Set(float64(cp.UnitNumber))
		c.metrics.SetStoreSizes(c.engine.Registry().Sizes())
	}
	c.log.Info().Uint64("unit", cp.UnitNumber).Int("bytes", size).Msg("checkpoint saved")

	c.pending.Store(cp.UnitNumber)
	if c.lastFlushed.Load() >= cp.UnitNumber {
		c.verify(ctx)
	}
	return cp.UnitNumber, nil
}

// onFlushed runs on the persistence goroutine after each committed batch.
func (c *checkpointer) onFlushed(units []persistence.UnitRow) {
	if len(units) == 0 {
		return
	}
	c.lastFlushed.Store(units[len(units)-1].UnitNumber)
	c.verify(context.Background())
}

func (c *checkpointer) verify(ctx context.Context) {
	n := c.pending.Load()
	if n == 0 || c.lastFlushed.Load() < n || !c.pending.CompareAndSwap(n, 0) {
		return
	}
	if err := c.mgr.MarkVerified(ctx, n); err != nil {
		c.log.Warn().Err(err).Uint64("unit", n).Msg("checkpoint verification failed")
		c.pending.CompareAndSwap(0, n)
		return
	}
	if c.keep > 0 {
		if pruned, err := c.mgr.Prune(ctx, c.keep); err != nil {
			c.log.Warn().Err(err).Msg("checkpoint prune failed")
		} else if pruned > 0 {
			c.log.Debug().Int64("pruned", pruned).Msg("old checkpoints pruned")
		}
	}
}

// restore loads the latest verified checkpoint into engine. It reports the
// first unit number the unit log must be replayed from.
func restore(ctx context.Context, engine *core.Engine, mgr *persistence.CheckpointManager, log zerolog.Logger) (uint64, error) {
	cp, err := mgr.LoadLatest(ctx)
	if err != nil {
		return 0, err
	}
	if cp == nil {
		log.Info().Msg("no checkpoint found, cold start")
		return 0, nil
	}
	if err := engine.RestoreFromCheckpoint(cp); err != nil {
		return 0, fmt.Errorf("restore checkpoint %d: %w", cp.UnitNumber, err)
	}
	log.Info().Uint64("unit", cp.UnitNumber).Int("stores", len(cp.Stores)).Int("unit_keys", len(cp.UnitKeys)).
		Msg("restored from checkpoint")
	return cp.UnitNumber + 1, nil
}
