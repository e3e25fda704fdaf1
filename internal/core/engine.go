package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DexMetrics/internal/aggregate"
	"DexMetrics/internal/changeset"
	"DexMetrics/internal/event"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/retention"
	"DexMetrics/internal/snapshot"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// ErrInvariant wraps structural invariant violations. The engine panics on
// them after rolling the unit back.
var ErrInvariant = errors.New("invariant violated")

// Config configures the engine.
type Config struct {
	Protocol changeset.Protocol
	Lists    pricing.Lists
	// Workers bounds concurrent stages within one dependency level.
	Workers     int
	LRUCapacity int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Protocol: changeset.Protocol{
			ID:            "curve-finance",
			Name:          "Curve Finance",
			Slug:          "curve-finance",
			Network:       "MAINNET",
			SchemaVersion: "1.3.0",
		},
		Workers:     4,
		LRUCapacity: 100_000,
	}
}

// Engine applies processing units to every store all-or-nothing.
type Engine struct {
	reg          *store.Registry
	state        *aggregate.State
	detector     *timeframe.Detector
	materializer *snapshot.Materializer
	pruner       *retention.Pruner
	pipeline     *aggregate.Pipeline
	emitter      *changeset.Emitter

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	workers           pond.Pool

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Output is everything one committed unit produced.
type Output struct {
	UnitNumber uint64
	UnitHash   string
	Timestamp  int64
	Changeset  *changeset.Changeset
	Boundaries []timeframe.Boundary
	Snapshots  snapshot.Batch
	Prunes     []retention.Prune
	Digest     []byte
	StateHash  [32]byte
	PrevHash   [32]byte
	// Payload is the unit's wire form; replay decodes it again.
	Payload []byte
}

func NewEngine(
	cfg Config,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
	tiers ...UnitChecker,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = DefaultConfig().LRUCapacity
	}

	reg := store.NewRegistry()
	state := aggregate.NewState(reg)
	dir := state.Directory()
	readers := state.Readers()

	e := &Engine{
		reg:               reg,
		state:             state,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, tiers...),
		sequenceValidator: NewSequenceValidator(),
		workers:           pond.NewPool(cfg.Workers),
		metrics:           metrics,
		log:               log,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}

	e.detector = timeframe.NewDetector(reg, observability.Module(log, "timeframe"))
	e.materializer = snapshot.NewMaterializer(reg, readers, dir, observability.Module(log, "snapshot"))
	e.pruner = retention.NewPruner(reg, e.materializer, observability.Module(log, "retention"))
	for _, g := range timeframe.All {
		e.pruner.Track(g, state.PruneTargets(g)...)
		// Snapshot first: the pruner requires the previous bucket's snapshot.
		e.detector.Register(g, e.materializer)
		e.detector.Register(g, e.pruner)
	}

	env := aggregate.Env{
		Log:    observability.Module(log, "aggregate"),
		OnSkip: e.recordSkip,
	}
	resolver := pricing.NewResolver(state.Prices.Reader(), cfg.Lists)
	e.pipeline = aggregate.NewPipeline(env, state, dir, resolver)
	e.emitter = changeset.NewEmitter(reg, readers, dir, e.materializer, cfg.Protocol)

	return e
}

func (e *Engine) recordSkip(stage, reason string) {
	if e.metrics != nil {
		e.metrics.EventsSkipped.WithLabelValues(stage, reason).Inc()
	}
}

// ProcessUnit applies one unit. A duplicate unit is a no-op. A failed unit
// leaves every store as of the last committed unit and may be retried.
func (e *Engine) ProcessUnit(ctx context.Context, u *event.Unit) error {
	return e.process(ctx, u, false)
}

// ReplayUnit re-applies a unit read back from the unit log. Only the LRU is
// consulted for dedupe, since the cold tiers hold every logged unit.
func (e *Engine) ReplayUnit(ctx context.Context, u *event.Unit) error {
	return e.process(ctx, u, true)
}

func (e *Engine) process(ctx context.Context, u *event.Unit, replay bool) error {
	start := time.Now()
	unitKey := u.Key()

	// Step 1: Idempotency check (tiered)
	var isDuplicate bool
	var tier string
	if replay {
		isDuplicate, tier = e.idempotency.IsDuplicateHot(unitKey), "lru"
	} else {
		isDuplicate, tier = e.idempotency.IsDuplicate(unitKey)
	}

	// Step 2: Unit ordering
	last, started := e.sequenceValidator.Last()
	if err := e.sequenceValidator.ValidateUnit(u.Number, isDuplicate); err != nil {
		e.reject("out_of_order")
		if e.metrics != nil {
			e.metrics.UnitOutOfOrder.Inc()
		}
		return fmt.Errorf("unit validation failed: %w", err)
	}

	if isDuplicate {
		e.reject("duplicate")
		if e.metrics != nil {
			e.metrics.UnitDuplicates.WithLabelValues(tier).Inc()
		}
		e.log.Debug().Uint64("unit", u.Number).Str("tier", tier).Msg("duplicate unit skipped")
		return nil
	}

	if started && u.Number > last+1 && e.metrics != nil {
		e.metrics.UnitGaps.Inc()
	}

	if err := u.Normalize(); err != nil {
		e.reject("malformed")
		return fmt.Errorf("normalize unit: %w", err)
	}

	// Step 3: Apply every stage
	out, err := e.apply(ctx, u)
	if err != nil {
		e.rollback()
		if errors.Is(err, ErrInvariant) {
			ulog := observability.ForUnit(e.log, u.Number, u.Hash)
			ulog.Error().Err(err).Msg("structural invariant violated")
			panic(fmt.Sprintf("FATAL: unit %d: %v", u.Number, err))
		}
		e.reject("error")
		return fmt.Errorf("apply unit %d: %w", u.Number, err)
	}

	// Step 4: Commit
	e.reg.CommitAll()
	e.materializer.Reset()
	e.pruner.Reset()
	e.sequenceValidator.Advance(u.Number)
	e.idempotency.MarkProcessed(unitKey)

	// Step 5: Emit outputs
	// Persist channel uses a blocking send (backpressure); projection channel
	// uses a non-blocking send and drops on full.
	if e.persistChan != nil {
		select {
		case e.persistChan <- *out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- *out
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- *out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("entities").Inc()
			}
		}
	}

	e.record(u, out, time.Since(start))
	return nil
}

func (e *Engine) apply(ctx context.Context, u *event.Unit) (*Output, error) {
	out := &Output{
		UnitNumber: u.Number,
		UnitHash:   u.Hash,
		Timestamp:  u.Timestamp,
		Payload:    u.Raw,
	}

	// Level 0: boundaries fire before any stage writes, so listeners read
	// the state committed through the end of the closed bucket.
	e.materializer.Begin(u.Number)
	e.detector.Observe(0, u.Timestamp)
	boundaries, err := e.detector.Dispatch()
	if err != nil {
		return nil, classify(err)
	}
	out.Boundaries = boundaries
	sealAll(e.detector.Stores())
	sealAll(e.materializer.Outputs())
	sealAll(e.pruner.Outputs())

	// Levels 1..n
	for i, level := range e.pipeline.Levels {
		if err := e.runLevel(ctx, level, u); err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		for _, st := range level {
			sealAll(st.Outputs())
		}
	}

	// Final level: changeset
	cs, err := e.emitter.Emit(u)
	if err != nil {
		return nil, fmt.Errorf("emit changeset: %w", err)
	}
	sealAll(e.emitter.Outputs())

	digest, err := cs.Digest()
	if err != nil {
		return nil, fmt.Errorf("changeset digest: %w", err)
	}

	hashStart := time.Now()
	out.PrevHash = e.hasher.GetPrevHash()
	out.StateHash = e.hasher.ComputeHash(u.Number, u.Hash, digest)
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	out.Changeset = cs
	out.Digest = digest
	out.Snapshots = e.materializer.Pending()
	out.Prunes = e.pruner.Pending()
	return out, nil
}

// runLevel applies the stages of one level concurrently. Stages of a level
// write disjoint stores and read only sealed stores of earlier levels.
func (e *Engine) runLevel(ctx context.Context, level aggregate.Level, u *event.Unit) error {
	if len(level) == 1 {
		return e.runStage(ctx, level[0], u)
	}

	group := e.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, st := range level {
		group.SubmitErr(func() error {
			return e.runStage(groupCtx, st, u)
		})
	}
	return group.Wait()
}

func (e *Engine) runStage(ctx context.Context, st aggregate.Stage, u *event.Unit) error {
	start := time.Now()
	if err := st.Apply(ctx, u); err != nil {
		return fmt.Errorf("stage %s: %w", st.Name(), err)
	}
	if e.metrics != nil {
		e.metrics.StageDuration.WithLabelValues(st.Name()).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Engine) rollback() {
	e.reg.RollbackAll()
	e.materializer.Reset()
	e.pruner.Reset()
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.UnitsRejected.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) record(u *event.Unit, out *Output, elapsed time.Duration) {
	l := e.log.Debug().
		Uint64("unit", u.Number).
		Int("events", len(u.Events)).
		Int("rows", len(out.Changeset.Rows)).
		Dur("elapsed", elapsed)
	for _, b := range out.Boundaries {
		l = l.Int64("closed_"+b.Granularity.String(), b.Closed)
	}
	l.Msg("unit committed")

	if e.metrics == nil {
		return
	}

	e.metrics.UnitsApplied.Inc()
	e.metrics.UnitDuration.Observe(elapsed.Seconds())
	e.metrics.LastUnit.Set(float64(u.Number))
	for kind, n := range u.CountByKind() {
		e.metrics.EventsApplied.WithLabelValues(kind.String()).Add(float64(n))
	}
	for entity, n := range out.Changeset.Count() {
		e.metrics.ChangesetRows.WithLabelValues(string(entity)).Add(float64(n))
	}
	for _, b := range out.Boundaries {
		e.metrics.BucketsClosed.WithLabelValues(b.Granularity.String()).Inc()
	}
	for _, s := range out.Snapshots.Pools {
		e.metrics.SnapshotsMaterialized.WithLabelValues(s.Granularity.String(), "pool").Inc()
	}
	for _, s := range out.Snapshots.Financials {
		e.metrics.SnapshotsMaterialized.WithLabelValues(s.Granularity.String(), "financials").Inc()
	}
	for _, s := range out.Snapshots.Usage {
		e.metrics.SnapshotsMaterialized.WithLabelValues(s.Granularity.String(), "usage").Inc()
	}
	for _, p := range out.Prunes {
		result := "pruned"
		if p.Noop {
			result = "noop"
		}
		e.metrics.BucketsPruned.WithLabelValues(p.Granularity.String(), result).Inc()
	}
	e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))
}

// classify wraps structural invariant violations in ErrInvariant.
func classify(err error) error {
	if errors.Is(err, timeframe.ErrOutOfOrderBucket) || errors.Is(err, retention.ErrPruneBeforeSnapshot) {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	return err
}

func sealAll(units []store.Unit) {
	for _, u := range units {
		u.Seal()
	}
}

// State returns the engine's stores. Callers must not write to them.
func (e *Engine) State() *aggregate.State {
	return e.state
}

// Registry returns the engine's store registry.
func (e *Engine) Registry() *store.Registry {
	return e.reg
}

// Snapshots reports which buckets have been materialized.
func (e *Engine) Snapshots() retention.SnapshotLedger {
	return e.materializer
}

// ProtocolCreated reports whether the protocol row has been emitted.
func (e *Engine) ProtocolCreated() bool {
	return e.emitter.ProtocolCreated()
}

// LastUnit returns the last committed unit number.
func (e *Engine) LastUnit() (uint64, bool) {
	return e.sequenceValidator.Last()
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Close stops the stage worker pool.
func (e *Engine) Close() {
	e.workers.StopAndWait()
}
