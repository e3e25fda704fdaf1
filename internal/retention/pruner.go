package retention

import (
	"errors"
	"fmt"

	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
)

// ErrPruneBeforeSnapshot is returned when a bucket would be pruned before
// its snapshot exists.
var ErrPruneBeforeSnapshot = errors.New("prune before snapshot")

// FamilyLastClosed holds, per granularity, the bucket that closed most
// recently. That bucket is the next one to prune.
const FamilyLastClosed store.Family = "last_closed_bucket"

// Target is one bucket-scoped family of a store.
type Target struct {
	Store  store.Deleter
	Family store.Family
}

// SnapshotLedger tracks which buckets have been materialized. Forget drops
// the marker of a pruned bucket.
type SnapshotLedger interface {
	HasSnapshot(bucketID int64, g timeframe.Granularity) bool
	Forget(bucketID int64, g timeframe.Granularity)
}

// Prune records one prune attempt.
type Prune struct {
	Granularity timeframe.Granularity
	Bucket      int64
	Families    int
	Noop        bool
}

// Pruner deletes the raw data of the bucket that closed one boundary before
// the one closing now. Its snapshot was taken at that earlier boundary.
// With contiguous buckets this is bucketID-1; when units skip buckets it is
// the last bucket that actually held data.
type Pruner struct {
	targets   map[timeframe.Granularity][]Target
	snapshots SnapshotLedger
	closed    *store.Store[int64]
	log       zerolog.Logger

	pending []Prune
}

// NewPruner registers the pruner's store in reg.
func NewPruner(reg *store.Registry, snapshots SnapshotLedger, log zerolog.Logger) *Pruner {
	return &Pruner{
		targets:   make(map[timeframe.Granularity][]Target),
		snapshots: snapshots,
		closed:    store.Register(reg, store.NewReplace[int64]("retention_last_closed")),
		log:       log,
	}
}

func lastClosedKey(g timeframe.Granularity) store.Key {
	return store.NewKey(FamilyLastClosed, g.String())
}

// Track adds bucket-scoped targets for g.
func (p *Pruner) Track(g timeframe.Granularity, targets ...Target) {
	p.targets[g] = append(p.targets[g], targets...)
}

// Targets returns the tracked targets of g.
func (p *Pruner) Targets(g timeframe.Granularity) []Target {
	return p.targets[g]
}

// OnBucketClosed prunes the bucket that closed before bucketID. The first
// close of a stream has no such bucket and is a no-op on bucketID-1.
func (p *Pruner) OnBucketClosed(bucketID int64, g timeframe.Granularity) error {
	key := lastClosedKey(g)
	target, ok := p.closed.GetLast(key)

	if !ok {
		p.log.Debug().
			Str("granularity", g.String()).
			Int64("bucket", bucketID-1).
			Msg("nothing to prune")
		p.pending = append(p.pending, Prune{Granularity: g, Bucket: bucketID - 1, Noop: true})
		p.closed.Set(0, key, bucketID)
		return nil
	}

	if target >= bucketID {
		return fmt.Errorf("%w: %s bucket %d closed after %d", timeframe.ErrOutOfOrderBucket, g, bucketID, target)
	}
	if !p.snapshots.HasSnapshot(target, g) {
		return fmt.Errorf("%w: %s bucket %d", ErrPruneBeforeSnapshot, g, target)
	}

	for _, t := range p.targets[g] {
		t.Store.DeletePrefix(0, store.BucketPrefix(t.Family, target))
	}
	p.snapshots.Forget(target, g)
	p.closed.Set(0, key, bucketID)

	p.log.Debug().
		Str("granularity", g.String()).
		Int64("bucket", target).
		Int64("closing", bucketID).
		Int("families", len(p.targets[g])).
		Msg("pruned bucket")
	p.pending = append(p.pending, Prune{Granularity: g, Bucket: target, Families: len(p.targets[g])})
	return nil
}

// Pending returns the prunes issued during the current unit.
func (p *Pruner) Pending() []Prune {
	return p.pending
}

// Reset clears the prunes of the current unit.
func (p *Pruner) Reset() {
	p.pending = nil
}

// Outputs returns the stores written by the pruner.
func (p *Pruner) Outputs() []store.Unit {
	return []store.Unit{p.closed}
}
