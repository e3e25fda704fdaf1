package timeframe

import (
	"errors"
	"fmt"

	"DexMetrics/internal/store"

	"github.com/rs/zerolog"
)

// FamilyCurrentBucket holds the current bucket id of each granularity.
const FamilyCurrentBucket store.Family = "current_bucket"

// ErrOutOfOrderBucket is returned when a bucket id moves backwards.
var ErrOutOfOrderBucket = errors.New("bucket id moved backwards")

// BucketListener is notified when a bucket closes.
type BucketListener interface {
	OnBucketClosed(bucketID int64, g Granularity) error
}

// Boundary is one detected bucket transition.
type Boundary struct {
	Granularity Granularity
	Closed      int64
	Opened      int64
	Ordinal     uint64
}

// Detector turns writes of the current bucket ids into bucket-closed
// notifications. A bucket closes when its id key sees an Update delta whose
// old and new values differ; the first write (Create) never closes anything.
type Detector struct {
	current   *store.Store[int64]
	listeners map[Granularity][]BucketListener
	log       zerolog.Logger
}

// NewDetector registers the detector's stores in reg.
func NewDetector(reg *store.Registry, log zerolog.Logger) *Detector {
	return &Detector{
		current:   store.Register(reg, store.NewReplace[int64]("timeframe_current")),
		listeners: make(map[Granularity][]BucketListener),
		log:       log,
	}
}

// Register appends l to the listeners of g. Listeners run in registration
// order.
func (d *Detector) Register(g Granularity, l BucketListener) {
	d.listeners[g] = append(d.listeners[g], l)
}

func currentKey(g Granularity) store.Key {
	return store.NewKey(FamilyCurrentBucket, g.String())
}

// Observe records the unit's timestamp for every granularity.
func (d *Detector) Observe(ordinal uint64, timestamp int64) {
	for _, g := range All {
		d.current.Set(ordinal, currentKey(g), BucketID(timestamp, g))
	}
}

// Dispatch inspects this unit's deltas and notifies listeners of every
// closed bucket. It returns the boundaries crossed.
func (d *Detector) Dispatch() ([]Boundary, error) {
	var boundaries []Boundary

	for _, delta := range d.current.Deltas() {
		if delta.Operation != store.OpUpdate || delta.OldValue == delta.NewValue {
			continue
		}

		g, err := ParseGranularity(delta.Key.Primary)
		if err != nil {
			return boundaries, fmt.Errorf("boundary key %s: %w", delta.Key, err)
		}

		if delta.NewValue < delta.OldValue {
			return boundaries, fmt.Errorf("%w: %s bucket %d -> %d",
				ErrOutOfOrderBucket, g, delta.OldValue, delta.NewValue)
		}

		b := Boundary{Granularity: g, Closed: delta.OldValue, Opened: delta.NewValue, Ordinal: delta.Ordinal}
		d.log.Debug().
			Str("granularity", g.String()).
			Int64("closed", b.Closed).
			Int64("opened", b.Opened).
			Msg("bucket boundary")

		for _, l := range d.listeners[g] {
			if err := l.OnBucketClosed(b.Closed, g); err != nil {
				return boundaries, fmt.Errorf("%s bucket %d closed: %w", g, b.Closed, err)
			}
		}
		boundaries = append(boundaries, b)
	}

	return boundaries, nil
}

// Current returns the current bucket id of g, as last observed.
func (d *Detector) Current(g Granularity) (int64, bool) {
	return d.current.GetLast(currentKey(g))
}

// Stores returns the stores written by the detector.
func (d *Detector) Stores() []store.Unit {
	return []store.Unit{d.current}
}
