package retention_test

import (
	"errors"
	"testing"

	"DexMetrics/internal/retention"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const famDaily store.Family = "pool_volume_daily"

// ledger is an in-memory snapshot ledger.
type ledger map[int64]bool

func (l ledger) HasSnapshot(bucketID int64, _ timeframe.Granularity) bool { return l[bucketID] }
func (l ledger) Forget(bucketID int64, _ timeframe.Granularity)           { delete(l, bucketID) }

func seeded(t *testing.T) *store.Store[decimal.Decimal] {
	t.Helper()
	s := store.NewDecimalSum("volume")
	for bucket := int64(4); bucket <= 6; bucket++ {
		s.Add(1, store.NewKey(famDaily, "0xa").InBucket(bucket), decimal.NewFromInt(bucket))
		s.Add(1, store.NewKey(famDaily, "0xb").InBucket(bucket), decimal.NewFromInt(bucket))
	}
	s.Add(1, store.NewKey("pool_volume", "0xa"), decimal.NewFromInt(15))
	s.Commit()
	return s
}

// newPruner returns a pruner whose first close of bucket `first` has been
// committed, so the next close prunes it.
func newPruner(t *testing.T, snapshots retention.SnapshotLedger, first int64) (*retention.Pruner, *store.Registry) {
	t.Helper()
	reg := store.NewRegistry()
	p := retention.NewPruner(reg, snapshots, zerolog.Nop())
	if first >= 0 {
		require.NoError(t, p.OnBucketClosed(first, timeframe.Daily))
		reg.CommitAll()
		p.Reset()
	}
	return p, reg
}

func TestPruner_DeletesOnlyPreviousBucket(t *testing.T) {
	s := seeded(t)
	snapshots := ledger{4: true, 5: true}
	p, _ := newPruner(t, snapshots, 4)
	p.Track(timeframe.Daily, retention.Target{Store: s, Family: famDaily})

	require.NoError(t, p.OnBucketClosed(5, timeframe.Daily))
	s.Commit()

	_, ok := s.GetLast(store.NewKey(famDaily, "0xa").InBucket(4))
	assert.False(t, ok)
	_, ok = s.GetLast(store.NewKey(famDaily, "0xb").InBucket(4))
	assert.False(t, ok)

	for _, bucket := range []int64{5, 6} {
		v, ok := s.GetLast(store.NewKey(famDaily, "0xa").InBucket(bucket))
		require.True(t, ok, "bucket %d", bucket)
		assert.True(t, v.Equal(decimal.NewFromInt(bucket)))
	}
	_, ok = s.GetLast(store.NewKey("pool_volume", "0xa"))
	assert.True(t, ok, "unscoped keys are never pruned")

	require.Len(t, p.Pending(), 1)
	assert.Equal(t, retention.Prune{Granularity: timeframe.Daily, Bucket: 4, Families: 1}, p.Pending()[0])
	assert.Equal(t, ledger{5: true}, snapshots, "pruned bucket's marker is released")
}

func TestPruner_PrunesAcrossBucketGap(t *testing.T) {
	s := seeded(t)
	p, reg := newPruner(t, ledger{4: true, 6: true}, 4)
	p.Track(timeframe.Daily, retention.Target{Store: s, Family: famDaily})

	// Bucket 5 had no units: 6 closes straight after 4.
	require.NoError(t, p.OnBucketClosed(6, timeframe.Daily))
	s.Commit()
	reg.CommitAll()

	_, ok := s.GetLast(store.NewKey(famDaily, "0xa").InBucket(4))
	assert.False(t, ok, "bucket before the gap must be pruned")
	require.Len(t, p.Pending(), 1)
	assert.Equal(t, int64(4), p.Pending()[0].Bucket)
	assert.False(t, p.Pending()[0].Noop)

	// The next close prunes 6, never the empty 5 or 7.
	p.Reset()
	require.NoError(t, p.OnBucketClosed(9, timeframe.Daily))
	require.Len(t, p.Pending(), 1)
	assert.Equal(t, int64(6), p.Pending()[0].Bucket)
}

func TestPruner_FirstCloseIsNoop(t *testing.T) {
	s := seeded(t)
	p, _ := newPruner(t, ledger{}, -1)
	p.Track(timeframe.Daily, retention.Target{Store: s, Family: famDaily})

	require.NoError(t, p.OnBucketClosed(0, timeframe.Daily))
	assert.Empty(t, s.Deltas())
	require.Len(t, p.Pending(), 1)
	assert.True(t, p.Pending()[0].Noop)
	assert.Equal(t, int64(-1), p.Pending()[0].Bucket)

	p.Reset()
	assert.Empty(t, p.Pending())
}

func TestPruner_RefusesBucketWithoutSnapshot(t *testing.T) {
	s := seeded(t)
	snapshots := ledger{4: true}
	p, _ := newPruner(t, snapshots, 4)
	p.Track(timeframe.Daily, retention.Target{Store: s, Family: famDaily})
	delete(snapshots, 4)

	err := p.OnBucketClosed(5, timeframe.Daily)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retention.ErrPruneBeforeSnapshot))
	assert.Empty(t, s.Deltas(), "nothing deleted")
}

func TestPruner_RefusesBackwardsClose(t *testing.T) {
	p, _ := newPruner(t, ledger{4: true}, 4)

	err := p.OnBucketClosed(4, timeframe.Daily)
	require.Error(t, err)
	assert.True(t, errors.Is(err, timeframe.ErrOutOfOrderBucket))
}

func TestPruner_TargetsAreScopedByGranularity(t *testing.T) {
	s := seeded(t)
	p, _ := newPruner(t, ledger{4: true}, 4)
	p.Track(timeframe.Hourly, retention.Target{Store: s, Family: famDaily})

	require.NoError(t, p.OnBucketClosed(5, timeframe.Daily))
	assert.Empty(t, s.Deltas(), "no daily targets tracked")
	assert.Len(t, p.Targets(timeframe.Hourly), 1)
	assert.Empty(t, p.Targets(timeframe.Daily))
}
