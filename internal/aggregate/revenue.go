package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// RevenueStage derives supply-side and protocol-side revenue from pool
// volume deltas and the pool's fee split. Buckets follow the time of the
// swap that produced each delta.
type RevenueStage struct {
	env     Env
	volume  store.Reader[decimal.Decimal]
	fees    store.Reader[decimal.Decimal]
	revenue *store.Store[decimal.Decimal]
}

func NewRevenueStage(env Env, s *State) *RevenueStage {
	return &RevenueStage{env: env, volume: s.Volume.Reader(), fees: s.Fees.Reader(), revenue: s.Revenue}
}

func (r *RevenueStage) Name() string { return "revenue" }

func (r *RevenueStage) Outputs() []store.Unit {
	return []store.Unit{r.revenue}
}

func (r *RevenueStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, d := range store.FilterFamily(r.volume.Deltas(), FamilyPoolVolume) {
		if d.Operation == store.OpDelete {
			continue
		}
		pool := d.Key.Primary
		fees, ok := FeesOf(r.fees, pool)
		if !ok {
			r.env.skip(r.Name(), reasonMissingFees, nil, nil)
			continue
		}

		ts := u.TimeAt(d.Ordinal)
		protocol, supply := fees.Revenue(d.NewValue.Sub(d.OldValue))
		for _, side := range []struct {
			id     string
			amount decimal.Decimal
		}{{SideProtocol, protocol}, {SideSupply, supply}} {
			r.revenue.Add(d.Ordinal, PoolRevenueKey(pool, side.id), side.amount)
			r.revenue.Add(d.Ordinal, ProtocolRevenueKey(side.id), side.amount)
			for _, g := range timeframe.All {
				bucket := timeframe.BucketID(ts, g)
				r.revenue.Add(d.Ordinal, PoolRevenueBucketKey(g, pool, side.id, bucket), side.amount)
				r.revenue.Add(d.Ordinal, ProtocolRevenueBucketKey(g, side.id, bucket), side.amount)
			}
		}
	}
	return ctx.Err()
}

func PoolRevenueKey(pool, side string) store.Key {
	return store.NewKey(FamilyPoolRevenue, pool).With(side)
}

func PoolRevenueBucketKey(g timeframe.Granularity, pool, side string, bucket int64) store.Key {
	return store.NewKey(PoolRevenueBuckets.For(g), pool).With(side).InBucket(bucket)
}

func ProtocolRevenueKey(side string) store.Key {
	return store.NewKey(FamilyProtocolRevenue, ProtocolID).With(side)
}

func ProtocolRevenueBucketKey(g timeframe.Granularity, side string, bucket int64) store.Key {
	return store.NewKey(ProtocolRevenueBuckets.For(g), ProtocolID).With(side).InBucket(bucket)
}
