package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// VolumeStage accumulates swap volume per pool and per token at the
// cumulative, daily and hourly granularities.
//
// A swap's pool volume is the average of the USD value of its two legs.
// A meta underlying swap only counts the legs whose token belongs to the
// pool. A lending swap counts both legs against the coins they settle in,
// priced as the unwrapped tokens.
type VolumeStage struct {
	env    Env
	dir    reference.Directory
	prices *pricing.Resolver
	volume *store.Store[decimal.Decimal]
}

func NewVolumeStage(env Env, s *State, dir reference.Directory, prices *pricing.Resolver) *VolumeStage {
	return &VolumeStage{env: env, dir: dir, prices: prices, volume: s.Volume}
}

func (v *VolumeStage) Name() string { return "volume" }

func (v *VolumeStage) Outputs() []store.Unit {
	return []store.Unit{v.volume}
}

func (v *VolumeStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		if evt.Kind() != event.KindSwap && evt.Kind() != event.KindSwapUnderlying {
			continue
		}
		v.swap(evt)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

type swapLeg struct {
	coin   string
	amount decimal.Decimal
	usd    decimal.Decimal
}

func (v *VolumeStage) swap(e event.Event) {
	pool, ok := v.dir.Pool(e.PoolAddress())
	if !ok {
		v.env.skip(v.Name(), reasonUnknownPool, e, nil)
		return
	}
	sides, foreign, _ := swapSides(pool, e)
	if foreign {
		v.env.skip(v.Name(), reasonUnknownToken, e, nil)
		return
	}
	if len(sides) == 0 {
		v.env.skip(v.Name(), reasonNoLocalLeg, e, nil)
		return
	}

	ord := e.Ordinal()
	var legs []swapLeg
	for _, l := range sides {
		tok, known := tokenOf(v.dir, l.token)
		if !known {
			v.env.skip(v.Name(), reasonUnknownToken, e, nil)
			return
		}
		amt, err := normalize(l.raw, tok)
		if err != nil {
			v.env.skip(v.Name(), reasonMalformed, e, err)
			return
		}
		price := v.prices.At(ord, tok).Price
		legs = append(legs, swapLeg{coin: l.coin, amount: amt, usd: dexmath.USD(amt, price)})
	}

	usd := make([]decimal.Decimal, len(legs))
	for i, l := range legs {
		usd[i] = l.usd
	}
	poolUSD := dexmath.Average(usd...)

	ts := e.Time()
	v.volume.Add(ord, PoolVolumeKey(pool.Address), poolUSD)
	for _, g := range timeframe.All {
		v.volume.Add(ord, PoolVolumeBucketKey(g, pool.Address, timeframe.BucketID(ts, g)), poolUSD)
	}

	for _, l := range legs {
		v.volume.Add(ord, TokenVolumeKey(pool.Address, l.coin), l.amount)
		for _, g := range timeframe.All {
			bucket := timeframe.BucketID(ts, g)
			v.volume.Add(ord, TokenVolumeBucketKey(g, pool.Address, l.coin, bucket), l.amount)
			v.volume.Add(ord, TokenVolumeUSDBucketKey(g, pool.Address, l.coin, bucket), l.usd)
		}
	}
}

// PoolVolumeKey is the cumulative USD volume of pool.
func PoolVolumeKey(pool string) store.Key {
	return store.NewKey(FamilyPoolVolume, pool)
}

// PoolVolumeBucketKey is the USD volume of pool in one bucket.
func PoolVolumeBucketKey(g timeframe.Granularity, pool string, bucket int64) store.Key {
	return store.NewKey(PoolVolumeBuckets.For(g), pool).InBucket(bucket)
}

// TokenVolumeKey is the cumulative native volume of token in pool.
func TokenVolumeKey(pool, token string) store.Key {
	return store.NewKey(FamilyTokenVolume, pool).With(token)
}

// TokenVolumeBucketKey is the native volume of token in pool in one bucket.
func TokenVolumeBucketKey(g timeframe.Granularity, pool, token string, bucket int64) store.Key {
	return store.NewKey(TokenVolumeBuckets.For(g), pool).With(token).InBucket(bucket)
}

// TokenVolumeUSDBucketKey is the USD volume of token in pool in one bucket.
func TokenVolumeUSDBucketKey(g timeframe.Granularity, pool, token string, bucket int64) store.Key {
	return store.NewKey(TokenVolumeUSDBuckets.For(g), pool).With(token).InBucket(bucket)
}

// ProtocolVolumeKey is the cumulative protocol USD volume.
func ProtocolVolumeKey() store.Key {
	return store.NewKey(FamilyProtocolVolume, ProtocolID)
}

// ProtocolVolumeBucketKey is the protocol USD volume in one bucket.
func ProtocolVolumeBucketKey(g timeframe.Granularity, bucket int64) store.Key {
	return store.NewKey(ProtocolVolumeBuckets.For(g), ProtocolID).InBucket(bucket)
}

// ProtocolVolumeStage rolls pool volume deltas up to protocol scope.
type ProtocolVolumeStage struct {
	env      Env
	volume   store.Reader[decimal.Decimal]
	protocol *store.Store[decimal.Decimal]
}

func NewProtocolVolumeStage(env Env, s *State) *ProtocolVolumeStage {
	return &ProtocolVolumeStage{env: env, volume: s.Volume.Reader(), protocol: s.ProtocolVolume}
}

func (p *ProtocolVolumeStage) Name() string { return "protocol_volume" }

func (p *ProtocolVolumeStage) Outputs() []store.Unit {
	return []store.Unit{p.protocol}
}

func (p *ProtocolVolumeStage) Apply(ctx context.Context, _ *event.Unit) error {
	deltas := store.FilterFamily(p.volume.Deltas(), FamilyPoolVolume, FamilyPoolVolumeDaily, FamilyPoolVolumeHourly)
	for _, d := range deltas {
		if d.Operation == store.OpDelete {
			continue
		}
		change := d.NewValue.Sub(d.OldValue)
		switch d.Key.Family {
		case FamilyPoolVolume:
			p.protocol.Add(d.Ordinal, ProtocolVolumeKey(), change)
		case FamilyPoolVolumeDaily:
			p.protocol.Add(d.Ordinal, ProtocolVolumeBucketKey(timeframe.Daily, d.Key.Bucket), change)
		case FamilyPoolVolumeHourly:
			p.protocol.Add(d.Ordinal, ProtocolVolumeBucketKey(timeframe.Hourly, d.Key.Bucket), change)
		}
	}
	return ctx.Err()
}
