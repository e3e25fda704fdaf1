package snapshot

import (
	"fmt"

	"DexMetrics/internal/aggregate"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FamilyTaken marks a (granularity, bucket) as materialized.
const FamilyTaken store.Family = "snapshot_taken"

// Materializer emits immutable pool and protocol snapshots when a bucket
// closes. It runs before any stage of the unit writes, so every read sees
// the state committed through the end of the closed bucket.
type Materializer struct {
	r     aggregate.Readers
	dir   reference.Directory
	taken *store.Store[int64]
	log   zerolog.Logger

	block   uint64
	pending Batch
}

func NewMaterializer(reg *store.Registry, r aggregate.Readers, dir reference.Directory, log zerolog.Logger) *Materializer {
	return &Materializer{
		r:     r,
		dir:   dir,
		taken: store.Register(reg, store.NewSetIfAbsent[int64]("snapshots_taken")),
		log:   log,
	}
}

func takenKey(bucket int64, g timeframe.Granularity) store.Key {
	return store.NewKey(FamilyTaken, g.String()).InBucket(bucket)
}

// Begin records the number of the unit being processed.
func (m *Materializer) Begin(block uint64) {
	m.block = block
}

// HasSnapshot reports whether bucket of g has been materialized.
func (m *Materializer) HasSnapshot(bucketID int64, g timeframe.Granularity) bool {
	_, ok := m.taken.GetLast(takenKey(bucketID, g))
	return ok
}

// Forget drops the marker of bucketID once its raw data is pruned. Bucket
// ids only move forward, so the marker is never needed again.
func (m *Materializer) Forget(bucketID int64, g timeframe.Granularity) {
	m.taken.DeletePrefix(0, store.EntityPrefix(FamilyTaken, g.String()).InBucket(bucketID))
}

// OnBucketClosed materializes bucketID. A bucket is materialized at most
// once.
func (m *Materializer) OnBucketClosed(bucketID int64, g timeframe.Granularity) error {
	if m.HasSnapshot(bucketID, g) {
		m.log.Debug().
			Str("granularity", g.String()).
			Int64("bucket", bucketID).
			Msg("bucket already materialized")
		return nil
	}

	count, _ := m.r.PoolCount.GetLast(aggregate.PoolCountKey())
	emissions := aggregate.EmissionsByPool(m.r.Rewards)
	pools := make([]PoolSnapshot, 0, count)
	for i := int64(1); i <= count; i++ {
		addr, ok := m.r.PoolIndex.GetLast(aggregate.PoolIndexKey(i))
		if !ok {
			return fmt.Errorf("pool index %d of %d missing", i, count)
		}
		pool, ok := m.dir.Pool(addr)
		if !ok {
			return fmt.Errorf("indexed pool %s missing from directory", addr)
		}
		pools = append(pools, m.poolSnapshot(pool, bucketID, g, emissions[pool.Address]))
	}

	m.pending.Pools = append(m.pending.Pools, pools...)
	m.pending.Financials = append(m.pending.Financials, m.financials(bucketID, g))
	m.pending.Usage = append(m.pending.Usage, m.usage(bucketID, g, count))
	m.taken.SetIfNotExists(0, takenKey(bucketID, g), count)

	m.log.Info().
		Str("granularity", g.String()).
		Int64("bucket", bucketID).
		Int("pools", len(pools)).
		Msg("bucket materialized")
	return nil
}

func (m *Materializer) poolSnapshot(pool reference.Pool, bucket int64, g timeframe.Granularity, emissions []aggregate.RewardEmission) PoolSnapshot {
	s := PoolSnapshot{
		ID:          PoolSnapshotID(pool.Address, bucket),
		Pool:        pool.Address,
		Granularity: g,
		Bucket:      bucket,
		Timestamp:   timeframe.BucketStart(bucket, g),
		BlockNumber: m.block,

		TVLUSD:              last(m.r.TVL, aggregate.PoolTVLKey(pool.Address)),
		VolumeUSD:           last(m.r.Volume, aggregate.PoolVolumeBucketKey(g, pool.Address, bucket)),
		CumulativeVolumeUSD: last(m.r.Volume, aggregate.PoolVolumeKey(pool.Address)),

		InputTokens: pool.InputTokens,

		OutputTokenSupply:       last(m.r.Supply, aggregate.SupplyKey(pool.Address)),
		StakedOutputTokenAmount: last(m.r.Staked, aggregate.StakedKey(pool.Address)),

		SupplySideRevenueUSD:             last(m.r.Revenue, aggregate.PoolRevenueBucketKey(g, pool.Address, aggregate.SideSupply, bucket)),
		ProtocolSideRevenueUSD:           last(m.r.Revenue, aggregate.PoolRevenueBucketKey(g, pool.Address, aggregate.SideProtocol, bucket)),
		CumulativeSupplySideRevenueUSD:   last(m.r.Revenue, aggregate.PoolRevenueKey(pool.Address, aggregate.SideSupply)),
		CumulativeProtocolSideRevenueUSD: last(m.r.Revenue, aggregate.PoolRevenueKey(pool.Address, aggregate.SideProtocol)),
	}
	s.OutputTokenPriceUSD = dexmath.Div(s.TVLUSD, s.OutputTokenSupply)

	n := len(pool.InputTokens)
	s.InputTokenBalances = make([]decimal.Decimal, n)
	s.InputTokenBalancesUSD = make([]decimal.Decimal, n)
	s.InputTokenWeights = make([]decimal.Decimal, n)
	s.InputTokenVolumes = make([]decimal.Decimal, n)
	s.InputTokenVolumesUSD = make([]decimal.Decimal, n)
	for i, tok := range pool.InputTokens {
		s.InputTokenBalances[i] = last(m.r.Balances, aggregate.BalanceKey(pool.Address, tok))
		s.InputTokenBalancesUSD[i] = last(m.r.TVL, aggregate.TokenTVLKey(pool.Address, tok))
		s.InputTokenWeights[i] = dexmath.Percent(s.InputTokenBalancesUSD[i], s.TVLUSD)
		s.InputTokenVolumes[i] = last(m.r.Volume, aggregate.TokenVolumeBucketKey(g, pool.Address, tok, bucket))
		s.InputTokenVolumesUSD[i] = last(m.r.Volume, aggregate.TokenVolumeUSDBucketKey(g, pool.Address, tok, bucket))
	}

	for _, em := range emissions {
		s.RewardTokens = append(s.RewardTokens, em.Token)
		s.RewardTokenEmissions = append(s.RewardTokenEmissions, em.Native)
		s.RewardTokenEmissionsUSD = append(s.RewardTokenEmissionsUSD, em.USD)
	}

	return s
}

func (m *Materializer) financials(bucket int64, g timeframe.Granularity) FinancialsSnapshot {
	f := FinancialsSnapshot{
		ID:          ProtocolSnapshotID(bucket),
		Granularity: g,
		Bucket:      bucket,
		Timestamp:   timeframe.BucketStart(bucket, g),
		BlockNumber: m.block,

		TVLUSD:              last(m.r.ProtocolTVL, aggregate.ProtocolTVLKey()),
		VolumeUSD:           last(m.r.ProtocolVolume, aggregate.ProtocolVolumeBucketKey(g, bucket)),
		CumulativeVolumeUSD: last(m.r.ProtocolVolume, aggregate.ProtocolVolumeKey()),

		SupplySideRevenueUSD:             last(m.r.Revenue, aggregate.ProtocolRevenueBucketKey(g, aggregate.SideSupply, bucket)),
		ProtocolSideRevenueUSD:           last(m.r.Revenue, aggregate.ProtocolRevenueBucketKey(g, aggregate.SideProtocol, bucket)),
		CumulativeSupplySideRevenueUSD:   last(m.r.Revenue, aggregate.ProtocolRevenueKey(aggregate.SideSupply)),
		CumulativeProtocolSideRevenueUSD: last(m.r.Revenue, aggregate.ProtocolRevenueKey(aggregate.SideProtocol)),
	}
	f.TotalRevenueUSD = f.SupplySideRevenueUSD.Add(f.ProtocolSideRevenueUSD)
	f.CumulativeTotalRevenueUSD = f.CumulativeSupplySideRevenueUSD.Add(f.CumulativeProtocolSideRevenueUSD)
	return f
}

func (m *Materializer) usage(bucket int64, g timeframe.Granularity, pools int64) UsageSnapshot {
	return UsageSnapshot{
		ID:          ProtocolSnapshotID(bucket),
		Granularity: g,
		Bucket:      bucket,
		Timestamp:   timeframe.BucketStart(bucket, g),
		BlockNumber: m.block,

		ActiveUsers:           last(m.r.UsageCounts, aggregate.ActiveUsersKey(g, bucket)),
		CumulativeUniqueUsers: last(m.r.UsageCounts, aggregate.UniqueUsersKey()),
		TransactionCount:      last(m.r.TxCounts, aggregate.TxCountBucketKey(g, aggregate.TxTotal, bucket)),
		DepositCount:          last(m.r.TxCounts, aggregate.TxCountBucketKey(g, aggregate.TxDeposit, bucket)),
		WithdrawCount:         last(m.r.TxCounts, aggregate.TxCountBucketKey(g, aggregate.TxWithdraw, bucket)),
		SwapCount:             last(m.r.TxCounts, aggregate.TxCountBucketKey(g, aggregate.TxSwap, bucket)),
		TotalPoolCount:        pools,
	}
}

func last[V any](r store.Reader[V], k store.Key) V {
	v, _ := r.GetLast(k)
	return v
}

// Pending returns the snapshots materialized during the current unit.
func (m *Materializer) Pending() Batch {
	return m.pending
}

// Reset drops the current unit's snapshots. Called after commit and on
// rollback.
func (m *Materializer) Reset() {
	m.pending = Batch{}
}

// Outputs returns the stores written by the materializer.
func (m *Materializer) Outputs() []store.Unit {
	return []store.Unit{m.taken}
}
