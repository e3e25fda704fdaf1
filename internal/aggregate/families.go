package aggregate

import (
	"strconv"

	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"
)

// ProtocolID is the primary id of protocol-scope keys.
const ProtocolID = "protocol"

// Reference families.
const (
	FamilyPool      store.Family = "pool"
	FamilyToken     store.Family = "token"
	FamilyTokenRefs store.Family = "token_refs"
	FamilyPoolCount store.Family = "pool_count"
	FamilyPoolIndex store.Family = "pool_index"
)

// Fee families, in percent.
const (
	FamilyFeeTrading  store.Family = "fee_trading"
	FamilyFeeProtocol store.Family = "fee_protocol"
	FamilyFeeLP       store.Family = "fee_lp"
)

// Liquidity families.
const (
	FamilyInputBalance store.Family = "input_balance"
	FamilyOutputSupply store.Family = "output_supply"
	FamilyStaked       store.Family = "staked"
)

// TVL families.
const (
	FamilyTokenTVL    store.Family = "token_tvl"
	FamilyPoolTVL     store.Family = "pool_tvl"
	FamilyProtocolTVL store.Family = "protocol_tvl"
)

// Volume families. Token families key (pool, token).
const (
	FamilyPoolVolume           store.Family = "pool_volume"
	FamilyPoolVolumeDaily      store.Family = "pool_volume_daily"
	FamilyPoolVolumeHourly     store.Family = "pool_volume_hourly"
	FamilyTokenVolume          store.Family = "token_volume"
	FamilyTokenVolumeDaily     store.Family = "token_volume_daily"
	FamilyTokenVolumeHourly    store.Family = "token_volume_hourly"
	FamilyTokenVolumeUSDDaily  store.Family = "token_volume_usd_daily"
	FamilyTokenVolumeUSDHourly store.Family = "token_volume_usd_hourly"
	FamilyProtocolVolume       store.Family = "protocol_volume"
	FamilyProtocolVolumeDaily  store.Family = "protocol_volume_daily"
	FamilyProtocolVolumeHourly store.Family = "protocol_volume_hourly"
)

// Revenue families. The secondary id is the revenue side.
const (
	FamilyPoolRevenue           store.Family = "pool_revenue"
	FamilyPoolRevenueDaily      store.Family = "pool_revenue_daily"
	FamilyPoolRevenueHourly     store.Family = "pool_revenue_hourly"
	FamilyProtocolRevenue       store.Family = "protocol_revenue"
	FamilyProtocolRevenueDaily  store.Family = "protocol_revenue_daily"
	FamilyProtocolRevenueHourly store.Family = "protocol_revenue_hourly"
)

// Revenue sides.
const (
	SideSupply   = "supply"
	SideProtocol = "protocol"
)

// Reward families.
const (
	FamilyGauge          store.Family = "gauge"
	FamilyPoolGauge      store.Family = "pool_gauge"
	FamilyRewardSchedule store.Family = "reward_schedule"
	FamilyRewardNative   store.Family = "reward_native"
	FamilyRewardUSD      store.Family = "reward_usd"
)

// Usage families.
const (
	FamilyUser              store.Family = "user"
	FamilyUserDaily         store.Family = "user_daily"
	FamilyUserHourly        store.Family = "user_hourly"
	FamilyTxCount           store.Family = "tx_count"
	FamilyTxCountDaily      store.Family = "tx_count_daily"
	FamilyTxCountHourly     store.Family = "tx_count_hourly"
	FamilyUniqueUsers       store.Family = "unique_users"
	FamilyActiveUsersDaily  store.Family = "active_users_daily"
	FamilyActiveUsersHourly store.Family = "active_users_hourly"
)

// Transaction counter ids.
const (
	TxSwap     = "swap"
	TxDeposit  = "deposit"
	TxWithdraw = "withdraw"
	TxTotal    = "total"
)

// Bucketed pairs a family with the granularity it is scoped to.
type Bucketed struct {
	Daily  store.Family
	Hourly store.Family
}

// For returns the family of g.
func (b Bucketed) For(g timeframe.Granularity) store.Family {
	if g == timeframe.Hourly {
		return b.Hourly
	}
	return b.Daily
}

var (
	PoolVolumeBuckets      = Bucketed{FamilyPoolVolumeDaily, FamilyPoolVolumeHourly}
	TokenVolumeBuckets     = Bucketed{FamilyTokenVolumeDaily, FamilyTokenVolumeHourly}
	TokenVolumeUSDBuckets  = Bucketed{FamilyTokenVolumeUSDDaily, FamilyTokenVolumeUSDHourly}
	ProtocolVolumeBuckets  = Bucketed{FamilyProtocolVolumeDaily, FamilyProtocolVolumeHourly}
	PoolRevenueBuckets     = Bucketed{FamilyPoolRevenueDaily, FamilyPoolRevenueHourly}
	ProtocolRevenueBuckets = Bucketed{FamilyProtocolRevenueDaily, FamilyProtocolRevenueHourly}
	UserBuckets            = Bucketed{FamilyUserDaily, FamilyUserHourly}
	TxCountBuckets         = Bucketed{FamilyTxCountDaily, FamilyTxCountHourly}
	ActiveUserBuckets      = Bucketed{FamilyActiveUsersDaily, FamilyActiveUsersHourly}
)

// Key helpers.

func PoolKey(pool string) store.Key            { return store.NewKey(FamilyPool, pool) }
func TokenKey(token string) store.Key          { return store.NewKey(FamilyToken, token) }
func TokenRefsKey(token string) store.Key      { return store.NewKey(FamilyTokenRefs, token) }
func PoolCountKey() store.Key                  { return store.NewKey(FamilyPoolCount, ProtocolID) }
func PoolGaugeKey(pool string) store.Key       { return store.NewKey(FamilyPoolGauge, pool) }
func GaugeKey(gauge string) store.Key          { return store.NewKey(FamilyGauge, gauge) }
func ProtocolTVLKey() store.Key                { return store.NewKey(FamilyProtocolTVL, ProtocolID) }
func PoolTVLKey(pool string) store.Key         { return store.NewKey(FamilyPoolTVL, pool) }
func TokenTVLKey(pool, token string) store.Key { return store.NewKey(FamilyTokenTVL, pool).With(token) }
func BalanceKey(pool, token string) store.Key {
	return store.NewKey(FamilyInputBalance, pool).With(token)
}
func SupplyKey(pool string) store.Key { return store.NewKey(FamilyOutputSupply, pool) }
func StakedKey(pool string) store.Key { return store.NewKey(FamilyStaked, pool) }
func UniqueUsersKey() store.Key       { return store.NewKey(FamilyUniqueUsers, ProtocolID) }
func FeeKey(f store.Family, pool string) store.Key {
	return store.NewKey(f, pool)
}

// PoolIndexKey maps a 1-based pool index to its key.
func PoolIndexKey(index int64) store.Key {
	return store.NewKey(FamilyPoolIndex, strconv.FormatInt(index, 10))
}

func ScheduleKey(gauge, token string) store.Key {
	return store.NewKey(FamilyRewardSchedule, gauge).With(token)
}

func RewardNativeKey(pool, token string) store.Key {
	return store.NewKey(FamilyRewardNative, pool).With(token)
}

func RewardUSDKey(pool, token string) store.Key {
	return store.NewKey(FamilyRewardUSD, pool).With(token)
}

// ActiveUsersKey counts the users first seen in bucket.
func ActiveUsersKey(g timeframe.Granularity, bucket int64) store.Key {
	return store.NewKey(ActiveUserBuckets.For(g), ProtocolID).InBucket(bucket)
}

// TxCountKey is a cumulative transaction counter.
func TxCountKey(kind string) store.Key {
	return store.NewKey(FamilyTxCount, kind)
}

// TxCountBucketKey is a bucketed transaction counter.
func TxCountBucketKey(g timeframe.Granularity, kind string, bucket int64) store.Key {
	return store.NewKey(TxCountBuckets.For(g), kind).InBucket(bucket)
}
