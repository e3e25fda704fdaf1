package aggregate

import (
	"DexMetrics/internal/reference"
	"DexMetrics/internal/retention"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// GaugeState is the last reported controller state of a gauge.
type GaugeState struct {
	Gauge          string          `json:"gauge"`
	Pool           string          `json:"pool"`
	Registered     bool            `json:"registered"`
	RelativeWeight decimal.Decimal `json:"relative_weight"` // fraction, 0..1
	InflationRate  decimal.Decimal `json:"inflation_rate"`  // token units per second
	RewardToken    reference.Token `json:"reward_token"`
}

// RewardSchedule is a permissionless reward stream on a gauge.
type RewardSchedule struct {
	Token        reference.Token `json:"token"`
	Rate         decimal.Decimal `json:"rate"` // token units per second
	PeriodFinish int64           `json:"period_finish"`
}

// State holds every aggregate store of one run. Each store has exactly one
// owning stage; every other consumer uses a Reader.
type State struct {
	Pools     *store.Store[reference.Pool]
	Tokens    *store.Store[reference.Token]
	TokenRefs *store.Store[int64]
	PoolCount *store.Store[int64]
	PoolIndex *store.Store[string]

	Prices *store.Store[decimal.Decimal]
	Fees   *store.Store[decimal.Decimal]

	Balances *store.Store[decimal.Decimal]
	Supply   *store.Store[decimal.Decimal]
	Staked   *store.Store[decimal.Decimal]

	TVL         *store.Store[decimal.Decimal]
	ProtocolTVL *store.Store[decimal.Decimal]

	Volume         *store.Store[decimal.Decimal]
	ProtocolVolume *store.Store[decimal.Decimal]
	Revenue        *store.Store[decimal.Decimal]

	Gauges    *store.Store[GaugeState]
	PoolGauge *store.Store[string]
	Schedules *store.Store[RewardSchedule]
	Rewards   *store.Store[decimal.Decimal]

	Users       *store.Store[int64]
	TxCounts    *store.Store[int64]
	UsageCounts *store.Store[int64]
}

// NewState creates the aggregate stores and registers them in reg.
func NewState(reg *store.Registry) *State {
	return &State{
		Pools:     store.Register(reg, store.NewSetIfAbsent[reference.Pool]("pools")),
		Tokens:    store.Register(reg, store.NewSetIfAbsent[reference.Token]("tokens")),
		TokenRefs: store.Register(reg, store.NewCounter("token_refs")),
		PoolCount: store.Register(reg, store.NewCounter("pool_count")),
		PoolIndex: store.Register(reg, store.NewSetIfAbsent[string]("pool_index")),

		Prices: store.Register(reg, store.NewReplace[decimal.Decimal]("prices")),
		Fees:   store.Register(reg, store.NewReplace[decimal.Decimal]("fees")),

		Balances: store.Register(reg, store.NewDecimalSum("balances")),
		Supply:   store.Register(reg, store.NewDecimalSum("supply")),
		Staked:   store.Register(reg, store.NewDecimalSum("staked")),

		TVL:         store.Register(reg, store.NewReplace[decimal.Decimal]("tvl")),
		ProtocolTVL: store.Register(reg, store.NewDecimalSum("protocol_tvl")),

		Volume:         store.Register(reg, store.NewDecimalSum("volume")),
		ProtocolVolume: store.Register(reg, store.NewDecimalSum("protocol_volume")),
		Revenue:        store.Register(reg, store.NewDecimalSum("revenue")),

		Gauges:    store.Register(reg, store.NewReplace[GaugeState]("gauges")),
		PoolGauge: store.Register(reg, store.NewReplace[string]("pool_gauge")),
		Schedules: store.Register(reg, store.NewReplace[RewardSchedule]("reward_schedules")),
		Rewards:   store.Register(reg, store.NewReplace[decimal.Decimal]("rewards")),

		Users:       store.Register(reg, store.NewSetIfAbsent[int64]("users")),
		TxCounts:    store.Register(reg, store.NewCounter("tx_counts")),
		UsageCounts: store.Register(reg, store.NewCounter("usage_counts")),
	}
}

// Readers is the read-only view of State handed to the materializer and
// the changeset emitter.
type Readers struct {
	Pools     store.Reader[reference.Pool]
	Tokens    store.Reader[reference.Token]
	TokenRefs store.Reader[int64]
	PoolCount store.Reader[int64]
	PoolIndex store.Reader[string]

	Prices store.Reader[decimal.Decimal]
	Fees   store.Reader[decimal.Decimal]

	Balances store.Reader[decimal.Decimal]
	Supply   store.Reader[decimal.Decimal]
	Staked   store.Reader[decimal.Decimal]

	TVL         store.Reader[decimal.Decimal]
	ProtocolTVL store.Reader[decimal.Decimal]

	Volume         store.Reader[decimal.Decimal]
	ProtocolVolume store.Reader[decimal.Decimal]
	Revenue        store.Reader[decimal.Decimal]

	Rewards store.Reader[decimal.Decimal]

	TxCounts    store.Reader[int64]
	UsageCounts store.Reader[int64]
}

func (s *State) Readers() Readers {
	return Readers{
		Pools:          s.Pools.Reader(),
		Tokens:         s.Tokens.Reader(),
		TokenRefs:      s.TokenRefs.Reader(),
		PoolCount:      s.PoolCount.Reader(),
		PoolIndex:      s.PoolIndex.Reader(),
		Prices:         s.Prices.Reader(),
		Fees:           s.Fees.Reader(),
		Balances:       s.Balances.Reader(),
		Supply:         s.Supply.Reader(),
		Staked:         s.Staked.Reader(),
		TVL:            s.TVL.Reader(),
		ProtocolTVL:    s.ProtocolTVL.Reader(),
		Volume:         s.Volume.Reader(),
		ProtocolVolume: s.ProtocolVolume.Reader(),
		Revenue:        s.Revenue.Reader(),
		Rewards:        s.Rewards.Reader(),
		TxCounts:       s.TxCounts.Reader(),
		UsageCounts:    s.UsageCounts.Reader(),
	}
}

// PruneTargets lists every family scoped to g, per entity and protocol-wide.
func (s *State) PruneTargets(g timeframe.Granularity) []retention.Target {
	return []retention.Target{
		{Store: s.Volume, Family: PoolVolumeBuckets.For(g)},
		{Store: s.Volume, Family: TokenVolumeBuckets.For(g)},
		{Store: s.Volume, Family: TokenVolumeUSDBuckets.For(g)},
		{Store: s.ProtocolVolume, Family: ProtocolVolumeBuckets.For(g)},
		{Store: s.Revenue, Family: PoolRevenueBuckets.For(g)},
		{Store: s.Revenue, Family: ProtocolRevenueBuckets.For(g)},
		{Store: s.Users, Family: UserBuckets.For(g)},
		{Store: s.TxCounts, Family: TxCountBuckets.For(g)},
		{Store: s.UsageCounts, Family: ActiveUserBuckets.For(g)},
	}
}

// Directory returns the pool directory backed by the pools and tokens
// stores.
func (s *State) Directory() reference.Directory {
	return NewStoreDirectory(s.Pools.Reader(), s.Tokens.Reader())
}

// StoreDirectory is a reference.Directory over the registry stores.
type StoreDirectory struct {
	pools  store.Reader[reference.Pool]
	tokens store.Reader[reference.Token]
}

func NewStoreDirectory(pools store.Reader[reference.Pool], tokens store.Reader[reference.Token]) *StoreDirectory {
	return &StoreDirectory{pools: pools, tokens: tokens}
}

func (d *StoreDirectory) Pool(address string) (reference.Pool, bool) {
	return d.pools.GetLast(PoolKey(reference.NormalizeAddress(address)))
}

func (d *StoreDirectory) Token(address string) (reference.Token, bool) {
	return d.tokens.GetLast(TokenKey(reference.NormalizeAddress(address)))
}
