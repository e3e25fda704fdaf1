package aggregate_test

import (
	"context"
	"testing"

	"DexMetrics/internal/aggregate"
	"DexMetrics/internal/event"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
	"DexMetrics/internal/testutil"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

type harness struct {
	reg   *store.Registry
	state *aggregate.State
	pipe  *aggregate.Pipeline
	skips []string
}

func newHarness(t *testing.T, lists pricing.Lists) *harness {
	t.Helper()
	reg := store.NewRegistry()
	s := aggregate.NewState(reg)
	h := &harness{reg: reg, state: s}

	env := aggregate.Env{
		Log: zerolog.Nop(),
		OnSkip: func(stage, reason string) {
			h.skips = append(h.skips, stage+":"+reason)
		},
	}
	resolver := pricing.NewResolver(s.Prices.Reader(), lists)
	h.pipe = aggregate.NewPipeline(env, s, s.Directory(), resolver)
	return h
}

// apply runs every level in order, sealing each level's outputs, then
// commits the unit.
func (h *harness) apply(t *testing.T, u *event.Unit) {
	t.Helper()
	require.NoError(t, u.Normalize())
	for _, level := range h.pipe.Levels {
		for _, st := range level {
			require.NoError(t, st.Apply(context.Background(), u), st.Name())
		}
		for _, st := range level {
			for _, out := range st.Outputs() {
				out.Seal()
			}
		}
	}
	h.reg.CommitAll()
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func last(t *testing.T, r store.Reader[decimal.Decimal], k store.Key) decimal.Decimal {
	t.Helper()
	v, _ := r.GetLast(k)
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%s: want %s, got %s", msg, want, got)
}

func registerPoolA(h *harness, t *testing.T) {
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolUSDCWBTC(), "4000000", "5000000000",
			testutil.TokenUSDC, testutil.TokenWBTC, testutil.TokenLPA).
		Price(testutil.USDC, "1").
		Price(testutil.WBTC, "60000").
		Build())
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_IndexesPoolsAndCountsTokenRefs(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		RegisterPool(testutil.PoolStables(), "1000000", "0").
		Build())

	r := h.state.Readers()
	n, _ := r.PoolCount.GetLast(aggregate.PoolCountKey())
	assert.Equal(t, int64(2), n, "duplicate registration must not be counted")

	first, _ := r.PoolIndex.GetLast(aggregate.PoolIndexKey(1))
	second, _ := r.PoolIndex.GetLast(aggregate.PoolIndexKey(2))
	assert.Equal(t, testutil.PoolA, first)
	assert.Equal(t, testutil.PoolB, second)

	refs, _ := r.TokenRefs.GetLast(aggregate.TokenRefsKey(testutil.USDC))
	assert.Equal(t, int64(2), refs, "USDC is shared by both pools")
	refs, _ = r.TokenRefs.GetLast(aggregate.TokenRefsKey(testutil.DAI))
	assert.Equal(t, int64(1), refs)

	pool, ok := h.state.Directory().Pool(testutil.PoolB)
	require.True(t, ok)
	assert.Equal(t, uint64(2), pool.CreatedBlock)
	assert.Equal(t, reference.PoolTypePlain, pool.Type)
}

func TestFees_DerivedOnRegistrationAndReplacedOnChange(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)

	fees, ok := aggregate.FeesOf(h.state.Readers().Fees, testutil.PoolA)
	require.True(t, ok)
	assertDecimal(t, "0.04", fees.Trading, "trading")
	assertDecimal(t, "0.02", fees.Protocol, "protocol")
	assertDecimal(t, "0.02", fees.LP, "lp")

	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).FeeChange(testutil.PoolA, "3000000", "0").Build())
	fees, _ = aggregate.FeesOf(h.state.Readers().Fees, testutil.PoolA)
	assertDecimal(t, "0.03", fees.Trading, "trading after change")
	assert.True(t, fees.Protocol.IsZero())
}

// =============================================================================
// Volume
// =============================================================================

func TestVolume_SwapIsAverageOfLegs(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)

	// 1000 USDC ($1000) for 0.0005 WBTC ($30).
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1000000000", testutil.WBTC, "50000").
		Build())

	r := h.state.Readers()
	day := timeframe.DayID(testutil.Day0)
	hour := timeframe.HourID(testutil.Day0)

	assertDecimal(t, "515", last(t, r.Volume, aggregate.PoolVolumeKey(testutil.PoolA)), "cumulative")
	assertDecimal(t, "515", last(t, r.Volume, aggregate.PoolVolumeBucketKey(timeframe.Daily, testutil.PoolA, day)), "daily")
	assertDecimal(t, "515", last(t, r.Volume, aggregate.PoolVolumeBucketKey(timeframe.Hourly, testutil.PoolA, hour)), "hourly")

	assertDecimal(t, "1000", last(t, r.Volume, aggregate.TokenVolumeKey(testutil.PoolA, testutil.USDC)), "usdc native")
	assertDecimal(t, "0.0005", last(t, r.Volume, aggregate.TokenVolumeBucketKey(timeframe.Daily, testutil.PoolA, testutil.WBTC, day)), "wbtc native daily")
	assertDecimal(t, "30", last(t, r.Volume, aggregate.TokenVolumeUSDBucketKey(timeframe.Daily, testutil.PoolA, testutil.WBTC, day)), "wbtc usd daily")

	assertDecimal(t, "515", last(t, r.ProtocolVolume, aggregate.ProtocolVolumeKey()), "protocol")
	assertDecimal(t, "515", last(t, r.ProtocolVolume, aggregate.ProtocolVolumeBucketKey(timeframe.Daily, day)), "protocol daily")
}

func TestVolume_UnderlyingSwapCountsOnlyLocalLeg(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDC}})
	meta := reference.Pool{
		Address:     "0xmeta",
		InputTokens: []string{testutil.USDC, testutil.LPB},
		OutputToken: "0xmeta_lp",
		Type:        reference.PoolTypeMeta,
		BasePool:    testutil.PoolB,
	}
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(meta, "4000000", "0", testutil.TokenUSDC, testutil.TokenLPB, testutil.TokenDAI).
		Build())

	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		SwapUnderlying(event.UnderlyingMeta, "0xmeta", testutil.Alice,
			testutil.USDC, "100000000", testutil.DAI, "99000000000000000000").
		Build())

	r := h.state.Readers()
	assertDecimal(t, "100", last(t, r.Volume, aggregate.PoolVolumeKey("0xmeta")), "only the USDC leg is local")
	_, ok := r.Volume.GetLast(aggregate.TokenVolumeKey("0xmeta", testutil.DAI))
	assert.False(t, ok, "DAI leg belongs to the base pool")
}

const (
	cDAI     = "0xcdai"
	cUSDC    = "0xcusdc"
	compound = "0xcompound"
)

func registerLendingPool(h *harness, t *testing.T) {
	pool := reference.Pool{
		Address:     compound,
		InputTokens: []string{cDAI, cUSDC},
		OutputToken: "0xcompound_lp",
		Type:        reference.PoolTypeLending,
	}
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(pool, "4000000", "5000000000",
			reference.Token{Address: cDAI, Symbol: "cDAI", Decimals: 8},
			reference.Token{Address: cUSDC, Symbol: "cUSDC", Decimals: 8},
			testutil.TokenDAI, testutil.TokenUSDC).
		Build())
}

func TestVolume_LendingSwapPricesUnwrappedLegs(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDC, testutil.DAI}})
	registerLendingPool(h, t)

	// 100 DAI in through cDAI, 99 USDC out through cUSDC.
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		LendingSwap(compound, testutil.Alice, 0, testutil.DAI, "100000000000000000000", 1, testutil.USDC, "99000000").
		Build())

	r := h.state.Readers()
	day := timeframe.DayID(testutil.Day0)
	assertDecimal(t, "99.5", last(t, r.Volume, aggregate.PoolVolumeKey(compound)), "average of both legs")
	assertDecimal(t, "99.5", last(t, r.Volume, aggregate.PoolVolumeBucketKey(timeframe.Daily, compound, day)), "daily")
	assertDecimal(t, "100", last(t, r.Volume, aggregate.TokenVolumeKey(compound, cDAI)), "sold leg lands on its coin")
	assertDecimal(t, "99", last(t, r.Volume, aggregate.TokenVolumeUSDBucketKey(timeframe.Daily, compound, cUSDC, day)), "bought leg usd")
	_, ok := r.Volume.GetLast(aggregate.TokenVolumeKey(compound, testutil.DAI))
	assert.False(t, ok, "unwrapped token is not a pool coin")

	assertDecimal(t, "100", last(t, r.Balances, aggregate.BalanceKey(compound, cDAI)), "cDAI balance")
	assertDecimal(t, "-99", last(t, r.Balances, aggregate.BalanceKey(compound, cUSDC)), "cUSDC balance")

	// 99.5 * 0.04% = 0.0398, half to the protocol.
	assertDecimal(t, "0.0199", last(t, r.Revenue, aggregate.PoolRevenueKey(compound, aggregate.SideProtocol)), "protocol revenue")
	assert.NotContains(t, h.skips, "volume:no_local_leg")
}

func TestVolume_LendingSwapCoinOutOfRangeIsSkipped(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDC, testutil.DAI}})
	registerLendingPool(h, t)

	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		LendingSwap(compound, testutil.Alice, 0, testutil.DAI, "1000000000000000000", 5, testutil.USDC, "1000000").
		Build())

	r := h.state.Readers()
	_, ok := r.Volume.GetLast(aggregate.PoolVolumeKey(compound))
	assert.False(t, ok)
	_, ok = r.Balances.GetLast(aggregate.BalanceKey(compound, cDAI))
	assert.False(t, ok, "a half-resolved swap moves no balance")
	assert.Contains(t, h.skips, "volume:unknown_token")
}

func TestVolume_UnknownPoolIsSkipped(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		Swap("0xnowhere", testutil.Alice, testutil.USDC, "1", testutil.WBTC, "1").
		Build())

	_, ok := h.state.Readers().Volume.GetLast(aggregate.PoolVolumeKey("0xnowhere"))
	assert.False(t, ok)
	assert.Contains(t, h.skips, "volume:unknown_pool")
}

// =============================================================================
// Balances and TVL
// =============================================================================

func TestTVL_ZeroWhenNoPrices(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Build())
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Deposit(testutil.PoolB, testutil.Alice,
			[]string{"100000000000000000000", "100000000", "100000000"}, "300000000000000000000").
		Build())

	r := h.state.Readers()
	assertDecimal(t, "100", last(t, r.Balances, aggregate.BalanceKey(testutil.PoolB, testutil.DAI)), "dai balance")
	assertDecimal(t, "300", last(t, r.Supply, aggregate.SupplyKey(testutil.PoolB)), "supply")

	tvl, ok := r.TVL.GetLast(aggregate.PoolTVLKey(testutil.PoolB))
	require.True(t, ok)
	assert.True(t, tvl.IsZero())
}

func TestTVL_AdditivityAcrossTokens(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDC}})
	h.apply(t, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Price(testutil.DAI, "0.999").
		Price(testutil.USDT, "1.001").
		Build())
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Deposit(testutil.PoolB, testutil.Alice,
			[]string{"100000000000000000000", "200000000", "300000000"}, "600000000000000000000").
		Swap(testutil.PoolB, testutil.Bob, testutil.USDC, "50000000", testutil.USDT, "49900000").
		Build())

	r := h.state.Readers()
	pool := testutil.PoolStables()
	sum := decimal.Zero
	for _, tok := range pool.InputTokens {
		sum = sum.Add(last(t, r.TVL, aggregate.TokenTVLKey(pool.Address, tok)))
	}
	total := last(t, r.TVL, aggregate.PoolTVLKey(pool.Address))
	assert.True(t, sum.Equal(total), "sum %s != tvl %s", sum, total)

	// 99.9 + 250 + 250.1 * 1.001
	assertDecimal(t, "600.2501", total, "pool tvl")
}

func TestTVL_ProtocolTotalFollowsPoolDeltas(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDC, testutil.USDT, testutil.DAI}})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Deposit(testutil.PoolA, testutil.Alice, []string{"1000000000", "100000000"}, "1").
		Build())
	h.apply(t, testutil.NewUnit(3, testutil.Day0+24).
		Deposit(testutil.PoolB, testutil.Bob, []string{"1000000000000000000", "1000000", "1000000"}, "1").
		Withdraw(testutil.PoolA, testutil.Alice, []string{"500000000", "0"}, "1").
		Build())

	r := h.state.Readers()
	a := last(t, r.TVL, aggregate.PoolTVLKey(testutil.PoolA))
	b := last(t, r.TVL, aggregate.PoolTVLKey(testutil.PoolB))
	assertDecimal(t, "60500", a, "pool a")
	assertDecimal(t, "3", b, "pool b")
	assertDecimal(t, "60503", last(t, r.ProtocolTVL, aggregate.ProtocolTVLKey()), "protocol")
}

func TestBalances_MalformedAmountSkipsOnlyThatToken(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Deposit(testutil.PoolA, testutil.Alice, []string{"1000000", "oops"}, "1").
		Build())

	r := h.state.Readers()
	assertDecimal(t, "1", last(t, r.Balances, aggregate.BalanceKey(testutil.PoolA, testutil.USDC)), "usdc")
	_, ok := r.Balances.GetLast(aggregate.BalanceKey(testutil.PoolA, testutil.WBTC))
	assert.False(t, ok)
	assert.Contains(t, h.skips, "balances:malformed_amount")
}

// =============================================================================
// Revenue
// =============================================================================

func TestRevenue_SplitsFeeOnVolume(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1000000000", testutil.WBTC, "50000").
		Build())

	r := h.state.Readers()
	day := timeframe.DayID(testutil.Day0)
	// 515 * 0.04% = 0.206, half to the protocol.
	assertDecimal(t, "0.103", last(t, r.Revenue, aggregate.PoolRevenueKey(testutil.PoolA, aggregate.SideProtocol)), "protocol side")
	assertDecimal(t, "0.103", last(t, r.Revenue, aggregate.PoolRevenueKey(testutil.PoolA, aggregate.SideSupply)), "supply side")
	assertDecimal(t, "0.103", last(t, r.Revenue, aggregate.ProtocolRevenueBucketKey(timeframe.Daily, aggregate.SideSupply, day)), "protocol daily")
}

func TestRevenue_BucketsOnSwapTime(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)

	// The unit closes an hour after the swap it carries.
	h.apply(t, testutil.NewUnit(2, testutil.Day0+testutil.OneHour).
		At(testutil.Day0+12).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1000000000", testutil.WBTC, "50000").
		Build())

	r := h.state.Readers()
	swapHour := timeframe.HourID(testutil.Day0 + 12)
	unitHour := timeframe.HourID(testutil.Day0 + testutil.OneHour)
	require.NotEqual(t, swapHour, unitHour)

	assertDecimal(t, "515", last(t, r.Volume, aggregate.PoolVolumeBucketKey(timeframe.Hourly, testutil.PoolA, swapHour)), "volume hour")
	assertDecimal(t, "0.103", last(t, r.Revenue, aggregate.PoolRevenueBucketKey(timeframe.Hourly, testutil.PoolA, aggregate.SideSupply, swapHour)), "revenue hour")
	_, ok := r.Revenue.GetLast(aggregate.PoolRevenueBucketKey(timeframe.Hourly, testutil.PoolA, aggregate.SideSupply, unitHour))
	assert.False(t, ok, "revenue must not follow the unit time")
}

// =============================================================================
// Rewards
// =============================================================================

func TestRewards_RegisteredGaugeAndSchedules(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDT}})
	registerPoolA(h, t)

	now := testutil.Day0 + 12
	h.apply(t, testutil.NewUnit(2, now).
		Price(testutil.CRV, "0.5").
		Gauge(testutil.PoolA, testutil.GaugeA, true, "500000000000000000", "1000000000000000000", testutil.TokenCRV).
		Reward(testutil.PoolA, testutil.GaugeA, testutil.TokenUSDT, "1000000", now+1000).
		Reward(testutil.PoolA, testutil.GaugeA, testutil.TokenDAI, "1000000000000000000", now-1).
		Build())

	r := h.state.Readers()
	assertDecimal(t, "43200", last(t, r.Rewards, aggregate.RewardNativeKey(testutil.PoolA, testutil.CRV)), "crv native")
	assertDecimal(t, "21600", last(t, r.Rewards, aggregate.RewardUSDKey(testutil.PoolA, testutil.CRV)), "crv usd")
	assertDecimal(t, "86400", last(t, r.Rewards, aggregate.RewardNativeKey(testutil.PoolA, testutil.USDT)), "active schedule")
	assertDecimal(t, "0", last(t, r.Rewards, aggregate.RewardNativeKey(testutil.PoolA, testutil.DAI)), "expired schedule")
}

func TestRewards_EmissionsGroupedByPool(t *testing.T) {
	h := newHarness(t, pricing.Lists{Stables: []string{testutil.USDT}})
	registerPoolA(h, t)

	now := testutil.Day0 + 12
	h.apply(t, testutil.NewUnit(2, now).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Price(testutil.CRV, "0.5").
		Gauge(testutil.PoolA, testutil.GaugeA, true, "500000000000000000", "1000000000000000000", testutil.TokenCRV).
		Reward(testutil.PoolA, testutil.GaugeA, testutil.TokenUSDT, "1000000", now+1000).
		Gauge(testutil.PoolB, "0xgauge_b", true, "250000000000000000", "1000000000000000000", testutil.TokenCRV).
		Build())

	byPool := aggregate.EmissionsByPool(h.state.Readers().Rewards)
	require.Len(t, byPool, 2)

	a := byPool[testutil.PoolA]
	require.Len(t, a, 2)
	tokens := []string{a[0].Token, a[1].Token}
	assert.ElementsMatch(t, []string{testutil.CRV, testutil.USDT}, tokens)
	for _, em := range a {
		if em.Token == testutil.CRV {
			assertDecimal(t, "43200", em.Native, "pool a crv native")
			assertDecimal(t, "21600", em.USD, "pool a crv usd")
		}
	}

	b := byPool[testutil.PoolB]
	require.Len(t, b, 1)
	assert.Equal(t, testutil.CRV, b[0].Token)
	assertDecimal(t, "21600", b[0].Native, "pool b crv native")
}

func TestRewards_UnregisteredGaugeEmitsNothing(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Gauge(testutil.PoolA, testutil.GaugeA, false, "500000000000000000", "1000000000000000000", testutil.TokenCRV).
		Build())

	v, ok := h.state.Readers().Rewards.GetLast(aggregate.RewardNativeKey(testutil.PoolA, testutil.CRV))
	require.True(t, ok)
	assert.True(t, v.IsZero())
}

func TestStaking_TracksGaugeDeposits(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)
	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Stake(testutil.PoolA, testutil.GaugeA, testutil.Alice, "5000000000000000000", false).
		Stake(testutil.PoolA, testutil.GaugeA, testutil.Alice, "2000000000000000000", true).
		Build())

	assertDecimal(t, "3", last(t, h.state.Readers().Staked, aggregate.StakedKey(testutil.PoolA)), "staked")
}

// =============================================================================
// Usage
// =============================================================================

func TestUsage_UniqueUsersCountedOncePerBucket(t *testing.T) {
	h := newHarness(t, pricing.Lists{})
	registerPoolA(h, t)

	h.apply(t, testutil.NewUnit(2, testutil.Day0+12).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1", testutil.WBTC, "1").
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1", testutil.WBTC, "1").
		Build())

	r := h.state.Readers()
	day := timeframe.DayID(testutil.Day0)
	count := func(k store.Key) int64 {
		v, _ := r.UsageCounts.GetLast(k)
		return v
	}
	assert.Equal(t, int64(1), count(aggregate.UniqueUsersKey()))
	assert.Equal(t, int64(1), count(aggregate.ActiveUsersKey(timeframe.Daily, day)))

	h.apply(t, testutil.NewUnit(3, testutil.Day0+24).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1", testutil.WBTC, "1").
		Deposit(testutil.PoolA, testutil.Bob, []string{"1", "1"}, "1").
		Build())

	assert.Equal(t, int64(2), count(aggregate.UniqueUsersKey()))
	assert.Equal(t, int64(2), count(aggregate.ActiveUsersKey(timeframe.Daily, day)))

	h.apply(t, testutil.NewUnit(4, testutil.Day1).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1", testutil.WBTC, "1").
		Build())

	assert.Equal(t, int64(2), count(aggregate.UniqueUsersKey()))
	assert.Equal(t, int64(1), count(aggregate.ActiveUsersKey(timeframe.Daily, day+1)))

	swaps, _ := r.TxCounts.GetLast(aggregate.TxCountBucketKey(timeframe.Daily, aggregate.TxSwap, day))
	total, _ := r.TxCounts.GetLast(aggregate.TxCountKey(aggregate.TxTotal))
	assert.Equal(t, int64(3), swaps)
	assert.Equal(t, int64(5), total)
}
