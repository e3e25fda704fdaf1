package snapshot_test

import (
	"context"
	"testing"

	"DexMetrics/internal/core"
	"DexMetrics/internal/event"
	"DexMetrics/internal/snapshot"
	"DexMetrics/internal/testutil"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newEngine(t *testing.T) (*core.Engine, chan core.Output) {
	t.Helper()
	out := make(chan core.Output, 16)
	e := core.NewEngine(core.DefaultConfig(), out, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	return e, out
}

func process(t *testing.T, e *core.Engine, out chan core.Output, u *event.Unit) snapshot.Batch {
	t.Helper()
	require.NoError(t, e.ProcessUnit(context.Background(), u))
	return (<-out).Snapshots
}

func dailyPool(t *testing.T, b snapshot.Batch, pool string) snapshot.PoolSnapshot {
	t.Helper()
	for _, s := range b.Pools {
		if s.Granularity == timeframe.Daily && s.Pool == pool {
			return s
		}
	}
	t.Fatalf("no daily snapshot for %s", pool)
	return snapshot.PoolSnapshot{}
}

// =============================================================================
// Pool snapshots
// =============================================================================

func TestMaterializer_ZeroTVLWeightsAreZero(t *testing.T) {
	e, out := newEngine(t)

	process(t, e, out, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Deposit(testutil.PoolB, testutil.Alice,
			[]string{"1000000000000000000", "1000000", "1000000"}, "3000000000000000000").
		Build())

	b := process(t, e, out, testutil.NewUnit(2, testutil.Day1).Build())
	s := dailyPool(t, b, testutil.PoolB)

	assert.True(t, s.TVLUSD.IsZero(), "no prices known")
	require.Len(t, s.InputTokenWeights, 3)
	for i, w := range s.InputTokenWeights {
		assert.True(t, w.IsZero(), "weight %d: %s", i, w)
	}
	require.Len(t, s.InputTokenBalances, 3)
	assert.True(t, s.InputTokenBalances[0].Equal(decimal.NewFromInt(1)))
	assert.True(t, s.OutputTokenPriceUSD.IsZero())
}

func TestMaterializer_BalancesUSDSumToTVL(t *testing.T) {
	e, out := newEngine(t)

	process(t, e, out, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolStables(), "1000000", "0",
			testutil.TokenDAI, testutil.TokenUSDC, testutil.TokenUSDT, testutil.TokenLPB).
		Price(testutil.DAI, "1.0001").
		Price(testutil.USDC, "0.9999").
		Price(testutil.USDT, "1.0003").
		Deposit(testutil.PoolB, testutil.Alice,
			[]string{"200000000000000000000", "300000000", "100250000"}, "600000000000000000000").
		Build())

	b := process(t, e, out, testutil.NewUnit(2, testutil.Day1).Build())
	s := dailyPool(t, b, testutil.PoolB)

	sum := decimal.Zero
	weights := decimal.Zero
	for i := range s.InputTokenBalancesUSD {
		sum = sum.Add(s.InputTokenBalancesUSD[i])
		weights = weights.Add(s.InputTokenWeights[i])
	}
	assert.True(t, sum.Equal(s.TVLUSD), "sum %s != tvl %s", sum, s.TVLUSD)
	assert.True(t, weights.Sub(decimal.NewFromInt(100)).Abs().LessThan(decimal.New(1, -12)), "weights sum to 100: %s", weights)
	assert.False(t, s.OutputTokenPriceUSD.IsZero())
}

func TestMaterializer_SnapshotOncePerBucket(t *testing.T) {
	e, out := newEngine(t)
	process(t, e, out, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolUSDCWBTC(), "4000000", "5000000000",
			testutil.TokenUSDC, testutil.TokenWBTC, testutil.TokenLPA).
		Build())

	b := process(t, e, out, testutil.NewUnit(2, testutil.Day1).Build())
	require.Len(t, b.Financials, 2, "daily and hourly")
	require.Len(t, b.Usage, 2)
	assert.Equal(t, int64(1), b.Usage[0].TotalPoolCount)

	// Another unit in the same day and hour closes nothing.
	b = process(t, e, out, testutil.NewUnit(3, testutil.Day1+60).Build())
	assert.True(t, b.Empty())
	assert.True(t, e.Snapshots().HasSnapshot(timeframe.DayID(testutil.Day0), timeframe.Daily))
}

func TestMaterializer_UsageCountsTheClosedBucket(t *testing.T) {
	e, out := newEngine(t)
	process(t, e, out, testutil.NewUnit(1, testutil.Day0).
		RegisterPool(testutil.PoolUSDCWBTC(), "4000000", "5000000000",
			testutil.TokenUSDC, testutil.TokenWBTC, testutil.TokenLPA).
		Deposit(testutil.PoolA, testutil.Alice, []string{"1000000", "100"}, "1000").
		Swap(testutil.PoolA, testutil.Bob, testutil.USDC, "1000", testutil.WBTC, "1").
		Swap(testutil.PoolA, testutil.Bob, testutil.USDC, "1000", testutil.WBTC, "1").
		Build())

	b := process(t, e, out, testutil.NewUnit(2, testutil.Day1).
		Swap(testutil.PoolA, testutil.Alice, testutil.USDC, "1000", testutil.WBTC, "1").
		Build())

	var daily snapshot.UsageSnapshot
	for _, u := range b.Usage {
		if u.Granularity == timeframe.Daily {
			daily = u
		}
	}
	assert.Equal(t, "0", daily.ID)
	assert.Equal(t, int64(2), daily.ActiveUsers)
	assert.Equal(t, int64(2), daily.CumulativeUniqueUsers, "snapshot precedes this unit's writes")
	assert.Equal(t, int64(3), daily.TransactionCount)
	assert.Equal(t, int64(2), daily.SwapCount)
	assert.Equal(t, int64(1), daily.DepositCount)
}
