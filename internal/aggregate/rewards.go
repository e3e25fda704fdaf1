package aggregate

import (
	"context"
	"sort"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// rewardWindow is the emission window, one day of seconds. Emission does
// not depend on the time elapsed since the previous update.
var rewardWindow = decimal.NewFromInt(timeframe.SecondsPerDay)

// RewardStage recomputes a pool's daily reward emissions whenever its gauge
// or its liquidity changes.
type RewardStage struct {
	env       Env
	prices    *pricing.Resolver
	gauges    store.Reader[GaugeState]
	poolGauge store.Reader[string]
	schedules store.Reader[RewardSchedule]
	rewards   *store.Store[decimal.Decimal]
}

func NewRewardStage(env Env, s *State, prices *pricing.Resolver) *RewardStage {
	return &RewardStage{
		env:       env,
		prices:    prices,
		gauges:    s.Gauges.Reader(),
		poolGauge: s.PoolGauge.Reader(),
		schedules: s.Schedules.Reader(),
		rewards:   s.Rewards,
	}
}

func (r *RewardStage) Name() string { return "rewards" }

func (r *RewardStage) Outputs() []store.Unit {
	return []store.Unit{r.rewards}
}

func (r *RewardStage) Apply(ctx context.Context, u *event.Unit) error {
	touched := make(map[string]uint64)
	for _, evt := range u.Events {
		var pool string
		switch e := evt.(type) {
		case *event.GaugeUpdate:
			pool = r.poolOf(e.PoolAddress(), e.Gauge)
		case *event.RewardUpdate:
			pool = r.poolOf(e.PoolAddress(), e.Gauge)
		case *event.Stake, *event.Deposit, *event.Withdraw:
			pool = reference.NormalizeAddress(evt.PoolAddress())
		default:
			continue
		}
		if pool == "" {
			continue
		}
		touched[pool] = evt.Ordinal()
	}

	pools := make([]string, 0, len(touched))
	for p := range touched {
		pools = append(pools, p)
	}
	sort.Strings(pools)

	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.recompute(touched[pool], pool, u.Timestamp)
	}
	return nil
}

func (r *RewardStage) poolOf(pool, gauge string) string {
	if pool = reference.NormalizeAddress(pool); pool != "" {
		return pool
	}
	if gs, ok := r.gauges.GetLast(GaugeKey(reference.NormalizeAddress(gauge))); ok {
		return gs.Pool
	}
	return ""
}

func (r *RewardStage) recompute(ord uint64, pool string, now int64) {
	gauge, ok := r.poolGauge.GetLast(PoolGaugeKey(pool))
	if !ok {
		return
	}

	if gs, ok := r.gauges.GetLast(GaugeKey(gauge)); ok && gs.RewardToken.Address != "" {
		native := decimal.Zero
		if gs.Registered {
			native = gs.InflationRate.Mul(gs.RelativeWeight).Mul(rewardWindow)
		}
		r.set(ord, pool, gs.RewardToken, native)
	}

	r.schedules.Scan(store.EntityPrefix(FamilyRewardSchedule, gauge), func(_ store.Key, s RewardSchedule) bool {
		native := decimal.Zero
		if now < s.PeriodFinish {
			native = s.Rate.Mul(rewardWindow)
		}
		r.set(ord, pool, s.Token, native)
		return true
	})
}

func (r *RewardStage) set(ord uint64, pool string, token reference.Token, native decimal.Decimal) {
	usd := dexmath.USD(native, r.prices.At(ord, token).Price)
	r.rewards.Set(ord, RewardNativeKey(pool, token.Address), native)
	r.rewards.Set(ord, RewardUSDKey(pool, token.Address), usd)
}

// RewardEmission is one reward token's daily emission for a pool.
type RewardEmission struct {
	Token  string
	Native decimal.Decimal
	USD    decimal.Decimal
}

// EmissionsByPool groups every pool's reward emissions, in token order,
// from one pass over the native reward family.
func EmissionsByPool(r store.Reader[decimal.Decimal]) map[string][]RewardEmission {
	out := make(map[string][]RewardEmission)
	r.Scan(store.FamilyPrefix(FamilyRewardNative), func(k store.Key, native decimal.Decimal) bool {
		usd, _ := r.GetLast(RewardUSDKey(k.Primary, k.Secondary))
		out[k.Primary] = append(out[k.Primary], RewardEmission{Token: k.Secondary, Native: native, USD: usd})
		return true
	})
	return out
}
