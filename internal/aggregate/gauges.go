package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
)

// weightDecimals is the fixed-point scale of gauge relative weights.
const weightDecimals = 18

// GaugeStage tracks gauge controller state and permissionless reward
// schedules.
type GaugeStage struct {
	env       Env
	gauges    *store.Store[GaugeState]
	poolGauge *store.Store[string]
	schedules *store.Store[RewardSchedule]
}

func NewGaugeStage(env Env, s *State) *GaugeStage {
	return &GaugeStage{env: env, gauges: s.Gauges, poolGauge: s.PoolGauge, schedules: s.Schedules}
}

func (g *GaugeStage) Name() string { return "gauges" }

func (g *GaugeStage) Outputs() []store.Unit {
	return []store.Unit{g.gauges, g.poolGauge, g.schedules}
}

func (g *GaugeStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		switch e := evt.(type) {
		case *event.GaugeUpdate:
			g.gaugeUpdate(e)
		case *event.RewardUpdate:
			g.rewardUpdate(e)
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (g *GaugeStage) gaugeUpdate(e *event.GaugeUpdate) {
	gauge := reference.NormalizeAddress(e.Gauge)
	pool := reference.NormalizeAddress(e.PoolAddress())

	weight, err := dexmath.NormalizeAmount(e.RelativeWeight, weightDecimals)
	if err != nil {
		g.env.skip(g.Name(), reasonMalformed, e, err)
		return
	}
	token := e.RewardToken
	token.Address = reference.NormalizeAddress(token.Address)
	rate, err := dexmath.NormalizeAmount(e.InflationRate, token.Decimals)
	if err != nil {
		g.env.skip(g.Name(), reasonMalformed, e, err)
		return
	}

	ord := e.Ordinal()
	g.gauges.Set(ord, GaugeKey(gauge), GaugeState{
		Gauge:          gauge,
		Pool:           pool,
		Registered:     e.Registered,
		RelativeWeight: weight,
		InflationRate:  rate,
		RewardToken:    token,
	})
	if pool != "" {
		g.poolGauge.Set(ord, PoolGaugeKey(pool), gauge)
	}
}

func (g *GaugeStage) rewardUpdate(e *event.RewardUpdate) {
	gauge := reference.NormalizeAddress(e.Gauge)
	token := e.RewardToken
	token.Address = reference.NormalizeAddress(token.Address)
	if token.Address == "" {
		g.env.skip(g.Name(), reasonUnknownToken, e, nil)
		return
	}

	rate, err := dexmath.NormalizeAmount(e.Rate, token.Decimals)
	if err != nil {
		g.env.skip(g.Name(), reasonMalformed, e, err)
		return
	}

	ord := e.Ordinal()
	g.schedules.Set(ord, ScheduleKey(gauge, token.Address), RewardSchedule{
		Token:        token,
		Rate:         rate,
		PeriodFinish: e.PeriodFinish,
	})
	if pool := reference.NormalizeAddress(e.PoolAddress()); pool != "" {
		g.poolGauge.Set(ord, PoolGaugeKey(pool), gauge)
	}
}
