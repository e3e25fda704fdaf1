package aggregate

import (
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/reference"
)

// NewPipeline wires every aggregator of s into dependency levels:
//
//	1: registry, prices, fees, gauges, users
//	2: balances, staking, volume, rewards, usage counts
//	3: tvl, protocol volume, revenue
//	4: protocol tvl
//
// A stage only reads stores written at an earlier level.
func NewPipeline(env Env, s *State, dir reference.Directory, prices *pricing.Resolver) *Pipeline {
	return &Pipeline{Levels: []Level{
		{
			NewRegistryStage(env, s),
			NewPriceStage(env, s),
			NewFeeStage(env, s),
			NewGaugeStage(env, s),
			NewUsersStage(env, s),
		},
		{
			NewBalanceStage(env, s, dir),
			NewStakeStage(env, s, dir),
			NewVolumeStage(env, s, dir, prices),
			NewRewardStage(env, s, prices),
			NewUsageCountStage(env, s),
		},
		{
			NewTVLStage(env, s, dir, prices),
			NewProtocolVolumeStage(env, s),
			NewRevenueStage(env, s),
		},
		{
			NewProtocolTVLStage(env, s),
		},
	}}
}
