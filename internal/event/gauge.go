package event

import "DexMetrics/internal/reference"

// GaugeUpdate reports a gauge's controller registration and weights.
// RelativeWeight is 1e18-scaled; InflationRate is raw reward-token units
// per second.
type GaugeUpdate struct {
	Header
	Gauge          string
	Registered     bool
	RelativeWeight string
	InflationRate  string
	RewardToken    reference.Token
}

func (e *GaugeUpdate) Kind() Kind { return KindGaugeUpdate }

// RewardUpdate reports a permissionless reward stream on a gauge.
// Rate is raw reward-token units per second, active until PeriodFinish.
type RewardUpdate struct {
	Header
	Gauge        string
	RewardToken  reference.Token
	Rate         string
	PeriodFinish int64
}

func (e *RewardUpdate) Kind() Kind { return KindRewardUpdate }
