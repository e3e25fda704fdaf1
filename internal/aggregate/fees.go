package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
)

// FeeStage derives trading, protocol and LP fee percentages on pool
// registration and fee changes.
type FeeStage struct {
	env  Env
	fees *store.Store[decimal.Decimal]
}

func NewFeeStage(env Env, s *State) *FeeStage {
	return &FeeStage{env: env, fees: s.Fees}
}

func (f *FeeStage) Name() string { return "fees" }

func (f *FeeStage) Outputs() []store.Unit {
	return []store.Unit{f.fees}
}

func (f *FeeStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		var (
			pool          string
			fee, adminFee string
		)
		switch e := evt.(type) {
		case *event.PoolRegistered:
			pool = normalizePool(e).Address
			fee, adminFee = e.Fee, e.AdminFee
		case *event.FeeChanged:
			pool = reference.NormalizeAddress(e.PoolAddress())
			fee, adminFee = e.Fee, e.AdminFee
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fee == "" {
			continue
		}

		pct, err := dexmath.ComputeFeePercentages(fee, adminFee)
		if err != nil {
			f.env.skip(f.Name(), reasonMalformed, evt, err)
			continue
		}

		ord := evt.Ordinal()
		f.fees.Set(ord, FeeKey(FamilyFeeTrading, pool), pct.Trading)
		f.fees.Set(ord, FeeKey(FamilyFeeProtocol, pool), pct.Protocol)
		f.fees.Set(ord, FeeKey(FamilyFeeLP, pool), pct.LP)
	}
	return nil
}

// FeesOf reads the fee split of pool. ok is false when the pool has no
// fee parameters.
func FeesOf(fees store.Reader[decimal.Decimal], pool string) (dexmath.FeePercentages, bool) {
	trading, ok := fees.GetLast(FeeKey(FamilyFeeTrading, pool))
	if !ok {
		return dexmath.FeePercentages{}, false
	}
	protocol, _ := fees.GetLast(FeeKey(FamilyFeeProtocol, pool))
	lp, _ := fees.GetLast(FeeKey(FamilyFeeLP, pool))
	return dexmath.FeePercentages{Trading: trading, Protocol: protocol, LP: lp}, true
}
