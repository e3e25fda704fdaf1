package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
)

// PriceStage writes oracle rows into the price tables.
type PriceStage struct {
	env    Env
	prices *store.Store[decimal.Decimal]
}

func NewPriceStage(env Env, s *State) *PriceStage {
	return &PriceStage{env: env, prices: s.Prices}
}

func (p *PriceStage) Name() string { return "prices" }

func (p *PriceStage) Outputs() []store.Unit {
	return []store.Unit{p.prices}
}

func (p *PriceStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		e, ok := evt.(*event.PriceUpdate)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		price, err := decimal.NewFromString(e.PriceUSD)
		if err != nil {
			p.env.skip(p.Name(), reasonMalformed, e, err)
			continue
		}

		ord := e.Ordinal()
		switch e.Source {
		case event.PriceSourcePrimary:
			if e.Token != "" {
				p.prices.Set(ord, pricing.AddressKey(pricing.FamilyPrimaryByAddress, e.Token), price)
			}
			if e.Symbol != "" {
				p.prices.Set(ord, pricing.SymbolKey(pricing.FamilyPrimaryBySymbol, e.Symbol), price)
			}
		case event.PriceSourceSecondary:
			if e.Symbol != "" {
				p.prices.Set(ord, pricing.SymbolKey(pricing.FamilySecondaryBySymbol, e.Symbol), price)
			}
		case event.PriceSourceFallbackA:
			if e.Token != "" {
				p.prices.Set(ord, pricing.AddressKey(pricing.FamilyFallbackA, e.Token), price)
			}
		case event.PriceSourceFallbackB:
			if e.Token != "" {
				p.prices.Set(ord, pricing.AddressKey(pricing.FamilyFallbackB, e.Token), price)
			}
		default:
			p.env.skip(p.Name(), "unknown_source", e, nil)
		}
	}
	return nil
}
