package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/pricing"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
)

// TVLStage recomputes a pool's TVL on every input-balance delta.
//
// The token whose balance changed is read as of the delta's ordinal; every
// other token at its last value. All per-token values and the pool total
// are written at the same ordinal so they always add up.
type TVLStage struct {
	env      Env
	dir      reference.Directory
	prices   *pricing.Resolver
	balances store.Reader[decimal.Decimal]
	tvl      *store.Store[decimal.Decimal]
}

func NewTVLStage(env Env, s *State, dir reference.Directory, prices *pricing.Resolver) *TVLStage {
	return &TVLStage{env: env, dir: dir, prices: prices, balances: s.Balances.Reader(), tvl: s.TVL}
}

func (t *TVLStage) Name() string { return "tvl" }

func (t *TVLStage) Outputs() []store.Unit {
	return []store.Unit{t.tvl}
}

func (t *TVLStage) Apply(ctx context.Context, _ *event.Unit) error {
	for _, d := range store.FilterFamily(t.balances.Deltas(), FamilyInputBalance) {
		if err := ctx.Err(); err != nil {
			return err
		}
		pool, ok := t.dir.Pool(d.Key.Primary)
		if !ok {
			t.env.skip(t.Name(), reasonUnknownPool, nil, nil)
			continue
		}
		t.recompute(d.Ordinal, pool, d.Key.Secondary)
	}
	return nil
}

func (t *TVLStage) recompute(ord uint64, pool reference.Pool, changed string) {
	total := decimal.Zero
	values := make([]decimal.Decimal, len(pool.InputTokens))

	for i, addr := range pool.InputTokens {
		key := BalanceKey(pool.Address, addr)
		var bal decimal.Decimal
		if addr == changed {
			bal, _ = t.balances.GetAt(ord, key)
		} else {
			bal, _ = t.balances.GetLast(key)
		}
		tok, _ := tokenOf(t.dir, addr)
		values[i] = dexmath.USD(bal, t.prices.At(ord, tok).Price)
		total = total.Add(values[i])
	}

	for i, addr := range pool.InputTokens {
		t.tvl.Set(ord, TokenTVLKey(pool.Address, addr), values[i])
	}
	t.tvl.Set(ord, PoolTVLKey(pool.Address), total)
}

// ProtocolTVLStage accumulates pool TVL changes into the protocol total.
// It never re-derives the total from the pools.
type ProtocolTVLStage struct {
	env      Env
	tvl      store.Reader[decimal.Decimal]
	protocol *store.Store[decimal.Decimal]
}

func NewProtocolTVLStage(env Env, s *State) *ProtocolTVLStage {
	return &ProtocolTVLStage{env: env, tvl: s.TVL.Reader(), protocol: s.ProtocolTVL}
}

func (p *ProtocolTVLStage) Name() string { return "protocol_tvl" }

func (p *ProtocolTVLStage) Outputs() []store.Unit {
	return []store.Unit{p.protocol}
}

func (p *ProtocolTVLStage) Apply(ctx context.Context, _ *event.Unit) error {
	for _, d := range store.FilterFamily(p.tvl.Deltas(), FamilyPoolTVL) {
		if d.Operation == store.OpDelete {
			continue
		}
		p.protocol.Add(d.Ordinal, ProtocolTVLKey(), d.NewValue.Sub(d.OldValue))
	}
	return ctx.Err()
}
