package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
)

// BalanceStage tracks every pool's input-token balances and output-token
// supply.
type BalanceStage struct {
	env      Env
	dir      reference.Directory
	balances *store.Store[decimal.Decimal]
	supply   *store.Store[decimal.Decimal]
}

func NewBalanceStage(env Env, s *State, dir reference.Directory) *BalanceStage {
	return &BalanceStage{env: env, dir: dir, balances: s.Balances, supply: s.Supply}
}

func (b *BalanceStage) Name() string { return "balances" }

func (b *BalanceStage) Outputs() []store.Unit {
	return []store.Unit{b.balances, b.supply}
}

func (b *BalanceStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		switch e := evt.(type) {
		case *event.Deposit:
			b.liquidity(e, e.Amounts, e.OutputAmount, false)
		case *event.Withdraw:
			b.liquidity(e, e.Amounts, e.OutputAmount, true)
		case *event.Swap, *event.SwapUnderlying:
			b.swap(e)
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BalanceStage) liquidity(evt event.Event, amounts []string, output string, withdraw bool) {
	pool, ok := b.dir.Pool(evt.PoolAddress())
	if !ok {
		b.env.skip(b.Name(), reasonUnknownPool, evt, nil)
		return
	}
	if len(amounts) != len(pool.InputTokens) {
		b.env.skip(b.Name(), reasonAmountMismatch, evt, nil)
		return
	}

	ord := evt.Ordinal()
	for i, addr := range pool.InputTokens {
		tok, known := tokenOf(b.dir, addr)
		if !known {
			b.env.skip(b.Name(), reasonUnknownToken, evt, nil)
			continue
		}
		amt, err := normalize(amounts[i], tok)
		if err != nil {
			b.env.skip(b.Name(), reasonMalformed, evt, err)
			continue
		}
		if amt.IsZero() {
			continue
		}
		if withdraw {
			amt = amt.Neg()
		}
		b.balances.Add(ord, BalanceKey(pool.Address, addr), amt)
	}

	if output == "" {
		return
	}
	lp, _ := tokenOf(b.dir, pool.OutputToken)
	minted, err := normalize(output, lp)
	if err != nil {
		b.env.skip(b.Name(), reasonMalformed, evt, err)
		return
	}
	if withdraw {
		minted = minted.Neg()
	}
	b.supply.Add(ord, SupplyKey(pool.Address), minted)
}

// swap moves the settled coins of each local leg. A lending leg is
// amounted in the unwrapped token and applied to its coin one for one.
func (b *BalanceStage) swap(e event.Event) {
	pool, ok := b.dir.Pool(e.PoolAddress())
	if !ok {
		b.env.skip(b.Name(), reasonUnknownPool, e, nil)
		return
	}
	sides, foreign, _ := swapSides(pool, e)
	if foreign {
		b.env.skip(b.Name(), reasonUnknownToken, e, nil)
		return
	}
	for _, l := range sides {
		tok, known := tokenOf(b.dir, l.token)
		if !known {
			b.env.skip(b.Name(), reasonUnknownToken, e, nil)
			continue
		}
		amt, err := normalize(l.raw, tok)
		if err != nil {
			b.env.skip(b.Name(), reasonMalformed, e, err)
			continue
		}
		if !l.sold {
			amt = amt.Neg()
		}
		b.balances.Add(e.Ordinal(), BalanceKey(pool.Address, l.coin), amt)
	}
}

// StakeStage tracks the LP amount staked in each pool's gauge.
type StakeStage struct {
	env    Env
	dir    reference.Directory
	staked *store.Store[decimal.Decimal]
}

func NewStakeStage(env Env, s *State, dir reference.Directory) *StakeStage {
	return &StakeStage{env: env, dir: dir, staked: s.Staked}
}

func (s *StakeStage) Name() string { return "staking" }

func (s *StakeStage) Outputs() []store.Unit {
	return []store.Unit{s.staked}
}

func (s *StakeStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		e, ok := evt.(*event.Stake)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		pool, ok := s.dir.Pool(e.PoolAddress())
		if !ok {
			s.env.skip(s.Name(), reasonUnknownPool, e, nil)
			continue
		}
		lp, _ := tokenOf(s.dir, pool.OutputToken)
		amt, err := normalize(e.Amount, lp)
		if err != nil {
			s.env.skip(s.Name(), reasonMalformed, e, err)
			continue
		}
		if e.Unstake {
			amt = amt.Neg()
		}
		s.staked.Add(e.Ordinal(), StakedKey(pool.Address), amt)
	}
	return nil
}
