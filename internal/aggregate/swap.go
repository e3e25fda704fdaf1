package aggregate

import (
	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
)

// swapSide is one leg of a swap resolved against its pool. Coin is the
// pool input token the leg settles in; token is the one its amount is
// denominated and priced in. They differ only for lending swaps.
type swapSide struct {
	coin  string
	token string
	raw   string
	sold  bool
}

// swapSides resolves the legs of evt that are local to pool. ok is false
// when evt is not a swap. A plain swap leg outside the pool is reported
// as foreign so the caller can skip the event.
func swapSides(pool reference.Pool, evt event.Event) (sides []swapSide, foreign, ok bool) {
	var s *event.Swap
	var coins []int
	meta := false
	switch e := evt.(type) {
	case *event.Swap:
		s = e
	case *event.SwapUnderlying:
		s = &e.Swap
		if sold, bought, lending := e.Coins(); lending {
			coins = []int{sold, bought}
		} else {
			meta = true
		}
	default:
		return nil, false, false
	}

	legs := []swapSide{
		{token: reference.NormalizeAddress(s.TokenSold), raw: s.AmountSold, sold: true},
		{token: reference.NormalizeAddress(s.TokenBought), raw: s.AmountBought},
	}
	for i, l := range legs {
		if coins != nil {
			if coins[i] >= len(pool.InputTokens) {
				foreign = true
				continue
			}
			l.coin = pool.InputTokens[coins[i]]
			sides = append(sides, l)
			continue
		}
		if _, local := pool.TokenIndex(l.token); !local {
			if !meta {
				foreign = true
			}
			continue
		}
		l.coin = l.token
		sides = append(sides, l)
	}
	return sides, foreign, true
}
