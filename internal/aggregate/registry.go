package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
)

// RegistryStage records newly registered pools and their tokens, the token
// reference counts and the append-only pool index.
type RegistryStage struct {
	env    Env
	pools  *store.Store[reference.Pool]
	tokens *store.Store[reference.Token]
	refs   *store.Store[int64]
	count  *store.Store[int64]
	index  *store.Store[string]
}

func NewRegistryStage(env Env, s *State) *RegistryStage {
	return &RegistryStage{
		env:    env,
		pools:  s.Pools,
		tokens: s.Tokens,
		refs:   s.TokenRefs,
		count:  s.PoolCount,
		index:  s.PoolIndex,
	}
}

func (r *RegistryStage) Name() string { return "registry" }

func (r *RegistryStage) Outputs() []store.Unit {
	return []store.Unit{r.pools, r.tokens, r.refs, r.count, r.index}
}

func (r *RegistryStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		e, ok := evt.(*event.PoolRegistered)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.register(e)
	}
	return nil
}

func (r *RegistryStage) register(e *event.PoolRegistered) {
	rec := normalizePool(e)
	ord := e.Ordinal()
	key := PoolKey(rec.Address)

	if _, exists := r.pools.GetLast(key); exists {
		r.env.Log.Debug().Str("pool", rec.Address).Msg("pool already registered")
		return
	}

	r.pools.SetIfNotExists(ord, key, rec)
	r.count.Add(ord, PoolCountKey(), 1)
	n, _ := r.count.GetLast(PoolCountKey())
	r.index.SetIfNotExists(ord, PoolIndexKey(n), rec.Address)

	for _, t := range e.Tokens {
		t.Address = reference.NormalizeAddress(t.Address)
		if t.Address == "" {
			continue
		}
		r.tokens.SetIfNotExists(ord, TokenKey(t.Address), t)
	}

	seen := make(map[string]struct{}, len(rec.InputTokens)+1)
	for _, addr := range append(append([]string{}, rec.InputTokens...), rec.OutputToken) {
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		r.refs.Add(ord, TokenRefsKey(addr), 1)
	}

	r.env.Log.Info().
		Str("pool", rec.Address).
		Str("type", rec.Type.String()).
		Int64("index", n).
		Msg("pool registered")
}

func normalizePool(e *event.PoolRegistered) reference.Pool {
	rec := e.Record
	rec.Address = reference.NormalizeAddress(rec.Address)
	if rec.Address == "" {
		rec.Address = reference.NormalizeAddress(e.PoolAddress())
	}
	tokens := make([]string, len(rec.InputTokens))
	for i, t := range rec.InputTokens {
		tokens[i] = reference.NormalizeAddress(t)
	}
	rec.InputTokens = tokens
	rec.OutputToken = reference.NormalizeAddress(rec.OutputToken)
	rec.BasePool = reference.NormalizeAddress(rec.BasePool)
	if rec.CreatedBlock == 0 {
		rec.CreatedBlock = e.Block()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = e.Time()
	}
	return rec
}
