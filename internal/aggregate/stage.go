package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Stage is one aggregator. Apply consumes the unit's events and the
// sealed stores of earlier levels, and writes only the stores it returns
// from Outputs.
type Stage interface {
	Name() string
	Apply(ctx context.Context, u *event.Unit) error
	Outputs() []store.Unit
}

// SkipFunc is called when a single contribution is skipped.
type SkipFunc func(stage, reason string)

// Env is shared by every stage.
type Env struct {
	Log    zerolog.Logger
	OnSkip SkipFunc
}

func (e Env) skip(stage, reason string, evt event.Event, err error) {
	l := e.Log.Warn().Str("stage", stage).Str("reason", reason)
	if evt != nil {
		l = l.Str("pool", evt.PoolAddress()).
			Str("event", evt.ID()).
			Uint64("ordinal", evt.Ordinal())
	}
	if err != nil {
		l = l.Err(err)
	}
	l.Msg("contribution skipped")

	if e.OnSkip != nil {
		e.OnSkip(stage, reason)
	}
}

// Skip reasons.
const (
	reasonUnknownPool    = "unknown_pool"
	reasonUnknownToken   = "unknown_token"
	reasonMalformed      = "malformed_amount"
	reasonAmountMismatch = "amount_count_mismatch"
	reasonNoLocalLeg     = "no_local_leg"
	reasonMissingFees    = "missing_fees"
)

// tokenOf returns the directory record for address, or a record with
// default decimals when the token is unknown.
func tokenOf(dir reference.Directory, address string) (reference.Token, bool) {
	address = reference.NormalizeAddress(address)
	t, ok := dir.Token(address)
	if !ok {
		return reference.Token{Address: address, Decimals: reference.DefaultDecimals}, false
	}
	if t.Address == "" {
		t.Address = address
	}
	return t, true
}

// normalize converts raw into token units of t.
func normalize(raw string, t reference.Token) (decimal.Decimal, error) {
	return dexmath.NormalizeAmount(raw, t.Decimals)
}

// Level is a set of stages with no data dependency between them.
type Level []Stage

// Pipeline is the fixed, acyclic stage order of a unit.
type Pipeline struct {
	Levels []Level
}

// Stages returns every stage in level order.
func (p *Pipeline) Stages() []Stage {
	var out []Stage
	for _, l := range p.Levels {
		out = append(out, l...)
	}
	return out
}
