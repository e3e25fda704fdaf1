package pricing

import (
	"strings"

	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
)

// Price table families. Address-keyed tables use the normalized token
// address as primary id; symbol-keyed tables use the upper-cased symbol.
const (
	FamilyPrimaryByAddress  store.Family = "price_primary_addr"
	FamilyPrimaryBySymbol   store.Family = "price_primary_symbol"
	FamilySecondaryBySymbol store.Family = "price_secondary_symbol"
	FamilyFallbackA         store.Family = "price_fallback_a"
	FamilyFallbackB         store.Family = "price_fallback_b"
)

// Source identifies which step of the chain produced a price.
type Source uint8

const (
	SourceNone Source = iota
	SourceBlacklist
	SourceStable
	SourcePrimaryAddress
	SourcePrimarySymbol
	SourceSecondarySymbol
	SourceFallbackA
	SourceFallbackB
)

func (s Source) String() string {
	switch s {
	case SourceBlacklist:
		return "blacklist"
	case SourceStable:
		return "stable"
	case SourcePrimaryAddress:
		return "primary_address"
	case SourcePrimarySymbol:
		return "primary_symbol"
	case SourceSecondarySymbol:
		return "secondary_symbol"
	case SourceFallbackA:
		return "fallback_a"
	case SourceFallbackB:
		return "fallback_b"
	default:
		return "none"
	}
}

// Quote is a resolved USD price and where it came from.
type Quote struct {
	Price  decimal.Decimal
	Source Source
}

// Found reports whether any table produced a price.
func (q Quote) Found() bool {
	return q.Source != SourceNone
}

// Lists holds the static blacklist and hardcoded-stable addresses.
type Lists struct {
	Blacklist []string
	Stables   []string
}

// Resolver walks the fixed price resolution chain:
// blacklist, stable, primary by address, primary by symbol, secondary by
// symbol, fallback A, fallback B, then zero.
type Resolver struct {
	tables    store.Reader[decimal.Decimal]
	blacklist map[string]struct{}
	stables   map[string]struct{}
}

// NewResolver creates a resolver over the price tables.
func NewResolver(tables store.Reader[decimal.Decimal], lists Lists) *Resolver {
	r := &Resolver{
		tables:    tables,
		blacklist: make(map[string]struct{}, len(lists.Blacklist)),
		stables:   make(map[string]struct{}, len(lists.Stables)),
	}
	for _, a := range lists.Blacklist {
		r.blacklist[reference.NormalizeAddress(a)] = struct{}{}
	}
	for _, a := range lists.Stables {
		r.stables[reference.NormalizeAddress(a)] = struct{}{}
	}
	return r
}

// AddressKey returns the table key of an address-keyed price.
func AddressKey(family store.Family, address string) store.Key {
	return store.NewKey(family, reference.NormalizeAddress(address))
}

// SymbolKey returns the table key of a symbol-keyed price.
func SymbolKey(family store.Family, symbol string) store.Key {
	return store.NewKey(family, NormalizeSymbol(symbol))
}

// NormalizeSymbol upper-cases and trims a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Latest resolves the token's price as of the last write to the tables.
func (r *Resolver) Latest(t reference.Token) Quote {
	return r.resolve(t, r.tables.GetLast)
}

// At resolves the token's price as of ordinal within the current unit.
func (r *Resolver) At(ordinal uint64, t reference.Token) Quote {
	return r.resolve(t, func(k store.Key) (decimal.Decimal, bool) {
		return r.tables.GetAt(ordinal, k)
	})
}

// USD returns the resolved price, zero if none.
func (r *Resolver) USD(t reference.Token) decimal.Decimal {
	return r.Latest(t).Price
}

func (r *Resolver) resolve(t reference.Token, get func(store.Key) (decimal.Decimal, bool)) Quote {
	addr := reference.NormalizeAddress(t.Address)

	if _, ok := r.blacklist[addr]; ok {
		return Quote{Price: decimal.Zero, Source: SourceBlacklist}
	}
	if _, ok := r.stables[addr]; ok {
		return Quote{Price: decimal.NewFromInt(1), Source: SourceStable}
	}

	steps := []struct {
		key    store.Key
		source Source
		skip   bool
	}{
		{AddressKey(FamilyPrimaryByAddress, addr), SourcePrimaryAddress, addr == ""},
		{SymbolKey(FamilyPrimaryBySymbol, t.Symbol), SourcePrimarySymbol, t.Symbol == ""},
		{SymbolKey(FamilySecondaryBySymbol, t.Symbol), SourceSecondarySymbol, t.Symbol == ""},
		{AddressKey(FamilyFallbackA, addr), SourceFallbackA, addr == ""},
		{AddressKey(FamilyFallbackB, addr), SourceFallbackB, addr == ""},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		if p, ok := get(s.key); ok && p.IsPositive() {
			return Quote{Price: p, Source: s.source}
		}
	}
	return Quote{Price: decimal.Zero, Source: SourceNone}
}
