package event

// Swap exchanges two of the pool's tokens. Amounts are raw integer strings.
type Swap struct {
	Header
	Buyer        string
	TokenSold    string
	AmountSold   string
	TokenBought  string
	AmountBought string
}

func (e *Swap) Kind() Kind      { return KindSwap }
func (e *Swap) Account() string { return e.Buyer }

// UnderlyingVariant distinguishes the two underlying-swap flavours.
type UnderlyingVariant int32

const (
	UnderlyingUnknown UnderlyingVariant = iota
	// UnderlyingMeta: a metapool trades through its base pool.
	UnderlyingMeta
	// UnderlyingLending: a lending pool trades the unwrapped tokens.
	UnderlyingLending
)

func (v UnderlyingVariant) String() string {
	switch v {
	case UnderlyingMeta:
		return "meta"
	case UnderlyingLending:
		return "lending"
	default:
		return "unknown"
	}
}

// SwapUnderlying trades tokens the pool does not hold directly.
//
// A meta swap keeps at most one leg local to this pool; the other leg is
// accounted by the base pool's own events. A lending swap names the
// unwrapped tokens, and SoldID/BoughtID give the index of the pool coin
// each leg settles in.
type SwapUnderlying struct {
	Swap
	Variant  UnderlyingVariant
	SoldID   int
	BoughtID int
}

func (e *SwapUnderlying) Kind() Kind { return KindSwapUnderlying }

// Coins returns the pool coin indices of a lending swap's legs.
func (e *SwapUnderlying) Coins() (sold, bought int, ok bool) {
	if e.Variant != UnderlyingLending {
		return 0, 0, false
	}
	return e.SoldID, e.BoughtID, true
}
