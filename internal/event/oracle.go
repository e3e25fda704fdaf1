package event

// PriceSource names one of the price oracle tables.
type PriceSource int32

const (
	PriceSourceUnknown PriceSource = iota
	PriceSourcePrimary
	PriceSourceSecondary
	PriceSourceFallbackA
	PriceSourceFallbackB
)

func (s PriceSource) String() string {
	switch s {
	case PriceSourcePrimary:
		return "primary"
	case PriceSourceSecondary:
		return "secondary"
	case PriceSourceFallbackA:
		return "fallback_a"
	case PriceSourceFallbackB:
		return "fallback_b"
	default:
		return "unknown"
	}
}

// ParsePriceSource maps a wire name to a PriceSource.
func ParsePriceSource(s string) PriceSource {
	for src := PriceSourcePrimary; src <= PriceSourceFallbackB; src++ {
		if src.String() == s {
			return src
		}
	}
	return PriceSourceUnknown
}

// PriceUpdate is one row of an oracle table. Token and/or Symbol may be set.
type PriceUpdate struct {
	Header
	Source   PriceSource
	Token    string
	Symbol   string
	PriceUSD string
}

func (e *PriceUpdate) Kind() Kind { return KindPriceUpdate }
