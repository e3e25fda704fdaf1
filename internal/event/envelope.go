package event

import (
	"fmt"
	"strconv"
)

// Kind discriminates the normalized event variants.
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdraw
	KindSwap
	KindSwapUnderlying
	KindPoolRegistered
	KindFeeChanged
	KindGaugeUpdate
	KindRewardUpdate
	KindStake
	KindPriceUpdate
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindSwap:
		return "Swap"
	case KindSwapUnderlying:
		return "SwapUnderlying"
	case KindPoolRegistered:
		return "PoolRegistered"
	case KindFeeChanged:
		return "FeeChanged"
	case KindGaugeUpdate:
		return "GaugeUpdate"
	case KindRewardUpdate:
		return "RewardUpdate"
	case KindStake:
		return "Stake"
	case KindPriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}

// ParseKind maps a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindDeposit; k <= KindPriceUpdate; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown event kind: %q", s)
}

// Header carries the fields every normalized event has.
type Header struct {
	// Position within the processing unit; the sole intra-unit ordering key.
	Ord         uint64
	TxHash      string
	TxIndex     uint32
	LogIndex    uint32
	BlockNumber uint64
	Timestamp   int64 // unix seconds
	Pool        string
}

// Event is implemented by every normalized event variant.
type Event interface {
	Kind() Kind
	Ordinal() uint64
	PoolAddress() string
	ID() string
	Time() int64
	Block() uint64
}

func (h *Header) Ordinal() uint64     { return h.Ord }
func (h *Header) PoolAddress() string { return h.Pool }
func (h *Header) Time() int64         { return h.Timestamp }
func (h *Header) Block() uint64       { return h.BlockNumber }

// ID is the stable identity of the event: tx hash plus log index.
func (h *Header) ID() string {
	return h.TxHash + "-" + strconv.FormatUint(uint64(h.LogIndex), 10)
}

// Actor is implemented by events attributable to a user address.
type Actor interface {
	Account() string
}
