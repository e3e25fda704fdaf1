package event

import "DexMetrics/internal/reference"

// PoolRegistered is emitted by the classification layer when a pool
// deployment has been resolved. Fee and AdminFee are 1e10-scaled integers.
type PoolRegistered struct {
	Header
	Record   reference.Pool
	Tokens   []reference.Token
	Fee      string
	AdminFee string
}

func (e *PoolRegistered) Kind() Kind { return KindPoolRegistered }

// FeeChanged carries a pool's new fee parameters (1e10-scaled).
type FeeChanged struct {
	Header
	Fee      string
	AdminFee string
}

func (e *FeeChanged) Kind() Kind { return KindFeeChanged }
