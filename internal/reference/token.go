package reference

// Token is an immutable token record, shared across pools.
type Token struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     int32  `json:"decimals"`
	IsBasePoolLP bool   `json:"is_base_pool_lp"`
	Gauge        string `json:"gauge,omitempty"`
}

// DefaultDecimals is used when a token record is missing its decimals.
const DefaultDecimals int32 = 18
