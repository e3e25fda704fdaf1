package store

import "github.com/shopspring/decimal"

// AddDecimal is the accumulate function for decimal stores.
func AddDecimal(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// AddInt64 is the accumulate function for counter stores.
func AddInt64(a, b int64) int64 {
	return a + b
}

// NewDecimalSum creates an accumulate store of decimals.
func NewDecimalSum(name string) *Store[decimal.Decimal] {
	return NewAccumulate[decimal.Decimal](name, AddDecimal)
}

// NewCounter creates an accumulate store of int64 counters.
func NewCounter(name string) *Store[int64] {
	return NewAccumulate[int64](name, AddInt64)
}
