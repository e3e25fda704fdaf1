package math_test

import (
	"errors"
	"testing"

	dexmath "DexMetrics/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalizeAmount(t *testing.T) {
	v, err := dexmath.NormalizeAmount("1000000000", 6)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("1000")), "got %s", v)

	v, err = dexmath.NormalizeAmount("50000", 8)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("0.0005")), "got %s", v)

	v, err = dexmath.NormalizeAmount("-25", 1)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("-2.5")))
}

func TestNormalizeAmount_Malformed(t *testing.T) {
	for _, raw := range []string{"", "1.5", "abc", "1e18", "0x10"} {
		_, err := dexmath.NormalizeAmount(raw, 18)
		require.Error(t, err, "raw %q", raw)
		assert.True(t, errors.Is(err, dexmath.ErrMalformedAmount))
	}
}

func TestDivByZeroIsZero(t *testing.T) {
	assert.True(t, dexmath.Div(d("5"), decimal.Zero).IsZero())
	assert.True(t, dexmath.Percent(d("5"), decimal.Zero).IsZero())
	assert.True(t, dexmath.Percent(d("25"), d("200")).Equal(d("12.5")))
}

func TestAverage(t *testing.T) {
	assert.True(t, dexmath.Average(d("1000"), d("30")).Equal(d("515")))
	assert.True(t, dexmath.Average().IsZero())
}

func TestFeePercentages(t *testing.T) {
	// 0.04% fee, 50% admin share.
	f, err := dexmath.ComputeFeePercentages("4000000", "5000000000")
	require.NoError(t, err)

	assert.True(t, f.Trading.Equal(d("0.04")), "trading %s", f.Trading)
	assert.True(t, f.Protocol.Equal(d("0.02")), "protocol %s", f.Protocol)
	assert.True(t, f.LP.Equal(d("0.02")), "lp %s", f.LP)
	assert.True(t, f.AdminShare().Equal(d("0.5")))

	protocol, supply := f.Revenue(d("10000"))
	assert.True(t, protocol.Equal(d("2")), "protocol revenue %s", protocol)
	assert.True(t, supply.Equal(d("2")), "supply revenue %s", supply)
}

func TestFeePercentages_NoAdminFee(t *testing.T) {
	f, err := dexmath.ComputeFeePercentages("30000000", "")
	require.NoError(t, err)
	assert.True(t, f.Protocol.IsZero())
	assert.True(t, f.LP.Equal(f.Trading))
}
