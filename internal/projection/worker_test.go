package projection

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"DexMetrics/internal/changeset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedExec struct {
	query string
	args  []any
}

type fakeExecer struct {
	calls  []recordedExec
	failAt int
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, recordedExec{query: query, args: args})
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func testChangeset() *changeset.Changeset {
	return &changeset.Changeset{
		UnitNumber: 12,
		Rows: []changeset.Row{
			{Entity: changeset.EntityToken, ID: "0xusdc", Operation: changeset.OpCreate, Fields: map[string]any{"symbol": "USDC"}},
			{Entity: changeset.EntityPool, ID: "0xpool", Operation: changeset.OpUpdate, Fields: map[string]any{"total_value_locked_usd": "10"}},
		},
	}
}

func TestApplyChangeset_RowsThenWatermark(t *testing.T) {
	ex := &fakeExecer{}
	require.NoError(t, ApplyChangeset(context.Background(), ex, testChangeset()))

	require.Len(t, ex.calls, 3)
	assert.Equal(t, "Token", ex.calls[0].args[0])
	assert.Equal(t, "0xusdc", ex.calls[0].args[1])
	assert.JSONEq(t, `{"symbol":"USDC"}`, string(ex.calls[0].args[2].([]byte)))
	assert.Equal(t, int64(12), ex.calls[0].args[3])

	assert.Equal(t, "Pool", ex.calls[1].args[0])
	assert.True(t, strings.Contains(ex.calls[2].query, "materialized.watermark"))
	assert.Equal(t, []any{WatermarkName, int64(12)}, ex.calls[2].args)
}

func TestApplyChangeset_StopsOnRowError(t *testing.T) {
	ex := &fakeExecer{failAt: 1}
	err := ApplyChangeset(context.Background(), ex, testChangeset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token 0xusdc")
	assert.Len(t, ex.calls, 1, "watermark must not advance past a failed row")
}

func TestApplyChangeset_RejectsUnknownOperation(t *testing.T) {
	cs := &changeset.Changeset{UnitNumber: 1, Rows: []changeset.Row{{Entity: changeset.EntityPool, ID: "x", Operation: "delete"}}}
	ex := &fakeExecer{}
	assert.Error(t, ApplyChangeset(context.Background(), ex, cs))
	assert.Empty(t, ex.calls)
}
