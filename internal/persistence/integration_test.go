package persistence_test

import (
	"context"
	"testing"
	"time"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"
	"DexMetrics/internal/persistence"
	"DexMetrics/internal/projection"
	"DexMetrics/internal/query"
	"DexMetrics/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func output(n uint64, hash string, rows ...changeset.Row) core.Output {
	return core.Output{
		UnitNumber: n,
		UnitHash:   hash,
		Timestamp:  int64(n) * 12,
		Changeset: &changeset.Changeset{
			ID:         changeset.IDFor(hash),
			UnitNumber: n,
			UnitHash:   hash,
			Rows:       rows,
		},
		StateHash: [32]byte{byte(n)},
		PrevHash:  [32]byte{byte(n - 1)},
		Payload:   []byte(`{"number":1,"hash":"` + hash + `"}`),
	}
}

func TestUnitLogRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	w := persistence.NewUnitLogWriter(db)
	var rows []persistence.UnitRow
	for n := uint64(1); n <= 3; n++ {
		row, err := persistence.NewUnitRow(output(n, "0xh"+string(rune('a'+n))))
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.NoError(t, w.WriteUnitBatch(ctx, nil, rows))
	// Rewrite is a no-op.
	require.NoError(t, w.WriteUnitBatch(ctx, nil, rows[:1]))

	last, ok, err := w.LatestUnit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), last)

	loaded, err := w.LoadUnitsFrom(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, rows[1].UnitHash, loaded[0].UnitHash)
	assert.Equal(t, rows[1].Payload, loaded[0].Payload)

	checker := persistence.NewPostgresUnitChecker(db)
	dup, err := checker.IsDuplicate(rows[0].Key())
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = checker.IsDuplicate("1:0xother")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestCheckpointVerifyAndPrune(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mgr := persistence.NewCheckpointManager(db)
	for _, n := range []uint64{10, 20, 30} {
		_, err := mgr.Save(ctx, &core.CheckpointState{UnitNumber: n, UnitKeys: []string{"1:0xa"}})
		require.NoError(t, err)
	}

	// Nothing verified yet.
	cp, err := mgr.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, mgr.MarkVerified(ctx, 20))
	cp, err = mgr.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(20), cp.UnitNumber)
	assert.Equal(t, []string{"1:0xa"}, cp.UnitKeys)

	info, err := mgr.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), info.UnitNumber)
	assert.False(t, info.Verified)

	pruned, err := mgr.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestProjectionAndQuery(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	create := output(1, "0xa", changeset.Row{
		Entity: changeset.EntityPool, ID: "0xpool_a", Operation: changeset.OpCreate,
		Fields: map[string]any{"name": "A", "tvl_usd": "0"},
	})
	update := output(2, "0xb", changeset.Row{
		Entity: changeset.EntityPool, ID: "0xpool_a", Operation: changeset.OpUpdate,
		Fields: map[string]any{"tvl_usd": "1500"},
	})

	w := persistence.NewUnitLogWriter(db)
	for _, o := range []core.Output{create, update} {
		row, err := persistence.NewUnitRow(o)
		require.NoError(t, err)
		require.NoError(t, w.WriteUnitBatch(ctx, nil, []persistence.UnitRow{row}))

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, projection.ApplyChangeset(ctx, tx, o.Changeset))
		require.NoError(t, tx.Commit())
	}

	qs := query.NewQueryService(db)
	pool, err := qs.GetPool(ctx, "0xpool_a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","tvl_usd":"1500"}`, string(pool.Fields))
	assert.Equal(t, uint64(1), pool.CreatedUnit)
	assert.Equal(t, uint64(2), pool.UpdatedUnit)
	assert.Equal(t, uint64(2), pool.AsOfUnit)

	_, err = qs.GetPool(ctx, "0xmissing")
	assert.ErrorIs(t, err, query.ErrNotFound)

	// A rebuild from the unit log yields the same document.
	require.NoError(t, projection.RebuildProjections(ctx, db, zerolog.Nop()))
	pool, err = qs.GetPool(ctx, "0xpool_a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","tvl_usd":"1500"}`, string(pool.Fields))

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	status, err := qs.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.LastLoggedUnit)
	assert.WithinDuration(t, time.Now(), status.CheckedAt, time.Minute)
}
