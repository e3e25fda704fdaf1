package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	queries []string
	args    [][]any
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil, nil
}

func testOutput(n uint64) core.Output {
	key := "0xhash"
	cs := &changeset.Changeset{
		ID:         changeset.IDFor(key),
		UnitNumber: n,
		UnitHash:   key,
		Timestamp:  100,
		Rows: []changeset.Row{
			{Entity: changeset.EntitySwap, ID: "0xtx-1", Operation: changeset.OpCreate, Fields: map[string]any{"amount_in": "1"}},
		},
	}
	return core.Output{
		UnitNumber: n,
		UnitHash:   key,
		Timestamp:  100,
		Changeset:  cs,
		StateHash:  [32]byte{1},
		PrevHash:   [32]byte{2},
		Payload:    []byte(`{"number":1}`),
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($10, $11)", placeholders(9, 2))
}

func TestSplitUnitKey(t *testing.T) {
	n, hash, err := splitUnitKey("42:0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	assert.Equal(t, "0xabc", hash)

	for _, bad := range []string{"", "42", ":0xabc", "42:", "x:0xabc"} {
		_, _, err := splitUnitKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewUnitRow(t *testing.T) {
	row, err := NewUnitRow(testOutput(7))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), row.UnitNumber)
	assert.Equal(t, "7:0xhash", row.Key())
	assert.Equal(t, 1, row.RowCount)
	assert.Equal(t, byte(1), row.StateHash[0])
	assert.Len(t, row.PrevHash, 32)
	assert.Equal(t, int64(100), row.Timestamp.Unix())

	var cs changeset.Changeset
	require.NoError(t, json.Unmarshal(row.Changeset, &cs))
	assert.Equal(t, row.ChangesetID, cs.ID)
	assert.Len(t, cs.Rows, 1)
}

func TestNewUnitRow_DefaultsPayloadAndRejectsEmpty(t *testing.T) {
	out := testOutput(1)
	out.Payload = nil
	row, err := NewUnitRow(out)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(row.Payload))

	_, err = NewUnitRow(core.Output{UnitNumber: 3})
	assert.Error(t, err)
}

func TestWriteUnitBatch(t *testing.T) {
	var rows []UnitRow
	for _, n := range []uint64{1, 2, 3} {
		row, err := NewUnitRow(testOutput(n))
		require.NoError(t, err)
		rows = append(rows, row)
	}

	ex := &fakeExecer{}
	w := NewUnitLogWriter(nil)
	require.NoError(t, w.WriteUnitBatch(context.Background(), ex, rows))

	require.Len(t, ex.queries, 1)
	q := ex.queries[0]
	assert.Contains(t, q, "($19, $20, $21, $22, $23, $24, $25, $26, $27)")
	assert.True(t, strings.HasSuffix(q, "ON CONFLICT (unit_number) DO NOTHING"))
	require.Len(t, ex.args[0], 3*unitColumns)
	assert.Equal(t, int64(3), ex.args[0][2*unitColumns])

	// Empty batch writes nothing.
	require.NoError(t, w.WriteUnitBatch(context.Background(), ex, nil))
	assert.Len(t, ex.queries, 1)
}

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_checkpoints.up.sql",
		"000001_unit_log.up.sql",
		"000001_unit_log.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	m := NewMigrator(nil, dir, zerolog.Nop())
	files, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_unit_log.up.sql", "000002_checkpoints.up.sql"}, files)

	assert.Equal(t, "000002", extractVersion(files[1]))
}

func TestShippedMigrationsPair(t *testing.T) {
	m := NewMigrator(nil, filepath.Join("..", "..", "migrations"), zerolog.Nop())
	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	downs, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
	for i := range ups {
		assert.Equal(t, extractVersion(ups[i]), extractVersion(downs[i]))
	}
}
