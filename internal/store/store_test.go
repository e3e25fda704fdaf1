package store_test

import (
	"errors"
	"testing"

	"DexMetrics/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	famVolume      store.Family = "pool_volume"
	famVolumeDaily store.Family = "pool_volume_daily"
	famUsers       store.Family = "users"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// Write disciplines
// =============================================================================

func TestSet_LaterOrdinalWinsRegardlessOfCallOrder(t *testing.T) {
	s := store.NewReplace[int64]("current")
	k := store.NewKey("bucket", "daily")

	s.Set(20, k, 2)
	s.Set(10, k, 1)

	v, ok := s.GetLast(k)
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	deltas := s.Deltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, uint64(10), deltas[0].Ordinal)
	assert.Equal(t, store.OpCreate, deltas[0].Operation)
	assert.Equal(t, uint64(20), deltas[1].Ordinal)
	assert.Equal(t, store.OpUpdate, deltas[1].Operation)
	assert.Equal(t, int64(1), deltas[1].OldValue)
	assert.Equal(t, int64(2), deltas[1].NewValue)
}

func TestAdd_AccumulatesFromZero(t *testing.T) {
	s := store.NewDecimalSum("volume")
	k := store.NewKey(famVolume, "0xpool")

	s.Add(1, k, d("10.5"))
	s.Add(2, k, d("4.5"))

	v, ok := s.GetLast(k)
	require.True(t, ok)
	assert.True(t, v.Equal(d("15")), "got %s", v)

	deltas := s.Deltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, store.OpCreate, deltas[0].Operation)
	assert.True(t, deltas[0].OldValue.IsZero())
	assert.True(t, deltas[1].OldValue.Equal(d("10.5")))
	assert.True(t, deltas[1].NewValue.Equal(d("15")))
}

func TestSetIfNotExists_FirstWriterWins(t *testing.T) {
	s := store.NewSetIfAbsent[int64]("users")
	k := store.NewKey(famUsers, "0xalice")

	s.SetIfNotExists(1, k, 1)
	s.SetIfNotExists(2, k, 99)
	s.Commit()

	s.SetIfNotExists(3, k, 7)
	assert.Empty(t, s.Deltas(), "existing key must not produce a delta")

	v, _ := s.GetLast(k)
	assert.Equal(t, int64(1), v)
}

func TestWrongPolicyPanics(t *testing.T) {
	s := store.NewReplace[int64]("r")
	assert.Panics(t, func() { s.SetIfNotExists(1, store.NewKey("f", "x"), 1) })
}

func TestSealedStoreRejectsWrites(t *testing.T) {
	s := store.NewCounter("c")
	s.Seal()
	assert.Panics(t, func() { s.Add(1, store.NewKey("f", "x"), 1) })
	s.Commit()
	assert.NotPanics(t, func() { s.Add(1, store.NewKey("f", "x"), 1) })
}

func sealedPanic(fn func()) (err error) {
	defer func() {
		err, _ = recover().(error)
	}()
	fn()
	return nil
}

func TestSealedPanicWrapsErrSealed(t *testing.T) {
	s := store.NewCounter("c")
	s.Seal()

	err := sealedPanic(func() { s.Add(1, store.NewKey("f", "x"), 1) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrSealed))

	err = sealedPanic(func() { s.DeletePrefix(1, store.FamilyPrefix("f")) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrSealed))
}

// =============================================================================
// Ordinal-aware reads
// =============================================================================

func TestGetAt_SeesOnlyWritesUpToOrdinal(t *testing.T) {
	s := store.NewDecimalSum("balances")
	k := store.NewKey("input_balance", "0xpool").With("0xusdc")

	s.Add(1, k, d("100"))
	s.Commit()

	s.Add(5, k, d("50"))
	s.Add(9, k, d("25"))

	atStart, _ := s.GetAt(0, k)
	at5, _ := s.GetAt(5, k)
	at9, _ := s.GetAt(9, k)
	last, _ := s.GetLast(k)
	committed, _ := s.Committed(k)

	assert.True(t, atStart.Equal(d("100")))
	assert.True(t, at5.Equal(d("150")))
	assert.True(t, at9.Equal(d("175")))
	assert.True(t, last.Equal(d("175")))
	assert.True(t, committed.Equal(d("100")), "committed state must not see pending writes")
}

func TestReaderMatchesStore(t *testing.T) {
	s := store.NewReplace[string]("names")
	r := s.Reader()
	k := store.NewKey("name", "0xpool")

	s.Set(3, k, "3pool")
	s.Seal()

	v, ok := r.GetLast(k)
	require.True(t, ok)
	assert.Equal(t, "3pool", v)
	assert.Len(t, r.Deltas(), 1)
	assert.Equal(t, "names", r.Name())
}

// =============================================================================
// Prefix deletion
// =============================================================================

func TestDeletePrefix_BucketScoped(t *testing.T) {
	s := store.NewDecimalSum("volume")
	const day = int64(19000)

	old := store.NewKey(famVolumeDaily, "0xa").InBucket(day - 1)
	oldB := store.NewKey(famVolumeDaily, "0xb").InBucket(day - 1)
	cur := store.NewKey(famVolumeDaily, "0xa").InBucket(day)
	cumulative := store.NewKey(famVolume, "0xa")

	s.Add(1, old, d("1"))
	s.Add(1, oldB, d("2"))
	s.Add(1, cur, d("3"))
	s.Add(1, cumulative, d("6"))
	s.Commit()

	s.DeletePrefix(0, store.BucketPrefix(famVolumeDaily, day-1))
	s.Commit()

	_, ok := s.GetLast(old)
	assert.False(t, ok)
	_, ok = s.GetLast(oldB)
	assert.False(t, ok)

	v, ok := s.GetLast(cur)
	require.True(t, ok)
	assert.True(t, v.Equal(d("3")))

	v, ok = s.GetLast(cumulative)
	require.True(t, ok)
	assert.True(t, v.Equal(d("6")))
}

func TestDeletePrefix_FamilyIsStructuredNotStringPrefix(t *testing.T) {
	s := store.NewCounter("counts")
	a := store.NewKey("tvl", "0xa")
	b := store.NewKey("tvl_token", "0xa")

	s.Add(1, a, 1)
	s.Add(1, b, 1)
	s.Commit()

	s.DeletePrefix(0, store.FamilyPrefix("tvl"))
	deltas := s.Deltas()
	require.Len(t, deltas, 1)
	assert.Equal(t, store.OpDelete, deltas[0].Operation)
	assert.Equal(t, store.Family("tvl"), deltas[0].Key.Family)
	s.Commit()

	_, ok := s.GetLast(b)
	assert.True(t, ok, "tvl_token must survive a tvl delete")
}

func TestDeletePrefix_ThenWriteInSameUnit(t *testing.T) {
	s := store.NewCounter("counts")
	k := store.NewKey("tx_daily", "protocol").InBucket(4)
	s.Add(1, k, 5)
	s.Commit()

	s.DeletePrefix(0, store.BucketPrefix("tx_daily", 4))
	s.Add(3, k, 1)

	v, ok := s.GetLast(k)
	require.True(t, ok)
	assert.Equal(t, int64(1), v, "add after delete starts from zero")

	at1, ok := s.GetAt(1, k)
	assert.False(t, ok)
	assert.Equal(t, int64(0), at1)
}

// =============================================================================
// Unit lifecycle
// =============================================================================

func TestRollbackDiscardsUnit(t *testing.T) {
	s := store.NewCounter("c")
	k := store.NewKey("f", "x")
	s.Add(1, k, 1)
	s.Commit()

	s.Add(2, k, 41)
	s.Rollback()

	v, _ := s.GetLast(k)
	assert.Equal(t, int64(1), v)
	assert.Empty(t, s.Deltas())
}

func TestReplayIsDeterministicAcrossInterleavings(t *testing.T) {
	type op struct {
		ord uint64
		key store.Key
		val string
	}
	ka := store.NewKey(famVolume, "0xa")
	kb := store.NewKey(famVolume, "0xb")
	ops := []op{{1, ka, "1"}, {2, kb, "2"}, {3, ka, "3"}, {4, kb, "4"}}

	run := func(order []int) []byte {
		s := store.NewDecimalSum("volume")
		for _, i := range order {
			s.Add(ops[i].ord, ops[i].key, d(ops[i].val))
		}
		s.Commit()
		data, err := s.Export()
		require.NoError(t, err)
		return data
	}

	assert.JSONEq(t, string(run([]int{0, 1, 2, 3})), string(run([]int{1, 3, 0, 2})))
}

func TestExportImportRestoresCommittedState(t *testing.T) {
	src := store.NewDecimalSum("volume")
	k := store.NewKey(famVolumeDaily, "0xa:b").InBucket(-1).With("usd")
	src.Add(1, k, d("12.34"))
	src.Commit()

	data, err := src.Export()
	require.NoError(t, err)

	dst := store.NewDecimalSum("volume")
	require.NoError(t, dst.Import(data))

	v, ok := dst.GetLast(k)
	require.True(t, ok)
	assert.True(t, v.Equal(d("12.34")))
}

func TestScanVisitsLiveKeysInOrder(t *testing.T) {
	s := store.NewReplace[int64]("sched")
	s.Set(1, store.NewKey("schedule", "g1").With("b"), 2)
	s.Set(1, store.NewKey("schedule", "g1").With("a"), 1)
	s.Set(1, store.NewKey("schedule", "g2").With("a"), 3)

	var got []string
	s.Scan(store.EntityPrefix("schedule", "g1"), func(k store.Key, v int64) bool {
		got = append(got, k.Secondary)
		return true
	})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRegistryCommitsAllOrNothing(t *testing.T) {
	reg := store.NewRegistry()
	a := store.Register(reg, store.NewCounter("a"))
	b := store.Register(reg, store.NewReplace[string]("b"))

	a.Add(1, store.NewKey("f", "x"), 1)
	b.Set(1, store.NewKey("f", "x"), "y")
	reg.RollbackAll()
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, reg.Sizes())

	a.Add(1, store.NewKey("f", "x"), 1)
	b.Set(1, store.NewKey("f", "x"), "y")
	reg.CommitAll()
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, reg.Sizes())

	assert.Panics(t, func() { reg.Add(store.NewCounter("a")) })
}
