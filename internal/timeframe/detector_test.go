package timeframe_test

import (
	"errors"
	"testing"

	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closed struct {
	bucket int64
	g      timeframe.Granularity
}

type recorder struct {
	calls []closed
	err   error
}

func (r *recorder) OnBucketClosed(bucketID int64, g timeframe.Granularity) error {
	r.calls = append(r.calls, closed{bucketID, g})
	return r.err
}

func newDetector(t *testing.T) (*timeframe.Detector, *store.Registry) {
	t.Helper()
	reg := store.NewRegistry()
	return timeframe.NewDetector(reg, zerolog.Nop()), reg
}

func TestBucketID_FloorDivision(t *testing.T) {
	assert.Equal(t, int64(0), timeframe.BucketID(100, timeframe.Daily))
	assert.Equal(t, int64(1), timeframe.BucketID(86500, timeframe.Daily))
	assert.Equal(t, int64(24), timeframe.BucketID(86500, timeframe.Hourly))
	assert.Equal(t, int64(-1), timeframe.BucketID(-1, timeframe.Daily))
	assert.Equal(t, int64(86400), timeframe.BucketStart(1, timeframe.Daily))
}

func TestFirstObservationNeverFires(t *testing.T) {
	det, reg := newDetector(t)
	rec := &recorder{}
	det.Register(timeframe.Daily, rec)
	det.Register(timeframe.Hourly, rec)

	det.Observe(0, 100)
	boundaries, err := det.Dispatch()
	require.NoError(t, err)
	assert.Empty(t, boundaries)
	assert.Empty(t, rec.calls)
	reg.CommitAll()

	cur, ok := det.Current(timeframe.Daily)
	require.True(t, ok)
	assert.Equal(t, int64(0), cur)
}

func TestSameBucketDoesNotFire(t *testing.T) {
	det, reg := newDetector(t)
	rec := &recorder{}
	det.Register(timeframe.Daily, rec)

	det.Observe(0, 100)
	_, err := det.Dispatch()
	require.NoError(t, err)
	reg.CommitAll()

	det.Observe(0, 200)
	_, err = det.Dispatch()
	require.NoError(t, err)
	assert.Empty(t, rec.calls)
}

func TestDayTransitionPassesOldBucket(t *testing.T) {
	det, reg := newDetector(t)
	daily := &recorder{}
	hourly := &recorder{}
	det.Register(timeframe.Daily, daily)
	det.Register(timeframe.Hourly, hourly)

	det.Observe(0, 100)
	_, err := det.Dispatch()
	require.NoError(t, err)
	reg.CommitAll()

	det.Observe(0, 86500)
	boundaries, err := det.Dispatch()
	require.NoError(t, err)

	assert.Equal(t, []closed{{0, timeframe.Daily}}, daily.calls)
	assert.Equal(t, []closed{{0, timeframe.Hourly}}, hourly.calls)
	require.Len(t, boundaries, 2)
	assert.Equal(t, int64(0), boundaries[0].Closed)
	assert.Equal(t, int64(1), boundaries[0].Opened)
}

func TestHourlyBoundaryDoesNotTriggerDaily(t *testing.T) {
	det, reg := newDetector(t)
	daily := &recorder{}
	hourly := &recorder{}
	det.Register(timeframe.Daily, daily)
	det.Register(timeframe.Hourly, hourly)

	det.Observe(0, 100)
	_, _ = det.Dispatch()
	reg.CommitAll()

	det.Observe(0, 3700)
	_, err := det.Dispatch()
	require.NoError(t, err)
	assert.Empty(t, daily.calls)
	assert.Equal(t, []closed{{0, timeframe.Hourly}}, hourly.calls)
}

func TestBackwardsBucketIsFatal(t *testing.T) {
	det, reg := newDetector(t)
	rec := &recorder{}
	det.Register(timeframe.Daily, rec)

	det.Observe(0, 86500)
	_, _ = det.Dispatch()
	reg.CommitAll()

	det.Observe(0, 100)
	_, err := det.Dispatch()
	require.Error(t, err)
	assert.True(t, errors.Is(err, timeframe.ErrOutOfOrderBucket))
	assert.Empty(t, rec.calls)
}

func TestListenerErrorStopsDispatch(t *testing.T) {
	det, reg := newDetector(t)
	failing := &recorder{err: errors.New("boom")}
	after := &recorder{}
	det.Register(timeframe.Daily, failing)
	det.Register(timeframe.Daily, after)

	det.Observe(0, 100)
	_, _ = det.Dispatch()
	reg.CommitAll()

	det.Observe(0, 86500)
	_, err := det.Dispatch()
	require.Error(t, err)
	assert.Len(t, failing.calls, 1)
	assert.Empty(t, after.calls)
}
