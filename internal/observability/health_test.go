package observability_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"DexMetrics/internal/observability"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readiness(t *testing.T, h *observability.HealthChecker) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestReadinessFollowsStage(t *testing.T) {
	h := observability.NewHealthChecker()

	code, body := readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body["stage"])

	h.SetStage(observability.StageRecovering)
	h.SetReady(true)
	code, body = readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code, "recovering is never ready")
	assert.Equal(t, "recovering", body["stage"])

	h.SetStage(observability.StageServing)
	code, _ = readiness(t, h)
	assert.Equal(t, http.StatusOK, code)

	h.SetStage(observability.StageDraining)
	assert.False(t, h.IsReady())
}

func TestLivenessReportsLastUnit(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetLastUnit(42)

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
	assert.EqualValues(t, 42, body["last_unit"])
	assert.Contains(t, body, "since_last_unit")
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, observability.ParseLogLevel(in), "level %q", in)
	}
}
