package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Stage is the lifecycle phase of the service.
type Stage int32

const (
	StageStarting Stage = iota
	StageRecovering
	StageServing
	StageDraining
)

func (s Stage) String() string {
	switch s {
	case StageStarting:
		return "starting"
	case StageRecovering:
		return "recovering"
	case StageServing:
		return "serving"
	case StageDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// HealthChecker backs /healthz (liveness) and /readyz (readiness).
// Readiness requires the serving stage and an explicit SetReady(true).
type HealthChecker struct {
	ready      atomic.Bool
	stage      atomic.Int32
	lastUnit   atomic.Uint64
	lastUnitAt atomic.Int64
	startTime  time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// SetStage moves the service to a lifecycle phase.
func (h *HealthChecker) SetStage(s Stage) {
	h.stage.Store(int32(s))
}

// Stage returns the current lifecycle phase.
func (h *HealthChecker) Stage() Stage {
	return Stage(h.stage.Load())
}

// SetLastUnit records the last committed unit number.
func (h *HealthChecker) SetLastUnit(n uint64) {
	h.lastUnit.Store(n)
	h.lastUnitAt.Store(time.Now().UnixNano())
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load() && h.Stage() == StageServing
}

// LivenessHandler returns HTTP 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "alive",
		"stage":     h.Stage().String(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"last_unit": h.lastUnit.Load(),
	}
	if at := h.lastUnitAt.Load(); at > 0 {
		body["since_last_unit"] = time.Since(time.Unix(0, at)).Round(time.Millisecond).String()
	}
	writeHealth(w, http.StatusOK, body)
}

// ReadinessHandler returns HTTP 200 once recovery is done and units are
// being consumed, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.IsReady() {
		writeHealth(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	writeHealth(w, http.StatusServiceUnavailable, map[string]any{
		"status": "not_ready",
		"stage":  h.Stage().String(),
	})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
