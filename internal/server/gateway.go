package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"DexMetrics/internal/ingestion"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/query"
	"DexMetrics/internal/timeframe"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxUnitBytes bounds a manually injected unit payload.
const maxUnitBytes = 8 << 20

// Querier is the read side served over HTTP.
type Querier interface {
	GetPool(ctx context.Context, address string) (*query.EntityResponse, error)
	GetPoolSnapshots(ctx context.Context, address string, g timeframe.Granularity, limit int) (*query.ListResponse, error)
	GetFinancials(ctx context.Context, g timeframe.Granularity, limit int) (*query.ListResponse, error)
	GetUsage(ctx context.Context, g timeframe.Granularity, limit int) (*query.ListResponse, error)
	GetStatus(ctx context.Context) (*query.StatusResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Injector accepts manually submitted units.
type Injector interface {
	Inject(ctx context.Context, data []byte) (uint64, error)
}

// ServerDeps holds everything the routes need. Checkpoint and Rebuild are
// optional admin hooks.
type ServerDeps struct {
	Query         Querier
	Injector      Injector
	Checkpoint    func(ctx context.Context) (uint64, error)
	Rebuild       func(ctx context.Context) error
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

// Gateway serves the HTTP/JSON routes on a grpc-gateway mux.
type Gateway struct {
	mux  *runtime.ServeMux
	deps *ServerDeps
}

// NewGateway registers every route.
func NewGateway(deps *ServerDeps) (*Gateway, error) {
	if deps.Query == nil {
		return nil, errors.New("server: query service is required")
	}
	g := &Gateway{mux: runtime.NewServeMux(), deps: deps}

	routes := []struct {
		method, pattern, name string
		h                     runtime.HandlerFunc
	}{
		{"GET", "/v1/pools/{address}", "get_pool", g.getPool},
		{"GET", "/v1/pools/{address}/snapshots", "pool_snapshots", g.poolSnapshots},
		{"GET", "/v1/protocol/financials", "financials", g.financials},
		{"GET", "/v1/protocol/usage", "usage", g.usage},
		{"POST", "/v1/units", "inject_unit", g.injectUnit},
		{"GET", "/v1/admin/status", "status", g.status},
		{"POST", "/v1/admin/verify", "verify", g.verify},
		{"POST", "/v1/admin/checkpoint", "checkpoint", g.checkpoint},
		{"POST", "/v1/admin/rebuild-projections", "rebuild", g.rebuild},
	}
	for _, r := range routes {
		if err := g.mux.HandlePath(r.method, r.pattern, g.instrument(r.name, r.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return g, nil
}

// Handler returns the mux.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// instrument wraps a route with request metrics.
func (g *Gateway) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		h(w, r, params)
		if m := g.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Query routes
// ============================================================================

func (g *Gateway) getPool(w http.ResponseWriter, r *http.Request, p map[string]string) {
	pool, err := g.deps.Query.GetPool(r.Context(), p["address"])
	if err != nil {
		g.writeError(w, "get_pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (g *Gateway) poolSnapshots(w http.ResponseWriter, r *http.Request, p map[string]string) {
	gran, limit, err := listParams(r)
	if err != nil {
		g.writeError(w, "pool_snapshots", err)
		return
	}
	out, err := g.deps.Query.GetPoolSnapshots(r.Context(), p["address"], gran, limit)
	if err != nil {
		g.writeError(w, "pool_snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) financials(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	gran, limit, err := listParams(r)
	if err != nil {
		g.writeError(w, "financials", err)
		return
	}
	out, err := g.deps.Query.GetFinancials(r.Context(), gran, limit)
	if err != nil {
		g.writeError(w, "financials", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) usage(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	gran, limit, err := listParams(r)
	if err != nil {
		g.writeError(w, "usage", err)
		return
	}
	out, err := g.deps.Query.GetUsage(r.Context(), gran, limit)
	if err != nil {
		g.writeError(w, "usage", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// listParams reads ?granularity=daily|hourly (default daily) and ?limit=.
func listParams(r *http.Request) (timeframe.Granularity, int, error) {
	q := r.URL.Query()
	gran := timeframe.Daily
	if s := q.Get("granularity"); s != "" {
		parsed, err := timeframe.ParseGranularity(s)
		if err != nil {
			return 0, 0, status.Errorf(codes.InvalidArgument, "granularity: %v", err)
		}
		gran = parsed
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, status.Errorf(codes.InvalidArgument, "limit must be a non-negative integer")
		}
		limit = n
	}
	return gran, query.NormalizeLimit(limit), nil
}

// ============================================================================
// Ingest route
// ============================================================================

func (g *Gateway) injectUnit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Injector == nil {
		g.writeError(w, "inject_unit", status.Error(codes.Unimplemented, "unit injection disabled"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUnitBytes))
	if err != nil {
		g.writeError(w, "inject_unit", status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	n, err := g.deps.Injector.Inject(r.Context(), data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			g.writeError(w, "inject_unit", status.Error(codes.Unavailable, "unit queue full"))
			return
		}
		g.writeError(w, "inject_unit", status.Errorf(codes.InvalidArgument, "%v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "unit_number": n})
}

// ============================================================================
// Admin routes
// ============================================================================

func (g *Gateway) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	st, err := g.deps.Query.GetStatus(r.Context())
	if err != nil {
		g.writeError(w, "status", err)
		return
	}
	if !g.deps.StartTime.IsZero() {
		st.Uptime = time.Since(g.deps.StartTime).Truncate(time.Second).String()
	}
	writeJSON(w, http.StatusOK, st)
}

func (g *Gateway) verify(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := g.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		g.writeError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (g *Gateway) checkpoint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Checkpoint == nil {
		g.writeError(w, "checkpoint", status.Error(codes.Unimplemented, "checkpoint trigger disabled"))
		return
	}
	n, err := g.deps.Checkpoint(r.Context())
	if err != nil {
		g.writeError(w, "checkpoint", status.Errorf(codes.FailedPrecondition, "%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit_number": n})
}

func (g *Gateway) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Rebuild == nil {
		g.writeError(w, "rebuild", status.Error(codes.Unimplemented, "rebuild disabled"))
		return
	}
	if err := g.deps.Rebuild(r.Context()); err != nil {
		g.writeError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": true})
}

// ============================================================================
// Helpers
// ============================================================================

// writeError maps err to a gRPC code and its HTTP status.
func (g *Gateway) writeError(w http.ResponseWriter, endpoint string, err error) {
	code := codes.Internal
	if errors.Is(err, query.ErrNotFound) {
		code = codes.NotFound
	} else if errors.Is(err, ingestion.ErrEmptyUnit) {
		code = codes.InvalidArgument
	} else if st, ok := status.FromError(err); ok {
		code = st.Code()
	}

	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	if code == codes.Internal {
		g.deps.Log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	if m := g.deps.Metrics; m != nil {
		m.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(code), map[string]any{
		"code":    code.String(),
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
