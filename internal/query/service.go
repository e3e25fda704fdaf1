package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/timeframe"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

const (
	DefaultLimit = 30
	MaxLimit     = 1000
)

// QueryService provides read-only access to the materialized entity
// tables. Every response carries as_of_unit, the last unit the projection
// applied.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPool returns a pool entity by address.
func (qs *QueryService) GetPool(ctx context.Context, address string) (*EntityResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var r EntityResponse
	var created, updated int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT entity, id, fields, created_unit, updated_unit
		FROM materialized.entities
		WHERE entity = $1 AND id = $2
	`, string(changeset.EntityPool), reference.NormalizeAddress(address)).Scan(
		&r.Entity, &r.ID, &r.Fields, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedUnit, r.UpdatedUnit, r.AsOfUnit = uint64(created), uint64(updated), asOf
	return &r, nil
}

// GetPoolSnapshots returns a pool's daily or hourly snapshots, newest first.
func (qs *QueryService) GetPoolSnapshots(ctx context.Context, address string, g timeframe.Granularity, limit int) (*ListResponse, error) {
	entity := changeset.EntityPoolDailySnapshot
	if g == timeframe.Hourly {
		entity = changeset.EntityPoolHourlySnapshot
	}
	return qs.list(ctx, `
		SELECT entity, id, fields, created_unit, updated_unit
		FROM materialized.entities
		WHERE entity = $1 AND fields->>'pool' = $2
		ORDER BY (fields->>'bucket')::BIGINT DESC
		LIMIT $3
	`, string(entity), reference.NormalizeAddress(address), NormalizeLimit(limit))
}

// GetFinancials returns protocol financials snapshots, newest first.
func (qs *QueryService) GetFinancials(ctx context.Context, g timeframe.Granularity, limit int) (*ListResponse, error) {
	return qs.bucketed(ctx, changeset.EntityFinancialsSnapshot, g, limit)
}

// GetUsage returns protocol usage snapshots, newest first.
func (qs *QueryService) GetUsage(ctx context.Context, g timeframe.Granularity, limit int) (*ListResponse, error) {
	return qs.bucketed(ctx, changeset.EntityUsageMetricsSnapshot, g, limit)
}

func (qs *QueryService) bucketed(ctx context.Context, entity changeset.Entity, g timeframe.Granularity, limit int) (*ListResponse, error) {
	return qs.list(ctx, `
		SELECT entity, id, fields, created_unit, updated_unit
		FROM materialized.entities
		WHERE entity = $1 AND fields->>'granularity' = $2
		ORDER BY (fields->>'bucket')::BIGINT DESC
		LIMIT $3
	`, string(entity), g.String(), NormalizeLimit(limit))
}

func (qs *QueryService) list(ctx context.Context, query string, args ...any) (*ListResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &ListResponse{Items: []EntityResponse{}, AsOfUnit: asOf}
	for rows.Next() {
		var r EntityResponse
		var created, updated int64
		if err := rows.Scan(&r.Entity, &r.ID, &r.Fields, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedUnit, r.UpdatedUnit, r.AsOfUnit = uint64(created), uint64(updated), asOf
		out.Items = append(out.Items, r)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// GetStatus reports log, projection and checkpoint progress.
func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	s := &StatusResponse{CheckedAt: time.Now().UTC()}

	var logged sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(unit_number) FROM unit_log.units`).Scan(&logged); err != nil {
		return nil, fmt.Errorf("unit log: %w", err)
	}
	s.LastLoggedUnit = uint64(logged.Int64)

	projected, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	s.LastProjectedUnit = projected

	var cpUnit int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT unit_number, verified FROM unit_log.checkpoints ORDER BY unit_number DESC LIMIT 1
	`).Scan(&cpUnit, &s.CheckpointVerified)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	s.LastCheckpointUnit = uint64(cpUnit)

	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM materialized.entities`).Scan(&s.EntityCount); err != nil {
		return nil, fmt.Errorf("entity count: %w", err)
	}
	return s, nil
}

// VerifyIntegrity checks that every logged unit's prev_hash is the state
// hash of the unit logged before it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unit_log.units`).Scan(&report.UnitsChecked); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT unit_number FROM (
			SELECT unit_number, prev_hash,
			       LAG(state_hash) OVER (ORDER BY unit_number) AS expected
			FROM unit_log.units
		) chain
		WHERE expected IS NOT NULL AND prev_hash != expected
		ORDER BY unit_number
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, uint64(n))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (qs *QueryService) getWatermark(ctx context.Context) (uint64, error) {
	var n int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_unit FROM materialized.watermark WHERE projection = 'entities'
	`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(n), err
}
