package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"
	"DexMetrics/internal/observability"

	"github.com/rs/zerolog"
)

// WatermarkName is the projection's row in materialized.watermark.
const WatermarkName = "entities"

// execer is satisfied by *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker applies changesets to materialized.entities. The
// projection channel drops on full; a projection that fell behind is
// rebuilt from the unit log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastUnit  uint64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.Output, metrics *observability.Metrics, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Changeset == nil {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output.Changeset); err != nil {
				// Eventually consistent; rebuildable from the unit log.
				pw.log.Warn().Err(err).Uint64("unit", output.UnitNumber).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.SinkErrors.WithLabelValues("postgres").Inc()
				}
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(WatermarkName).Observe(time.Since(start).Seconds())
				pw.metrics.SinkWrites.WithLabelValues("postgres").Inc()
			}
			pw.lastUnit = output.UnitNumber
		}
	}
}

// LastUnit returns the last unit applied by this worker.
func (pw *ProjectionWorker) LastUnit() uint64 {
	return pw.lastUnit
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, cs *changeset.Changeset) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ApplyChangeset(ctx, tx, cs); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyChangeset upserts every row of cs and advances the watermark.
// Creates and updates both merge into the stored document, so applying a
// changeset twice leaves the table unchanged.
func ApplyChangeset(ctx context.Context, ex execer, cs *changeset.Changeset) error {
	for _, row := range cs.Rows {
		if err := applyRow(ctx, ex, cs.UnitNumber, row); err != nil {
			return fmt.Errorf("unit %d %s %s: %w", cs.UnitNumber, row.Entity, row.ID, err)
		}
	}

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO materialized.watermark (projection, last_unit, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_unit = $2, updated_at = NOW()
	`, WatermarkName, int64(cs.UnitNumber)); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

const upsertEntity = `
	INSERT INTO materialized.entities (entity, id, fields, created_unit, updated_unit, updated_at)
	VALUES ($1, $2, $3, $4, $4, NOW())
	ON CONFLICT (entity, id) DO UPDATE
		SET fields = materialized.entities.fields || EXCLUDED.fields,
		    updated_unit = EXCLUDED.updated_unit, updated_at = NOW()
`

// applyRow merges the row into the stored document. An update that
// arrives before its create (dropped projection input) still lands.
func applyRow(ctx context.Context, ex execer, unit uint64, row changeset.Row) error {
	if row.Operation != changeset.OpCreate && row.Operation != changeset.OpUpdate {
		return fmt.Errorf("unknown operation %q", row.Operation)
	}
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	_, err = ex.ExecContext(ctx, upsertEntity, string(row.Entity), row.ID, fields, int64(unit))
	return err
}

// RebuildProjections truncates the entity table and re-applies every
// logged changeset in unit order.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE materialized.entities`,
		`DELETE FROM materialized.watermark WHERE projection = '` + WatermarkName + `'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	const batch = 500
	var from int64
	applied := 0
	for {
		rows, err := db.QueryContext(ctx, `
			SELECT unit_number, changeset FROM unit_log.units
			WHERE unit_number >= $1 ORDER BY unit_number ASC LIMIT $2
		`, from, batch)
		if err != nil {
			return fmt.Errorf("load changesets: %w", err)
		}

		var changesets []*changeset.Changeset
		for rows.Next() {
			var n int64
			var data []byte
			if err := rows.Scan(&n, &data); err != nil {
				rows.Close()
				return err
			}
			var cs changeset.Changeset
			if err := json.Unmarshal(data, &cs); err != nil {
				rows.Close()
				return fmt.Errorf("decode changeset %d: %w", n, err)
			}
			changesets = append(changesets, &cs)
			from = n + 1
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(changesets) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, cs := range changesets {
			if err := ApplyChangeset(ctx, tx, cs); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied += len(changesets)
	}

	log.Info().Int("units", applied).Msg("projection rebuild complete")
	return nil
}
