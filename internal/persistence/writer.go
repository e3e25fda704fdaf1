package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"DexMetrics/internal/core"

	"github.com/google/uuid"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UnitLogWriter writes committed units to unit_log.units using multi-row
// INSERT. Each row keeps the unit's wire payload for replay and its
// changeset for downstream rebuilds.
type UnitLogWriter struct {
	db *sql.DB
}

// UnitRow represents a row in unit_log.units.
type UnitRow struct {
	UnitNumber  uint64
	UnitHash    string
	ChangesetID uuid.UUID
	Payload     []byte // unit wire payload
	Changeset   []byte // JSON-encoded changeset
	RowCount    int
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

const unitColumns = 9

// Key returns the dedupe key of the logged unit.
func (r UnitRow) Key() string {
	return fmt.Sprintf("%d:%s", r.UnitNumber, r.UnitHash)
}

func NewUnitLogWriter(db *sql.DB) *UnitLogWriter {
	return &UnitLogWriter{db: db}
}

// NewUnitRow converts an engine output into a log row.
func NewUnitRow(o core.Output) (UnitRow, error) {
	if o.Changeset == nil {
		return UnitRow{}, fmt.Errorf("unit %d: no changeset", o.UnitNumber)
	}
	cs, err := json.Marshal(o.Changeset)
	if err != nil {
		return UnitRow{}, fmt.Errorf("marshal changeset %d: %w", o.UnitNumber, err)
	}
	payload := o.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	stateHash, prevHash := o.StateHash, o.PrevHash
	return UnitRow{
		UnitNumber:  o.UnitNumber,
		UnitHash:    o.UnitHash,
		ChangesetID: o.Changeset.ID,
		Payload:     payload,
		Changeset:   cs,
		RowCount:    len(o.Changeset.Rows),
		StateHash:   stateHash[:],
		PrevHash:    prevHash[:],
		Timestamp:   time.Unix(o.Timestamp, 0).UTC(),
	}, nil
}

// WriteUnitBatch writes a batch of units. Rewriting a logged unit is a no-op.
func (w *UnitLogWriter) WriteUnitBatch(ctx context.Context, ex execer, units []UnitRow) error {
	if len(units) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO unit_log.units
		(unit_number, unit_hash, changeset_id, payload, changeset, row_count, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(units))
	args := make([]any, 0, len(units)*unitColumns)

	for i, u := range units {
		values = append(values, placeholders(i*unitColumns, unitColumns))
		args = append(args,
			int64(u.UnitNumber), u.UnitHash, u.ChangesetID, u.Payload, u.Changeset,
			u.RowCount, u.StateHash, u.PrevHash, u.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (unit_number) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LoadUnitsFrom loads logged units with number >= from, in order, for replay.
func (w *UnitLogWriter) LoadUnitsFrom(ctx context.Context, from uint64, limit int) ([]UnitRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT unit_number, unit_hash, changeset_id, payload, changeset, row_count,
		       state_hash, prev_hash, timestamp
		FROM unit_log.units
		WHERE unit_number >= $1
		ORDER BY unit_number ASC
		LIMIT $2
	`, int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []UnitRow
	for rows.Next() {
		var u UnitRow
		var n int64
		if err := rows.Scan(
			&n, &u.UnitHash, &u.ChangesetID, &u.Payload, &u.Changeset, &u.RowCount,
			&u.StateHash, &u.PrevHash, &u.Timestamp,
		); err != nil {
			return nil, err
		}
		u.UnitNumber = uint64(n)
		units = append(units, u)
	}
	return units, rows.Err()
}

// LatestUnit returns the highest logged unit number.
func (w *UnitLogWriter) LatestUnit(ctx context.Context) (uint64, bool, error) {
	var n sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(unit_number) FROM unit_log.units`).Scan(&n); err != nil {
		return 0, false, err
	}
	if !n.Valid {
		return 0, false, nil
	}
	return uint64(n.Int64), true, nil
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
