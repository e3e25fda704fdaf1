package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"DexMetrics/internal/core"

	"github.com/google/uuid"
)

// checkpointFormat identifies the encoding of checkpoint data.
// v1: JSON-encoded core.CheckpointState.
const checkpointFormat = 1

// CheckpointManager saves and loads engine checkpoints. A checkpoint holds
// every store's committed contents, the last unit, the state hash and
// recent unit keys for dedupe warming.
type CheckpointManager struct {
	db *sql.DB
}

// CheckpointInfo describes a stored checkpoint without its data.
type CheckpointInfo struct {
	ID         uuid.UUID `json:"id"`
	UnitNumber uint64    `json:"unit_number"`
	StateHash  []byte    `json:"state_hash"`
	SizeBytes  int       `json:"size_bytes"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewCheckpointManager(db *sql.DB) *CheckpointManager {
	return &CheckpointManager{db: db}
}

// Save persists a checkpoint and returns its size in bytes. Saving a unit
// number twice replaces the earlier data.
func (cm *CheckpointManager) Save(ctx context.Context, cp *core.CheckpointState) (int, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = cm.db.ExecContext(ctx, `
		INSERT INTO unit_log.checkpoints
			(checkpoint_id, unit_number, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (unit_number) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), int64(cp.UnitNumber), data, cp.StateHash[:], checkpointFormat, len(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save checkpoint %d: %w", cp.UnitNumber, err)
	}
	return len(data), nil
}

// LoadLatest loads the most recent verified checkpoint. It returns nil
// with no error when none exists.
func (cm *CheckpointManager) LoadLatest(ctx context.Context) (*core.CheckpointState, error) {
	row := cm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM unit_log.checkpoints
		WHERE verified = TRUE
		ORDER BY unit_number DESC
		LIMIT 1
	`)

	var data []byte
	var format int
	if err := row.Scan(&data, &format); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if format != checkpointFormat {
		return nil, fmt.Errorf("load checkpoint: unsupported format %d", format)
	}

	var cp core.CheckpointState
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// MarkVerified marks a checkpoint usable for restore.
func (cm *CheckpointManager) MarkVerified(ctx context.Context, unitNumber uint64) error {
	_, err := cm.db.ExecContext(ctx,
		`UPDATE unit_log.checkpoints SET verified = TRUE WHERE unit_number = $1`, int64(unitNumber))
	return err
}

// Latest describes the most recent checkpoint, verified or not.
func (cm *CheckpointManager) Latest(ctx context.Context) (*CheckpointInfo, error) {
	var info CheckpointInfo
	var n int64
	err := cm.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, unit_number, state_hash, size_bytes, verified, created_at
		FROM unit_log.checkpoints
		ORDER BY unit_number DESC
		LIMIT 1
	`).Scan(&info.ID, &n, &info.StateHash, &info.SizeBytes, &info.Verified, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.UnitNumber = uint64(n)
	return &info, nil
}

// Prune deletes all but the newest keep checkpoints.
func (cm *CheckpointManager) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := cm.db.ExecContext(ctx, `
		DELETE FROM unit_log.checkpoints
		WHERE unit_number NOT IN (
			SELECT unit_number FROM unit_log.checkpoints ORDER BY unit_number DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
