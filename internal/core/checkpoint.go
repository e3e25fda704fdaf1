package core

import (
	"encoding/json"
	"fmt"
)

// CheckpointState is the serializable engine state: every store's committed
// contents plus the unit cursor, hash chain tip and recent unit keys.
type CheckpointState struct {
	UnitNumber uint64                     `json:"unit_number"`
	StateHash  [32]byte                   `json:"state_hash"`
	Stores     map[string]json.RawMessage `json:"stores"`
	UnitKeys   []string                   `json:"unit_keys"`
}

// CreateCheckpointState captures the committed state. Call it between units.
func (e *Engine) CreateCheckpointState() (*CheckpointState, error) {
	last, ok := e.sequenceValidator.Last()
	if !ok {
		return nil, fmt.Errorf("no unit committed yet")
	}
	stores, err := e.reg.Export()
	if err != nil {
		return nil, fmt.Errorf("export stores: %w", err)
	}
	return &CheckpointState{
		UnitNumber: last,
		StateHash:  e.hasher.GetPrevHash(),
		Stores:     stores,
		UnitKeys:   e.idempotency.lru.Keys(),
	}, nil
}

// RestoreFromCheckpoint loads a checkpoint into a fresh engine. Units after
// UnitNumber are then replayed.
func (e *Engine) RestoreFromCheckpoint(cp *CheckpointState) error {
	if err := e.reg.Import(cp.Stores); err != nil {
		return fmt.Errorf("import stores: %w", err)
	}
	e.hasher.SetPrevHash(cp.StateHash)
	e.sequenceValidator.Advance(cp.UnitNumber)
	e.idempotency.lru.WarmFromKeys(cp.UnitKeys)
	return nil
}

// WarmLRU loads recent unit keys into the dedupe LRU.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}
