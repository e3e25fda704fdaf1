package query

import (
	"encoding/json"
	"time"
)

// EntityResponse is one materialized entity.
type EntityResponse struct {
	Entity      string          `json:"entity"`
	ID          string          `json:"id"`
	Fields      json.RawMessage `json:"fields"`
	CreatedUnit uint64          `json:"created_unit"`
	UpdatedUnit uint64          `json:"updated_unit"`
	AsOfUnit    uint64          `json:"as_of_unit"`
}

// ListResponse is a page of entities, newest bucket first.
type ListResponse struct {
	Items    []EntityResponse `json:"items"`
	AsOfUnit uint64           `json:"as_of_unit"`
}

// StatusResponse reports how far each part of the pipeline has progressed.
type StatusResponse struct {
	LastLoggedUnit     uint64    `json:"last_logged_unit"`
	LastProjectedUnit  uint64    `json:"last_projected_unit"`
	LastCheckpointUnit uint64    `json:"last_checkpoint_unit"`
	CheckpointVerified bool      `json:"checkpoint_verified"`
	EntityCount        int64     `json:"entity_count"`
	Uptime             string    `json:"uptime,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool     `json:"is_healthy"`
	UnitsChecked    int64    `json:"units_checked"`
	HashChainBreaks []uint64 `json:"hash_chain_breaks,omitempty"`
}
