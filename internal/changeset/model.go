package changeset

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Entity names an output table.
type Entity string

const (
	EntityProtocol             Entity = "Protocol"
	EntityPool                 Entity = "Pool"
	EntityToken                Entity = "Token"
	EntityDeposit              Entity = "Deposit"
	EntityWithdraw             Entity = "Withdraw"
	EntitySwap                 Entity = "Swap"
	EntityLiquidityPoolFee     Entity = "LiquidityPoolFee"
	EntityPoolDailySnapshot    Entity = "LiquidityPoolDailySnapshot"
	EntityPoolHourlySnapshot   Entity = "LiquidityPoolHourlySnapshot"
	EntityFinancialsSnapshot   Entity = "FinancialsSnapshot"
	EntityUsageMetricsSnapshot Entity = "UsageMetricsSnapshot"
)

// Operation is a row operation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// Row is one keyed create or update.
type Row struct {
	Entity    Entity         `json:"entity"`
	ID        string         `json:"id"`
	Operation Operation      `json:"operation"`
	Fields    map[string]any `json:"fields"`
}

// Changeset is the output of one processing unit.
type Changeset struct {
	ID         uuid.UUID `json:"id"`
	UnitNumber uint64    `json:"unit_number"`
	UnitHash   string    `json:"unit_hash"`
	Timestamp  int64     `json:"timestamp"`
	Rows       []Row     `json:"rows"`
}

var namespace = uuid.MustParse("6f1d3c52-4e0b-4b8e-9d57-0d6a3f5c9e21")

// IDFor derives the changeset id from the unit key. Replaying a unit
// yields the same id.
func IDFor(unitKey string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(unitKey))
}

// Count returns the number of rows per entity.
func (c *Changeset) Count() map[Entity]int {
	out := make(map[Entity]int)
	for _, r := range c.Rows {
		out[r.Entity]++
	}
	return out
}

// Find returns the first row for entity and id.
func (c *Changeset) Find(entity Entity, id string) (Row, bool) {
	for _, r := range c.Rows {
		if r.Entity == entity && r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// Digest is the SHA-256 of the canonical JSON encoding of the rows.
func (c *Changeset) Digest() ([]byte, error) {
	data, err := json.Marshal(c.Rows)
	if err != nil {
		return nil, fmt.Errorf("digest changeset %d: %w", c.UnitNumber, err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// structFields flattens a struct into row fields through its JSON tags,
// keeping numbers exact.
func structFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
