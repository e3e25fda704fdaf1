package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// PostgresUnitChecker is the cold dedupe tier: a unit is a duplicate if
// the unit log already holds its number with the same hash.
type PostgresUnitChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresUnitChecker(db *sql.DB) *PostgresUnitChecker {
	return &PostgresUnitChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

func (c *PostgresUnitChecker) Name() string { return "postgres" }

// IsDuplicate looks up a "<number>:<hash>" unit key in the unit log.
func (c *PostgresUnitChecker) IsDuplicate(unitKey string) (bool, error) {
	number, hash, err := splitUnitKey(unitKey)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var exists int
	err = c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM unit_log.units
		WHERE unit_number = $1 AND unit_hash = $2
		LIMIT 1
	`, int64(number), hash).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func splitUnitKey(key string) (uint64, string, error) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return 0, "", errors.New("malformed unit key: " + key)
	}
	n, err := strconv.ParseUint(key[:i], 10, 64)
	if err != nil {
		return 0, "", errors.New("malformed unit key: " + key)
	}
	return n, key[i+1:], nil
}
