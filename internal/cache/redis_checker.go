package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "dexmetrics:unit:"
	DefaultTTL    = 72 * time.Hour
)

// RedisUnitChecker is a shared dedupe tier between the LRU and the unit
// log. Keys are written only after the unit log commit, so a hit means the
// unit is durable.
type RedisUnitChecker struct {
	rdb     goredis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisUnitChecker wraps rdb. Empty prefix and zero ttl take defaults.
func NewRedisUnitChecker(rdb goredis.UniversalClient, prefix string, ttl time.Duration) (*RedisUnitChecker, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required to the unit checker")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisUnitChecker{
		rdb:     rdb,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 200 * time.Millisecond,
	}, nil
}

// Connect opens a client against addr and pings it.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisUnitChecker) Name() string { return "redis" }

// IsDuplicate reports whether unitKey was marked processed.
func (c *RedisUnitChecker) IsDuplicate(unitKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.rdb.Exists(ctx, c.prefix+unitKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the keys with the configured TTL in one pipeline.
func (c *RedisUnitChecker) MarkProcessed(ctx context.Context, unitKeys ...string) error {
	if len(unitKeys) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, k := range unitKeys {
		pipe.Set(ctx, c.prefix+k, 1, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark %d units: %w", len(unitKeys), err)
	}
	return nil
}
