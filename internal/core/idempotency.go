package core

import (
	"container/list"
)

// UnitChecker is a cold dedupe tier consulted after the LRU misses.
type UnitChecker interface {
	Name() string
	IsDuplicate(unitKey string) (bool, error)
}

// IdempotencyChecker implements tiered unit deduplication: an in-memory
// LRU first, then each cold tier in order.
type IdempotencyChecker struct {
	lru   *IdempotencyLRU
	tiers []UnitChecker

	metrics *IdempotencyMetrics
}

func NewIdempotencyChecker(capacity int, tiers ...UnitChecker) *IdempotencyChecker {
	live := make([]UnitChecker, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			live = append(live, t)
		}
	}
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		tiers:   live,
		metrics: NewIdempotencyMetrics(),
	}
}

// IsDuplicate reports whether the unit was already committed, and which
// tier answered.
func (ic *IdempotencyChecker) IsDuplicate(unitKey string) (bool, string) {
	if ic.lru.Contains(unitKey) {
		ic.metrics.RecordDuplicate("lru")
		return true, "lru"
	}

	for _, t := range ic.tiers {
		isDup, err := t.IsDuplicate(unitKey)
		if err != nil {
			// A failing tier is treated as a miss; the sequencer still
			// rejects a stale unit number.
			ic.metrics.RecordTierError(t.Name())
			continue
		}
		if isDup {
			ic.metrics.RecordDuplicate(t.Name())
			ic.lru.Add(unitKey)
			return true, t.Name()
		}
	}

	return false, ""
}

// IsDuplicateHot consults the LRU only.
func (ic *IdempotencyChecker) IsDuplicateHot(unitKey string) bool {
	if ic.lru.Contains(unitKey) {
		ic.metrics.RecordDuplicate("lru")
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after successful commit
func (ic *IdempotencyChecker) MarkProcessed(unitKey string) {
	ic.lru.Add(unitKey)
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for unit keys.
// Not thread-safe; only accessed from the engine goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of keys, oldest first, into the LRU.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns the cached keys, oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe; only accessed from the engine goroutine.
type IdempotencyMetrics struct {
	duplicates map[string]int64 // tier -> count
	tierErrors map[string]int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicates: make(map[string]int64),
		tierErrors: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(tier string) {
	m.duplicates[tier]++
}

func (m *IdempotencyMetrics) RecordTierError(tier string) {
	m.tierErrors[tier]++
}

func (m *IdempotencyMetrics) GetDuplicates(tier string) int64 {
	return m.duplicates[tier]
}

func (m *IdempotencyMetrics) GetTierErrors(tier string) int64 {
	return m.tierErrors[tier]
}
