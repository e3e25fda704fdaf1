package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Policy is the write discipline of a store.
type Policy uint8

const (
	PolicyUnknown Policy = iota
	// PolicyReplace: later ordinal wins.
	PolicyReplace
	// PolicyAccumulate: writes are summed into the existing value.
	PolicyAccumulate
	// PolicySetIfAbsent: the first writer in the key's lifetime wins.
	PolicySetIfAbsent
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyAccumulate:
		return "accumulate"
	case PolicySetIfAbsent:
		return "set_if_absent"
	default:
		return "unknown"
	}
}

// ErrSealed is wrapped in the error a sealed store panics with when written.
var ErrSealed = errors.New("store sealed for this unit")

type writeKind uint8

const (
	writeSet writeKind = iota + 1
	writeAdd
	writeSetOnce
	writeDeletePrefix
)

type write[V any] struct {
	kind    writeKind
	ordinal uint64
	seq     int
	key     Key
	prefix  Prefix
	value   V
}

type entry[V any] struct {
	key   Key
	value V
}

type slot[V any] struct {
	key    Key
	value  V
	exists bool
}

// Store is an ordinal-aware keyed store for one processing unit at a time.
//
// Writes made during a unit are buffered and only become the committed state
// when Commit is called. Reads inside the unit see the committed state plus
// the buffered writes, applied in (ordinal, call order) order.
//
// A store has exactly one writer. Other components read it through Reader.
// Not thread-safe while unsealed; after Seal every read is side-effect free.
type Store[V any] struct {
	name   string
	policy Policy
	add    func(a, b V) V

	committed map[string]entry[V]

	writes   []write[V]
	byKey    map[string][]int
	prefixes []int

	sealed  bool
	overlay map[string]slot[V]
	deltas  []Delta[V]
}

// NewReplace creates a store with last-ordinal-wins semantics.
func NewReplace[V any](name string) *Store[V] {
	return newStore[V](name, PolicyReplace, nil)
}

// NewAccumulate creates a store whose writes are summed with add.
// add must be commutative and associative, and the zero V must be its identity.
func NewAccumulate[V any](name string, add func(a, b V) V) *Store[V] {
	if add == nil {
		panic(fmt.Sprintf("FATAL: accumulate store %s without add func", name))
	}
	return newStore[V](name, PolicyAccumulate, add)
}

// NewSetIfAbsent creates a store where the first write to a key wins.
func NewSetIfAbsent[V any](name string) *Store[V] {
	return newStore[V](name, PolicySetIfAbsent, nil)
}

func newStore[V any](name string, policy Policy, add func(a, b V) V) *Store[V] {
	return &Store[V]{
		name:      name,
		policy:    policy,
		add:       add,
		committed: make(map[string]entry[V]),
		byKey:     make(map[string][]int),
	}
}

// Name returns the store name.
func (s *Store[V]) Name() string {
	return s.name
}

// Policy returns the write discipline.
func (s *Store[V]) Policy() Policy {
	return s.policy
}

// Set replaces the value of key at ordinal.
func (s *Store[V]) Set(ordinal uint64, key Key, value V) {
	s.mustAccept(PolicyReplace, "set")
	s.append(write[V]{kind: writeSet, ordinal: ordinal, key: key, value: value})
}

// Add accumulates delta into key at ordinal (zero if absent).
func (s *Store[V]) Add(ordinal uint64, key Key, delta V) {
	s.mustAccept(PolicyAccumulate, "add")
	s.append(write[V]{kind: writeAdd, ordinal: ordinal, key: key, value: delta})
}

// SetIfNotExists writes value only if key has never been set.
func (s *Store[V]) SetIfNotExists(ordinal uint64, key Key, value V) {
	s.mustAccept(PolicySetIfAbsent, "set_if_not_exists")
	s.append(write[V]{kind: writeSetOnce, ordinal: ordinal, key: key, value: value})
}

// DeletePrefix removes every key matched by prefix at ordinal.
func (s *Store[V]) DeletePrefix(ordinal uint64, prefix Prefix) {
	if s.sealed {
		panic(fmt.Errorf("FATAL: delete_prefix on %s: %w", s.name, ErrSealed))
	}
	idx := len(s.writes)
	s.writes = append(s.writes, write[V]{kind: writeDeletePrefix, ordinal: ordinal, seq: idx, prefix: prefix})
	s.prefixes = append(s.prefixes, idx)
}

func (s *Store[V]) mustAccept(policy Policy, op string) {
	if s.sealed {
		panic(fmt.Errorf("FATAL: %s on %s: %w", op, s.name, ErrSealed))
	}
	if s.policy != policy {
		panic(fmt.Sprintf("FATAL: %s on %s store %s", op, s.policy, s.name))
	}
}

func (s *Store[V]) append(w write[V]) {
	w.seq = len(s.writes)
	ks := w.key.String()
	s.writes = append(s.writes, w)
	s.byKey[ks] = append(s.byKey[ks], w.seq)
}

// GetLast returns the value of key after every write seen so far. For a
// consumer running after the owning stage this is the end-of-unit value;
// before any write it is the end of the previous unit.
func (s *Store[V]) GetLast(key Key) (V, bool) {
	if s.sealed {
		ks := key.String()
		if sl, ok := s.overlay[ks]; ok {
			return sl.value, sl.exists
		}
		e, ok := s.committed[ks]
		return e.value, ok
	}
	return s.valueAt(key, ^uint64(0))
}

// GetAt returns the value of key as of the latest write with an ordinal
// less than or equal to ordinal within the current unit.
func (s *Store[V]) GetAt(ordinal uint64, key Key) (V, bool) {
	return s.valueAt(key, ordinal)
}

// Committed returns the value as of the end of the previous unit.
func (s *Store[V]) Committed(key Key) (V, bool) {
	e, ok := s.committed[key.String()]
	return e.value, ok
}

func (s *Store[V]) valueAt(key Key, maxOrdinal uint64) (V, bool) {
	ks := key.String()
	e, exists := s.committed[ks]
	value := e.value

	ops := s.opsFor(ks, key)
	for _, idx := range ops {
		w := s.writes[idx]
		if w.ordinal > maxOrdinal {
			break
		}
		value, exists = s.apply(w, value, exists)
	}
	return value, exists
}

// opsFor returns indices of writes touching key, sorted by (ordinal, seq).
func (s *Store[V]) opsFor(ks string, key Key) []int {
	direct := s.byKey[ks]
	if len(s.prefixes) == 0 {
		if sort.SliceIsSorted(direct, func(i, j int) bool { return s.less(direct[i], direct[j]) }) {
			return direct
		}
	}

	ops := make([]int, 0, len(direct)+len(s.prefixes))
	ops = append(ops, direct...)
	for _, idx := range s.prefixes {
		if s.writes[idx].prefix.Matches(key) {
			ops = append(ops, idx)
		}
	}
	sort.SliceStable(ops, func(i, j int) bool { return s.less(ops[i], ops[j]) })
	return ops
}

func (s *Store[V]) less(a, b int) bool {
	wa, wb := s.writes[a], s.writes[b]
	if wa.ordinal != wb.ordinal {
		return wa.ordinal < wb.ordinal
	}
	return wa.seq < wb.seq
}

func (s *Store[V]) apply(w write[V], value V, exists bool) (V, bool) {
	var zero V
	switch w.kind {
	case writeSet:
		return w.value, true
	case writeAdd:
		if !exists {
			return s.add(zero, w.value), true
		}
		return s.add(value, w.value), true
	case writeSetOnce:
		if exists {
			return value, true
		}
		return w.value, true
	case writeDeletePrefix:
		return zero, false
	default:
		return value, exists
	}
}

// Deltas returns the ordered deltas produced by this unit's writes.
func (s *Store[V]) Deltas() []Delta[V] {
	if s.sealed {
		return s.deltas
	}
	_, deltas := s.replay()
	return deltas
}

// replay applies every buffered write in (ordinal, seq) order on top of
// the committed state and records one delta per effective change.
func (s *Store[V]) replay() (map[string]slot[V], []Delta[V]) {
	overlay := make(map[string]slot[V])
	if len(s.writes) == 0 {
		return overlay, nil
	}

	order := make([]int, len(s.writes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return s.less(order[i], order[j]) })

	current := func(ks string) (Key, V, bool) {
		if sl, ok := overlay[ks]; ok {
			return sl.key, sl.value, sl.exists
		}
		e, ok := s.committed[ks]
		return e.key, e.value, ok
	}

	var deltas []Delta[V]
	for _, idx := range order {
		w := s.writes[idx]

		if w.kind == writeDeletePrefix {
			for _, ks := range s.matchingKeys(w.prefix, overlay) {
				key, old, exists := current(ks)
				if !exists {
					continue
				}
				var zero V
				overlay[ks] = slot[V]{key: key}
				deltas = append(deltas, Delta[V]{
					Key: key, Ordinal: w.ordinal, Operation: OpDelete,
					OldValue: old, NewValue: zero,
				})
			}
			continue
		}

		ks := w.key.String()
		_, old, exists := current(ks)
		if w.kind == writeSetOnce && exists {
			continue
		}
		next, _ := s.apply(w, old, exists)
		overlay[ks] = slot[V]{key: w.key, value: next, exists: true}

		op := OpUpdate
		if !exists {
			op = OpCreate
			var zero V
			old = zero
		}
		deltas = append(deltas, Delta[V]{
			Key: w.key, Ordinal: w.ordinal, Operation: op,
			OldValue: old, NewValue: next,
		})
	}
	return overlay, deltas
}

// matchingKeys lists the encoded keys under prefix in committed state or
// the overlay, sorted for determinism.
func (s *Store[V]) matchingKeys(prefix Prefix, overlay map[string]slot[V]) []string {
	seen := make(map[string]struct{})
	for ks, e := range s.committed {
		if prefix.Matches(e.key) {
			seen[ks] = struct{}{}
		}
	}
	for ks, sl := range overlay {
		if prefix.Matches(sl.key) {
			seen[ks] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for ks := range seen {
		keys = append(keys, ks)
	}
	sort.Strings(keys)
	return keys
}

// Scan calls fn for every live key under prefix, in key order, as seen by
// GetLast. Iteration stops when fn returns false.
func (s *Store[V]) Scan(prefix Prefix, fn func(Key, V) bool) {
	overlay := s.overlay
	if !s.sealed {
		overlay, _ = s.replay()
	}
	for _, ks := range s.matchingKeys(prefix, overlay) {
		var (
			key    Key
			value  V
			exists bool
		)
		if sl, ok := overlay[ks]; ok {
			key, value, exists = sl.key, sl.value, sl.exists
		} else {
			e := s.committed[ks]
			key, value, exists = e.key, e.value, true
		}
		if !exists {
			continue
		}
		if !fn(key, value) {
			return
		}
	}
}

// Seal finalizes the unit's writes. After Seal the store rejects writes and
// all reads are side-effect free, so it can be shared across goroutines.
func (s *Store[V]) Seal() {
	if s.sealed {
		return
	}
	s.overlay, s.deltas = s.replay()
	s.sealed = true
}

// Sealed reports whether the store has been sealed for the current unit.
func (s *Store[V]) Sealed() bool {
	return s.sealed
}

// Commit makes the unit's writes the committed state.
func (s *Store[V]) Commit() {
	s.Seal()
	for ks, sl := range s.overlay {
		if sl.exists {
			s.committed[ks] = entry[V]{key: sl.key, value: sl.value}
		} else {
			delete(s.committed, ks)
		}
	}
	s.reset()
}

// Rollback discards the unit's writes.
func (s *Store[V]) Rollback() {
	s.reset()
}

func (s *Store[V]) reset() {
	s.writes = s.writes[:0]
	s.byKey = make(map[string][]int)
	s.prefixes = s.prefixes[:0]
	s.overlay = nil
	s.deltas = nil
	s.sealed = false
}

// Len returns the number of committed keys.
func (s *Store[V]) Len() int {
	return len(s.committed)
}

// Export serializes the committed state as a JSON object keyed by the
// encoded store key.
func (s *Store[V]) Export() (json.RawMessage, error) {
	out := make(map[string]V, len(s.committed))
	for ks, e := range s.committed {
		out[ks] = e.value
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("export store %s: %w", s.name, err)
	}
	return data, nil
}

// Import replaces the committed state with a previously exported one.
func (s *Store[V]) Import(data json.RawMessage) error {
	var in map[string]V
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("import store %s: %w", s.name, err)
	}
	committed := make(map[string]entry[V], len(in))
	for ks, v := range in {
		key, err := ParseKey(ks)
		if err != nil {
			return fmt.Errorf("import store %s: %w", s.name, err)
		}
		committed[ks] = entry[V]{key: key, value: v}
	}
	s.committed = committed
	s.reset()
	return nil
}
