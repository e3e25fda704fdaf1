package store

// Reader is the read-only handle handed to consumers of a store. It exposes
// no write method, so a consumer cannot become a second writer.
type Reader[V any] interface {
	Name() string
	GetLast(key Key) (V, bool)
	GetAt(ordinal uint64, key Key) (V, bool)
	Deltas() []Delta[V]
	Scan(prefix Prefix, fn func(Key, V) bool)
}

// Deleter is the narrow handle used by the retention pruner.
type Deleter interface {
	Name() string
	DeletePrefix(ordinal uint64, prefix Prefix)
}

type readOnly[V any] struct {
	s *Store[V]
}

// Reader returns a read-only handle on s.
func (s *Store[V]) Reader() Reader[V] {
	return readOnly[V]{s: s}
}

func (r readOnly[V]) Name() string                            { return r.s.Name() }
func (r readOnly[V]) GetLast(key Key) (V, bool)               { return r.s.GetLast(key) }
func (r readOnly[V]) GetAt(ordinal uint64, key Key) (V, bool) { return r.s.GetAt(ordinal, key) }
func (r readOnly[V]) Deltas() []Delta[V]                      { return r.s.Deltas() }
func (r readOnly[V]) Scan(prefix Prefix, fn func(Key, V) bool) {
	r.s.Scan(prefix, fn)
}
