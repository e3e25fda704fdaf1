package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Unit is the type-erased lifecycle of a store within a processing unit.
type Unit interface {
	Name() string
	Seal()
	Sealed() bool
	Commit()
	Rollback()
	Len() int
	Export() (json.RawMessage, error)
	Import(data json.RawMessage) error
}

// Registry owns every store of one run and commits or rolls them back
// together, giving a unit all-or-nothing visibility.
type Registry struct {
	stores []Unit
	byName map[string]Unit
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Unit)}
}

// Register adds s to the registry and returns it.
func Register[V any](r *Registry, s *Store[V]) *Store[V] {
	r.Add(s)
	return s
}

// Add registers a store. Names must be unique.
func (r *Registry) Add(u Unit) {
	if _, dup := r.byName[u.Name()]; dup {
		panic(fmt.Sprintf("FATAL: duplicate store name %s", u.Name()))
	}
	r.stores = append(r.stores, u)
	r.byName[u.Name()] = u
}

// Get returns a registered store by name.
func (r *Registry) Get(name string) (Unit, bool) {
	u, ok := r.byName[name]
	return u, ok
}

// Names returns the registered store names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for _, u := range r.stores {
		names = append(names, u.Name())
	}
	return names
}

func (r *Registry) CommitAll() {
	for _, u := range r.stores {
		u.Commit()
	}
}

func (r *Registry) RollbackAll() {
	for _, u := range r.stores {
		u.Rollback()
	}
}

// Sizes returns the committed key count per store.
func (r *Registry) Sizes() map[string]int {
	out := make(map[string]int, len(r.stores))
	for _, u := range r.stores {
		out[u.Name()] = u.Len()
	}
	return out
}

// Export serializes every store's committed state.
func (r *Registry) Export() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(r.stores))
	for _, u := range r.stores {
		data, err := u.Export()
		if err != nil {
			return nil, err
		}
		out[u.Name()] = data
	}
	return out, nil
}

// Import restores stores from an export. Stores absent from data start empty;
// unknown names in data are an error.
func (r *Registry) Import(data map[string]json.RawMessage) error {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		u, ok := r.byName[name]
		if !ok {
			return fmt.Errorf("import: unknown store %s", name)
		}
		if err := u.Import(data[name]); err != nil {
			return err
		}
	}
	return nil
}
