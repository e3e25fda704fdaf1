package store

// Operation is the kind of change a delta records.
type Operation uint8

const (
	OpUnknown Operation = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Delta records one key's change during a processing unit.
// OldValue is the zero value for OpCreate, NewValue for OpDelete.
type Delta[V any] struct {
	Key       Key
	Ordinal   uint64
	Operation Operation
	OldValue  V
	NewValue  V
}

// FilterFamily returns the deltas whose key belongs to one of families,
// preserving order.
func FilterFamily[V any](deltas []Delta[V], families ...Family) []Delta[V] {
	out := make([]Delta[V], 0, len(deltas))
	for _, d := range deltas {
		for _, f := range families {
			if d.Key.Family == f {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
