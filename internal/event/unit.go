package event

import (
	"fmt"
	"sort"
	"strconv"
)

// Unit is one processing unit: the events of one block, applied to every
// store all-or-nothing.
type Unit struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  int64 // unix seconds
	Events     []Event
	// Raw is the wire payload the unit was decoded from, kept for the unit log.
	Raw []byte
}

// Key is the dedupe key of the unit.
func (u *Unit) Key() string {
	return strconv.FormatUint(u.Number, 10) + ":" + u.Hash
}

// Normalize sorts events by ordinal and rejects duplicate ordinals.
func (u *Unit) Normalize() error {
	sort.SliceStable(u.Events, func(i, j int) bool {
		return u.Events[i].Ordinal() < u.Events[j].Ordinal()
	})
	for i := 1; i < len(u.Events); i++ {
		if u.Events[i].Ordinal() == u.Events[i-1].Ordinal() {
			return fmt.Errorf("unit %d: duplicate ordinal %d", u.Number, u.Events[i].Ordinal())
		}
	}
	return nil
}

// TimeAt returns the timestamp of the event at ordinal, or the unit's own
// timestamp when no event carries it. Events must be normalized.
func (u *Unit) TimeAt(ordinal uint64) int64 {
	i := sort.Search(len(u.Events), func(i int) bool { return u.Events[i].Ordinal() >= ordinal })
	if i < len(u.Events) && u.Events[i].Ordinal() == ordinal {
		if ts := u.Events[i].Time(); ts != 0 {
			return ts
		}
	}
	return u.Timestamp
}

// CountByKind returns the number of events per kind.
func (u *Unit) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, e := range u.Events {
		out[e.Kind()]++
	}
	return out
}
