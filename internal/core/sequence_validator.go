package core

import (
	"errors"
	"fmt"
)

// ErrOutOfOrderUnit is returned for a new unit that does not advance the
// unit number.
var ErrOutOfOrderUnit = errors.New("out-of-order unit")

// SequenceValidator enforces strictly increasing unit numbers. Gaps are
// allowed: a filtered stream skips blocks without events.
// Not thread-safe; only accessed from the engine goroutine.
type SequenceValidator struct {
	last    uint64
	started bool
	metrics *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		metrics: NewSequenceMetrics(),
	}
}

// ValidateUnit checks a unit number against the last committed one.
// A stale number is accepted only for a known duplicate.
func (sv *SequenceValidator) ValidateUnit(number uint64, isDuplicate bool) error {
	if !sv.started {
		return nil
	}

	if number <= sv.last {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder()
		return fmt.Errorf("%w: last=%d, got=%d", ErrOutOfOrderUnit, sv.last, number)
	}

	if number > sv.last+1 {
		sv.metrics.RecordGap(number - sv.last - 1)
	}
	return nil
}

// Advance records number as committed.
func (sv *SequenceValidator) Advance(number uint64) {
	sv.last = number
	sv.started = true
}

// Last returns the last committed unit number.
func (sv *SequenceValidator) Last() (uint64, bool) {
	return sv.last, sv.started
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
type SequenceMetrics struct {
	gaps        int64
	skippedUnit uint64
	outOfOrder  int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{}
}

func (m *SequenceMetrics) RecordGap(skipped uint64) {
	m.gaps++
	m.skippedUnit += skipped
}

func (m *SequenceMetrics) RecordOutOfOrder() {
	m.outOfOrder++
}

func (m *SequenceMetrics) GetGaps() int64 {
	return m.gaps
}

func (m *SequenceMetrics) GetOutOfOrder() int64 {
	return m.outOfOrder
}
