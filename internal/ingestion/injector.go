package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyUnit is returned for an injected unit with no payload.
var ErrEmptyUnit = errors.New("empty unit payload")

// UnitInjector queues manually submitted units on the same channel the
// NATS subscriber feeds. It is an admin path, not a throughput path.
type UnitInjector struct {
	unitChan chan<- RawUnit
}

func NewUnitInjector(unitChan chan<- RawUnit) *UnitInjector {
	return &UnitInjector{unitChan: unitChan}
}

// Inject validates the payload and queues it. The unit is decoded here so
// malformed submissions fail at the caller instead of in the main loop.
func (s *UnitInjector) Inject(ctx context.Context, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyUnit
	}
	u, err := ParseUnit(data)
	if err != nil {
		return 0, fmt.Errorf("inject: %w", err)
	}

	raw := RawUnit{
		Subject:  "admin.inject",
		Data:     data,
		Received: time.Now(),
	}

	select {
	case s.unitChan <- raw:
		return u.Number, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
