package main

import (
	"bytes"
	"context"
	"fmt"

	"DexMetrics/internal/core"
	"DexMetrics/internal/ingestion"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 500

// replayUnitLog re-applies every logged unit from onward and checks that
// the recomputed state hash matches the logged one at each unit.
func replayUnitLog(
	ctx context.Context,
	writer *persistence.UnitLogWriter,
	engine *core.Engine,
	from uint64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (int, error) {
	replayed := 0
	for {
		units, err := writer.LoadUnitsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load units from %d: %w", from, err)
		}
		if len(units) == 0 {
			return replayed, nil
		}

		for _, row := range units {
			u, err := ingestion.ParseUnit(row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode logged unit %d: %w", row.UnitNumber, err)
			}
			if err := engine.ReplayUnit(ctx, u); err != nil {
				return replayed, fmt.Errorf("replay unit %d: %w", row.UnitNumber, err)
			}
			got := engine.GetStateHash()
			if !bytes.Equal(got[:], row.StateHash) {
				return replayed, fmt.Errorf("state hash mismatch at unit %d: logged %x, replayed %x",
					row.UnitNumber, row.StateHash, got)
			}
			replayed++
			if metrics != nil {
				metrics.ReplayUnitsTotal.Inc()
			}
		}

		from = units[len(units)-1].UnitNumber + 1
		log.Debug().Int("replayed", replayed).Uint64("next", from).Msg("replay progress")
	}
}
