package main

import (
	"context"
	"errors"
	"time"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"
	"DexMetrics/internal/ingestion"
	"DexMetrics/internal/observability"

	"github.com/rs/zerolog"
)

// checkpointRequest asks the engine goroutine for an on-demand checkpoint.
type checkpointRequest struct {
	reply chan checkpointReply
}

type checkpointReply struct {
	unit uint64
	err  error
}

// runUnitLoop is the only goroutine that touches the engine after startup.
// A unit is acked once the engine has committed it and handed its output to
// persistence; out-of-order units are acked too since redelivery cannot fix
// them. Other failures are nak'd for redelivery.
func runUnitLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawUnit,
	cpReqs <-chan checkpointRequest,
	engine *core.Engine,
	cp *checkpointer,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-cpReqs:
			n, err := cp.take(ctx)
			req.reply <- checkpointReply{unit: n, err: err}

		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			if metrics != nil {
				metrics.SetChannelMetrics("units", len(rawChan), cap(rawChan))
			}

			u, err := ingestion.ParseUnit(raw.Data)
			if err != nil {
				// Redelivering a malformed payload cannot succeed.
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable unit dropped")
				raw.Ack()
				continue
			}

			if err := engine.ProcessUnit(ctx, u); err != nil {
				if errors.Is(err, core.ErrOutOfOrderUnit) {
					log.Warn().Err(err).Uint64("unit", u.Number).Msg("out-of-order unit dropped")
					raw.Ack()
					continue
				}
				log.Error().Err(err).Uint64("unit", u.Number).Msg("unit failed, requesting redelivery")
				raw.Nak()
				continue
			}
			raw.Ack()

			if metrics != nil && !raw.Received.IsZero() {
				metrics.IngestToApply.Observe(time.Since(raw.Received).Seconds())
			}
			if last, ok := engine.LastUnit(); ok {
				health.SetLastUnit(last)
			}
			cp.afterUnit(ctx)
		}
	}
}

// fanOutputs copies each projection output to the entity projection, the
// changeset publisher and the analytics sink. Every send drops on full; all
// three are rebuildable from the unit log. Closes its outputs on return.
func fanOutputs(
	in <-chan core.Output,
	projection chan<- core.Output,
	publish chan<- *changeset.Changeset,
	analytics chan<- core.Output,
	metrics *observability.Metrics,
) {
	defer func() {
		close(projection)
		if publish != nil {
			close(publish)
		}
		if analytics != nil {
			close(analytics)
		}
	}()

	drop := func(name string) {
		if metrics != nil {
			metrics.ProjectionDrops.WithLabelValues(name).Inc()
		}
	}

	for out := range in {
		select {
		case projection <- out:
		default:
			drop("entities")
		}

		if publish != nil && out.Changeset != nil {
			select {
			case publish <- out.Changeset:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
		}

		if analytics != nil && !out.Snapshots.Empty() {
			select {
			case analytics <- out:
			default:
				drop("clickhouse")
			}
		}
	}
}
