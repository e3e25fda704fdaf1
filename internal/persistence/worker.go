package persistence

import (
	"context"
	"database/sql"
	"time"

	"DexMetrics/internal/core"
	"DexMetrics/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes the unit
// log. The engine sends on that channel with a blocking send, so a slow
// worker stalls the engine instead of losing units.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *UnitLogWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger

	// onFlushed is called with every committed batch.
	onFlushed func(units []UnitRow)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewUnitLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// OnFlushed registers a callback run after each committed batch.
func (pw *PersistenceWorker) OnFlushed(fn func(units []UnitRow)) {
	pw.onFlushed = fn
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]UnitRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(fctx, batch); err != nil {
			pw.log.Error().Err(err).Int("units", len(batch)).Msg("batch flush failed after retries")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			row, err := NewUnitRow(output)
			if err != nil {
				pw.log.Error().Err(err).Uint64("unit", output.UnitNumber).Msg("unit row conversion failed")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}
			batch = append(batch, row)

			if len(batch) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. Units are never dropped.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, units []UnitRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("units", len(units)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// Shutdown: one final attempt so the batch is not lost.
				return pw.flush(context.Background(), units)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, units)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, units []UnitRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteUnitBatch(ctx, tx, units); err != nil {
		pw.countError("write_units")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	last := units[len(units)-1].UnitNumber
	if pw.metrics != nil {
		rows := 0
		for _, u := range units {
			rows += u.RowCount
			pw.metrics.ChangesetBytes.Observe(float64(len(u.Changeset)))
		}
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(units)))
		pw.metrics.PersistChangesets.Add(float64(len(units)))
		pw.metrics.PersistRows.Add(float64(rows))
		pw.metrics.PersistLastUnit.Set(float64(last))
	}
	if pw.onFlushed != nil {
		pw.onFlushed(units)
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

// Writer returns the underlying unit log writer.
func (pw *PersistenceWorker) Writer() *UnitLogWriter {
	return pw.writer
}
