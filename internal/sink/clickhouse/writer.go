package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"
	"DexMetrics/internal/observability"
	"DexMetrics/internal/snapshot"
	"DexMetrics/internal/timeframe"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
)

// SnapshotRow is one snapshot flattened for the analytics table. Decimal
// columns are sent as strings.
type SnapshotRow struct {
	Entity      string
	ID          string
	Pool        string
	Granularity string
	Bucket      int64
	BucketTime  time.Time
	BlockNumber uint64
	UnitNumber  uint64
	TVLUSD      string
	VolumeUSD   string
	Fields      string // full snapshot as JSON
}

const createTable = `
	CREATE TABLE IF NOT EXISTS dex_snapshots (
		entity       LowCardinality(String),
		id           String,
		pool         String,
		granularity  LowCardinality(String),
		bucket       Int64,
		bucket_time  DateTime,
		block_number UInt64,
		unit_number  UInt64,
		tvl_usd      Decimal(38, 18),
		volume_usd   Decimal(38, 18),
		fields       String
	) ENGINE = ReplacingMergeTree(unit_number)
	ORDER BY (entity, granularity, id)
`

const insertRows = `
	INSERT INTO dex_snapshots (
		entity, id, pool, granularity, bucket, bucket_time,
		block_number, unit_number, tvl_usd, volume_usd, fields
	)
`

// Config controls batching. Zero values take defaults.
type Config struct {
	BatchMaxRows     int
	BatchMaxInterval time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

// SnapshotWriter copies every materialized snapshot into ClickHouse.
// ReplacingMergeTree on unit_number makes replayed inserts collapse.
type SnapshotWriter struct {
	insert    func(ctx context.Context, rows []SnapshotRow) error
	inputChan <-chan core.Output
	cfg       Config
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// NewSnapshotWriter writes through conn.
func NewSnapshotWriter(conn ch.Conn, inputChan <-chan core.Output, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *SnapshotWriter {
	w := newWriter(inputChan, cfg, metrics, log)
	w.insert = func(ctx context.Context, rows []SnapshotRow) error {
		return insertBatch(ctx, conn, rows)
	}
	return w
}

func newWriter(inputChan <-chan core.Output, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *SnapshotWriter {
	if cfg.BatchMaxRows <= 0 {
		cfg.BatchMaxRows = 1000
	}
	if cfg.BatchMaxInterval <= 0 {
		cfg.BatchMaxInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &SnapshotWriter{inputChan: inputChan, cfg: cfg, metrics: metrics, log: log}
}

// Connect parses dsn, opens a native connection and pings it.
func Connect(ctx context.Context, dsn string) (ch.Conn, error) {
	opts, err := ch.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Compression == nil {
		opts.Compression = &ch.Compression{Method: ch.CompressionLZ4}
	}
	opts.ClientInfo = ch.ClientInfo{
		Products: []struct{ Name, Version string }{
			{Name: "dexmetrics", Version: "0.1.0"},
		},
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// EnsureSchema creates the snapshot table.
func EnsureSchema(ctx context.Context, conn ch.Conn) error {
	return conn.Exec(ctx, createTable)
}

// Run drains the channel until ctx is cancelled or it closes, flushing on
// size or interval.
func (w *SnapshotWriter) Run(ctx context.Context) error {
	batch := make([]SnapshotRow, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.insertWithRetry(fctx, batch); err != nil {
			w.log.Error().Err(err).Int("rows", len(batch)).Msg("clickhouse insert failed")
			if w.metrics != nil {
				w.metrics.SinkErrors.WithLabelValues("clickhouse").Inc()
			}
		} else if w.metrics != nil {
			w.metrics.SinkWrites.WithLabelValues("clickhouse").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}
			rows, err := Rows(out.UnitNumber, out.Snapshots)
			if err != nil {
				w.log.Error().Err(err).Uint64("unit", out.UnitNumber).Msg("snapshot flatten failed")
				continue
			}
			batch = append(batch, rows...)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (w *SnapshotWriter) insertWithRetry(ctx context.Context, rows []SnapshotRow) error {
	backoff := w.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = w.insert(ctx, rows); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func insertBatch(ctx context.Context, conn ch.Conn, rows []SnapshotRow) error {
	batch, err := conn.PrepareBatch(ctx, insertRows)
	if err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		if err := batch.Append(
			r.Entity, r.ID, r.Pool, r.Granularity, r.Bucket, r.BucketTime,
			r.BlockNumber, r.UnitNumber, r.TVLUSD, r.VolumeUSD, r.Fields,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

// Rows flattens a unit's snapshot batch.
func Rows(unit uint64, b snapshot.Batch) ([]SnapshotRow, error) {
	rows := make([]SnapshotRow, 0, b.Len())
	for _, s := range b.Pools {
		entity := changeset.EntityPoolDailySnapshot
		if s.Granularity == timeframe.Hourly {
			entity = changeset.EntityPoolHourlySnapshot
		}
		r, err := row(entity, s.ID, s.Granularity.String(), s.Bucket, s.Timestamp, s.BlockNumber, unit, s)
		if err != nil {
			return nil, err
		}
		r.Pool = s.Pool
		r.TVLUSD = s.TVLUSD.String()
		r.VolumeUSD = s.VolumeUSD.String()
		rows = append(rows, r)
	}
	for _, s := range b.Financials {
		r, err := row(changeset.EntityFinancialsSnapshot, s.ID, s.Granularity.String(), s.Bucket, s.Timestamp, s.BlockNumber, unit, s)
		if err != nil {
			return nil, err
		}
		r.TVLUSD = s.TVLUSD.String()
		r.VolumeUSD = s.VolumeUSD.String()
		rows = append(rows, r)
	}
	for _, s := range b.Usage {
		r, err := row(changeset.EntityUsageMetricsSnapshot, s.ID, s.Granularity.String(), s.Bucket, s.Timestamp, s.BlockNumber, unit, s)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func row(entity changeset.Entity, id, gran string, bucket, ts int64, block, unit uint64, v any) (SnapshotRow, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return SnapshotRow{}, fmt.Errorf("%s %s: %w", entity, id, err)
	}
	return SnapshotRow{
		Entity:      string(entity),
		ID:          id,
		Granularity: gran,
		Bucket:      bucket,
		BucketTime:  time.Unix(ts, 0).UTC(),
		BlockNumber: block,
		UnitNumber:  unit,
		TVLUSD:      "0",
		VolumeUSD:   "0",
		Fields:      string(data),
	}, nil
}
