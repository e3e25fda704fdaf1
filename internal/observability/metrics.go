package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	// Unit processing
	UnitsApplied   prometheus.Counter
	UnitsRejected  *prometheus.CounterVec
	UnitDuration   prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	EventsApplied  *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	LastUnit       prometheus.Gauge
	StateHashDur   prometheus.Histogram
	StoreKeys      *prometheus.GaugeVec
	ChangesetRows  *prometheus.CounterVec
	ChangesetBytes prometheus.Histogram

	// Timeframes
	BucketsClosed         *prometheus.CounterVec
	SnapshotsMaterialized *prometheus.CounterVec
	BucketsPruned         *prometheus.CounterVec

	// Latency
	IngestToApply prometheus.Histogram

	// Channels
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// Dedup and ordering
	UnitDuplicates *prometheus.CounterVec
	DedupLRUSize   prometheus.Gauge
	UnitOutOfOrder prometheus.Counter
	UnitGaps       prometheus.Counter

	// Persistence
	PersistChangesets   prometheus.Counter
	PersistRows         prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastUnit     prometheus.Gauge
	ProjectionUpdateDur *prometheus.HistogramVec

	// Checkpoints
	CheckpointTaken     prometheus.Counter
	CheckpointDuration  prometheus.Histogram
	CheckpointSizeBytes prometheus.Gauge
	CheckpointLastUnit  prometheus.Gauge
	ReplayUnitsTotal    prometheus.Counter

	// Sinks
	SinkWrites *prometheus.CounterVec
	SinkErrors *prometheus.CounterVec

	// Query
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5,
	}

	ingestBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1,
	}

	return &Metrics{
		UnitsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_units_applied_total",
			Help: "Processing units committed",
		}),

		UnitsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_units_rejected_total",
			Help: "Processing units rejected (duplicate, out_of_order, error)",
		}, []string{"reason"}),

		UnitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_unit_apply_duration_seconds",
			Help:    "Time to apply one processing unit",
			Buckets: latencyBuckets,
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_stage_duration_seconds",
			Help:    "Time spent in one stage for one unit",
			Buckets: latencyBuckets,
		}, []string{"stage"}),

		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_events_applied_total",
			Help: "Events applied, by kind",
		}, []string{"kind"}),

		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_events_skipped_total",
			Help: "Events a stage skipped",
		}, []string{"stage", "reason"}),

		LastUnit: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_last_unit_number",
			Help: "Number of the last committed unit",
		}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_state_hash_duration_seconds",
			Help:    "Time to compute the chained state hash",
			Buckets: latencyBuckets,
		}),

		StoreKeys: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_store_keys",
			Help: "Live keys per store",
		}, []string{"store"}),

		ChangesetRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_changeset_rows_total",
			Help: "Changeset rows emitted, by entity",
		}, []string{"entity"}),

		ChangesetBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_changeset_bytes",
			Help:    "Encoded changeset size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),

		BucketsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_buckets_closed_total",
			Help: "Timeframe buckets closed",
		}, []string{"granularity"}),

		SnapshotsMaterialized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_snapshots_materialized_total",
			Help: "Snapshot rows materialized",
		}, []string{"granularity", "kind"}),

		BucketsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_buckets_pruned_total",
			Help: "Bucket prune attempts (pruned, noop)",
		}, []string{"granularity", "result"}),

		IngestToApply: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_ingest_to_apply_seconds",
			Help:    "NATS receive to unit commit",
			Buckets: ingestBuckets,
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_size",
			Help: "Current channel length",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_utilization",
			Help: "Channel length over capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_projection_drops_total",
			Help: "Changesets dropped on a full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_drops_total",
			Help: "Changesets dropped on a full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		UnitDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_unit_duplicates_total",
			Help: "Duplicate units, by dedup tier",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_dedup_lru_size",
			Help: "Entries in the unit dedup LRU",
		}),

		UnitOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_unit_out_of_order_total",
			Help: "Units rejected for arriving behind the last committed unit",
		}),

		UnitGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_unit_gaps_total",
			Help: "Gaps observed between consecutive unit numbers",
		}),

		PersistChangesets: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_changesets_total",
			Help: "Changesets written to Postgres",
		}),

		PersistRows: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_rows_total",
			Help: "Changeset rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_size",
			Help:    "Changesets per persist batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_duration_seconds",
			Help:    "Persist batch commit latency",
			Buckets: ingestBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_persist_errors_total",
			Help: "Persist errors",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_retry_total",
			Help: "Persist batch retries",
		}),

		PersistLastUnit: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_persist_last_unit_number",
			Help: "Last unit whose changeset was persisted",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_projection_update_duration_seconds",
			Help:    "Projection update latency",
			Buckets: ingestBuckets,
		}, []string{"projection"}),

		CheckpointTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_checkpoints_total",
			Help: "Store checkpoints written",
		}),

		CheckpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_checkpoint_duration_seconds",
			Help:    "Checkpoint write latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),

		CheckpointSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_checkpoint_size_bytes",
			Help: "Size of the last checkpoint",
		}),

		CheckpointLastUnit: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_checkpoint_last_unit_number",
			Help: "Unit number of the last checkpoint",
		}),

		ReplayUnitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_replay_units_total",
			Help: "Units replayed during recovery",
		}),

		SinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_sink_writes_total",
			Help: "Rows written to a downstream sink",
		}, []string{"sink"}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_sink_errors_total",
			Help: "Downstream sink write errors",
		}, []string{"sink"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetStoreSizes publishes the live key count of every store.
func (m *Metrics) SetStoreSizes(sizes map[string]int) {
	for name, n := range sizes {
		m.StoreKeys.WithLabelValues(name).Set(float64(n))
	}
}
