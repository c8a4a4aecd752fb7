package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	// --- Core processing ---
	CoreActionsApplied  *prometheus.CounterVec
	CoreActionsRejected *prometheus.CounterVec
	CoreActionDuration  *prometheus.HistogramVec
	CoreSequence        prometheus.Gauge

	// --- Vault state ---
	VaultTvl           prometheus.Gauge
	VaultPositions     prometheus.Gauge
	NullifiersConsumed prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDropped   prometheus.Counter
	PersistBackpressure prometheus.Counter
	PublishDrops        prometheus.Counter

	// --- Persistence ---
	PersistActionsWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken      prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	SnapshotLastSeq    prometheus.Gauge
	ReplayActionsTotal prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ioBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		CoreActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_actions_applied_total",
			Help: "Actions successfully applied by core",
		}, []string{"action_type"}),

		CoreActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_actions_rejected_total",
			Help: "Actions rejected (dedup, gap, validation)",
		}, []string{"action_type", "reason"}),

		CoreActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_core_action_apply_duration_seconds",
			Help:    "Time to apply a single action in core",
			Buckets: latencyBuckets,
		}, []string{"action_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Current global action sequence",
		}),

		VaultTvl: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_shielded_tvl",
			Help: "Public net-of-fee TVL counter, base units",
		}),

		VaultPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_positions",
			Help: "Open confidential positions",
		}),

		NullifiersConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_nullifiers_consumed_total",
			Help: "Withdrawal nullifiers burned",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_projection_dropped_total",
			Help: "Outputs dropped on the projection channel (rebuildable)",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Venue signals dropped before publishing",
		}),

		PersistActionsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_actions_written_total",
			Help: "Actions written to the action log",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to persist one batch",
			Buckets: ioBuckets,
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Actions per persisted batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots persisted",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Time to create and persist a snapshot",
			Buckets: ioBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayActionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_actions_total",
			Help: "Actions replayed during recovery",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection table",
			Buckets: ioBuckets,
		}, []string{"projection"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint"}),
	}
}
