package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the auction engine.
type Metrics struct {
	// --- Lifecycle ---
	AuctionsOpened    *prometheus.CounterVec
	AuctionsCancelled *prometheus.CounterVec
	Buys              *prometheus.CounterVec
	OpRejected        *prometheus.CounterVec
	OpDuration        *prometheus.HistogramVec
	OpenAuctions      prometheus.Gauge

	// --- Exposure limiter ---
	// ExposureSum reports the wad sum as a float64; an operational
	// approximation, the limiter's integer state is authoritative.
	ExposureSum *prometheus.GaugeVec

	// --- Event log / publishing ---
	EventSequence prometheus.Gauge
	PublishDrops  prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		AuctionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_auctions_opened_total",
			Help: "Auctions opened",
		}, []string{"collateral", "base"}),

		AuctionsCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_auctions_cancelled_total",
			Help: "Auctions cancelled after collateralization recovered",
		}, []string{"collateral", "base"}),

		Buys: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_buys_total",
			Help: "Settlements, partial or full",
		}, []string{"collateral", "base", "kind"}),

		OpRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_op_rejected_total",
			Help: "Rejected operations by reason",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "witch_op_duration_seconds",
			Help:    "End-to-end engine operation latency",
			Buckets: opBuckets,
		}, []string{"op"}),

		OpenAuctions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "witch_open_auctions",
			Help: "Auctions currently open",
		}),

		ExposureSum: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "witch_exposure_sum",
			Help: "Collateral currently under auction per key (wad, approximate)",
		}, []string{"collateral", "base"}),

		EventSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "witch_event_sequence",
			Help: "Last assigned event sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "witch_publish_drops_total",
			Help: "Events dropped from the outbound publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "witch_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "witch_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "witch_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "witch_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "witch_snapshot_taken_total",
			Help: "Engine state snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "witch_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "witch_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "witch_http_requests_total",
			Help: "API requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "witch_http_duration_seconds",
			Help:    "API request latency",
			Buckets: opBuckets,
		}, []string{"route"}),
	}
}
