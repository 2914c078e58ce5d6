package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the ingestion pipeline.
type PipelineMetrics struct {
	FetchUnitsTotal    *prometheus.CounterVec
	DataQualityDefects *prometheus.CounterVec
	CycleDuration      prometheus.Histogram

	PublishedTotal       *prometheus.CounterVec
	PublishBufferedTotal prometheus.Counter
	PublishDroppedTotal  prometheus.Counter
	PublishBufferSize    prometheus.Gauge

	EventsProcessedTotal *prometheus.CounterVec
	SinkWritesTotal      *prometheus.CounterVec
	SinkRetriesTotal     *prometheus.CounterVec
	DedupHitsTotal       prometheus.Counter
	DeadLettersTotal     *prometheus.CounterVec
}

// NewPipelineMetrics initializes the metric set against reg. Binaries pass
// prometheus.DefaultRegisterer; tests pass a private registry so repeated
// constructions do not collide.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		FetchUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "collect",
			Name:      "fetch_units_total",
			Help:      "Fetch units per source by outcome.",
		}, []string{"source", "status"}), // status: ok, failed, deferred
		DataQualityDefects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "collect",
			Name:      "data_quality_defects_total",
			Help:      "Payload items rejected during normalization, by reason.",
		}, []string{"source", "reason"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "market_ingestor",
			Subsystem: "collect",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one ingestion cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "publish",
			Name:      "events_total",
			Help:      "Events acknowledged by the broker, per topic.",
		}, []string{"topic"}),
		PublishBufferedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "publish",
			Name:      "buffered_total",
			Help:      "Events parked in the local buffer while the broker was unreachable.",
		}),
		PublishDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "publish",
			Name:      "dropped_total",
			Help:      "Oldest buffered events evicted because the buffer was full.",
		}),
		PublishBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "market_ingestor",
			Subsystem: "publish",
			Name:      "buffer_size",
			Help:      "Events currently waiting in the local buffer.",
		}),
		EventsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "consume",
			Name:      "events_processed_total",
			Help:      "Records processed by consumer workers, by result.",
		}, []string{"result"}), // result: written, duplicate, deadlettered
		SinkWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "consume",
			Name:      "sink_writes_total",
			Help:      "Sink write attempts by sink and result.",
		}, []string{"sink", "result"}),
		SinkRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "consume",
			Name:      "sink_retries_total",
			Help:      "In-place retry rounds triggered by a failing sink.",
		}, []string{"sink"}),
		DedupHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "consume",
			Name:      "dedup_hits_total",
			Help:      "Records skipped because their event id was already processed.",
		}),
		DeadLettersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_ingestor",
			Subsystem: "consume",
			Name:      "dead_letters_total",
			Help:      "Records routed to the dead-letter channel, by reason.",
		}, []string{"reason"}),
	}
}
