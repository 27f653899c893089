package tokenfeed

import (
	"sync"

	"github.com/bsv-blockchain/tokencache/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTokenFeedBatches   prometheus.Counter
	prometheusTokenFeedInvalid   prometheus.Counter
	prometheusTokenFeedPublished prometheus.Counter
	prometheusTokenFeedProcess   prometheus.Histogram
	prometheusTokenFeedBatchSize prometheus.Histogram

	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTokenFeedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "tokenfeed",
			Name:      "batches",
			Help:      "Number of feed batches applied to the cache",
		},
	)

	prometheusTokenFeedInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "tokenfeed",
			Name:      "invalid_batches",
			Help:      "Number of feed messages skipped because they could not be decoded",
		},
	)

	prometheusTokenFeedPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "tokenfeed",
			Name:      "published",
			Help:      "Number of feed batches published",
		},
	)

	prometheusTokenFeedProcess = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokencache",
			Subsystem: "tokenfeed",
			Name:      "process_duration_seconds",
			Help:      "Duration of decoding and applying a feed batch",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusTokenFeedBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokencache",
			Subsystem: "tokenfeed",
			Name:      "batch_size",
			Help:      "Number of produced and consumed records per feed batch",
			Buckets:   util.MetricsBucketsSize,
		},
	)
}
