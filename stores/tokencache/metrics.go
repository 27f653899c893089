package tokencache

import (
	"sync"

	"github.com/bsv-blockchain/tokencache/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTokenCacheSelect          *prometheus.CounterVec
	prometheusTokenCacheSelectDuration  prometheus.Histogram
	prometheusTokenCacheLocked          prometheus.Counter
	prometheusTokenCacheUnlocked        prometheus.Counter
	prometheusTokenCacheExpiries        prometheus.Counter
	prometheusTokenCacheExpiryReleased  prometheus.Counter
	prometheusTokenCacheFeedProduced    prometheus.Counter
	prometheusTokenCacheFeedConsumed    prometheus.Counter
	prometheusTokenCacheFeedBuffered    prometheus.Counter
	prometheusTokenCacheDuplicates      *prometheus.CounterVec
	prometheusTokenCacheLoaderPages     prometheus.Counter
	prometheusTokenCacheLoaderResyncs   prometheus.Counter
	prometheusTokenCacheLoaderRestarts  prometheus.Counter
	prometheusTokenCacheRecords         prometheus.Gauge
	prometheusTokenCacheLoaderCompleted prometheus.Gauge

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTokenCacheSelect = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "select",
			Help:      "Number of selections by outcome",
		},
		[]string{"outcome"},
	)

	prometheusTokenCacheSelectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "select_duration_seconds",
			Help:      "Duration of selections",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusTokenCacheLocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "locked",
			Help:      "Number of records locked by selections and external locks",
		},
	)

	prometheusTokenCacheUnlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "unlocked",
			Help:      "Number of records explicitly unlocked",
		},
	)

	prometheusTokenCacheExpiries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "expiries",
			Help:      "Number of auto unlock tasks fired",
		},
	)

	prometheusTokenCacheExpiryReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "expiry_released",
			Help:      "Number of records released by auto unlock tasks",
		},
	)

	prometheusTokenCacheFeedProduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "feed",
			Name:      "produced",
			Help:      "Number of produced records applied",
		},
	)

	prometheusTokenCacheFeedConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "feed",
			Name:      "consumed",
			Help:      "Number of consumed records applied",
		},
	)

	prometheusTokenCacheFeedBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "feed",
			Name:      "buffered",
			Help:      "Number of consumes buffered while the loader was running",
		},
	)

	prometheusTokenCacheDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "feed",
			Name:      "duplicates",
			Help:      "Number of produced records that were already cached",
		},
		[]string{"source"},
	)

	prometheusTokenCacheLoaderPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "loader",
			Name:      "pages",
			Help:      "Number of ledger pages read by the loader",
		},
	)

	prometheusTokenCacheLoaderResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "loader",
			Name:      "resyncs",
			Help:      "Number of resync pages requested by the loader",
		},
	)

	prometheusTokenCacheLoaderRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "loader",
			Name:      "restarts",
			Help:      "Number of times the loader restarted from offset zero",
		},
	)

	prometheusTokenCacheRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokencache",
			Subsystem: "cache",
			Name:      "records",
			Help:      "Number of cached records",
		},
	)

	prometheusTokenCacheLoaderCompleted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokencache",
			Subsystem: "loader",
			Name:      "completed",
			Help:      "1 once the loader has finished its scan",
		},
	)
}
