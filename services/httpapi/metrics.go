package httpapi

import (
	"sync"

	"github.com/bsv-blockchain/tokencache/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusHTTPRequests *prometheus.CounterVec
	prometheusHTTPDuration *prometheus.HistogramVec

	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "http",
			Name:      "requests",
			Help:      "Number of API requests by function and status",
		},
		[]string{"function", "status"},
	)

	prometheusHTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokencache",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests by function",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
		[]string{"function"},
	)
}
