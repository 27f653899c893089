package kafka

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusKafkaConsumed   *prometheus.CounterVec
	prometheusKafkaErrors     *prometheus.CounterVec
	prometheusKafkaSkipped    *prometheus.CounterVec
	prometheusKafkaProcessing *prometheus.HistogramVec
	prometheusKafkaProduced   *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusKafkaConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "kafka",
			Name:      "consumed",
			Help:      "Number of kafka messages processed successfully",
		},
		[]string{"topic"},
	)

	prometheusKafkaErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "kafka",
			Name:      "errors",
			Help:      "Number of kafka consumer errors",
		},
		[]string{"topic"},
	)

	prometheusKafkaSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "kafka",
			Name:      "skipped",
			Help:      "Number of kafka messages skipped after processing failed",
		},
		[]string{"topic"},
	)

	prometheusKafkaProcessing = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokencache",
			Subsystem: "kafka",
			Name:      "processing_seconds",
			Help:      "Time taken to process a kafka message",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"topic"},
	)

	prometheusKafkaProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "kafka",
			Name:      "produced",
			Help:      "Number of kafka messages produced",
		},
		[]string{"topic"},
	)
}
