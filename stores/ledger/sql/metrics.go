package sql

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLedgerPage    prometheus.Counter
	prometheusLedgerInsert  prometheus.Counter
	prometheusLedgerConsume prometheus.Counter
	prometheusLedgerErrors  *prometheus.CounterVec

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLedgerPage = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "sql_ledger",
			Name:      "page",
			Help:      "Number of page queries done to the sql ledger",
		},
	)
	prometheusLedgerInsert = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "sql_ledger",
			Name:      "insert",
			Help:      "Number of token records inserted into the sql ledger",
		},
	)
	prometheusLedgerConsume = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "sql_ledger",
			Name:      "consume",
			Help:      "Number of token records consumed in the sql ledger",
		},
	)
	prometheusLedgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokencache",
			Subsystem: "sql_ledger",
			Name:      "errors",
			Help:      "Number of sql ledger errors",
		},
		[]string{
			"function", // function raising the error
		},
	)
}
