package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_runs_total",
			Help: "Total orchestrated runs",
		},
	)

	metricsByOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_metrics_total",
			Help: "Metrics attempted per run, by outcome",
		},
		[]string{"outcome"}, // processed, skipped, failed
	)

	anomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_anomalies_total",
			Help: "Anomalies detected, by severity",
		},
		[]string{"severity"},
	)

	fetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_source_fetch_seconds",
			Help:    "Time-series store fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)
