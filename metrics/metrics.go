// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts executions accepted for dispatch, by final
	// status. Timed-out and rejected requests count under "error".
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pyrite",
		Name:      "executions_total",
		Help:      "Code executions by final status.",
	}, []string{"status"})

	// WorkersReady tracks how many pool workers are currently ready.
	WorkersReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pyrite",
		Name:      "workers_ready",
		Help:      "Number of interpreter workers reporting ready.",
	})

	// ExecutionSeconds observes wall-clock execution time as measured by
	// the execution serializer.
	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pyrite",
		Name:      "execution_seconds",
		Help:      "Execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
