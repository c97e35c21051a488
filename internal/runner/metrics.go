package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipyard",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by terminal status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shipyard",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time from start to terminal state.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 9),
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shipyard",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Step wall time by step and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"step", "status"})
)
