package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "capforge",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Duration of pipeline steps.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"step"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capforge",
		Subsystem: "pipeline",
		Name:      "outcomes_total",
		Help:      "Pipeline runs by terminal outcome.",
	}, []string{"outcome"})

	iterationsHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "capforge",
		Subsystem: "pipeline",
		Name:      "codegen_iterations",
		Help:      "Codegen attempts per run that reached review.",
		Buckets:   []float64{1, 2, 3},
	})
)
