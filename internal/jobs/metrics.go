package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capforge",
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Job submissions by result (accepted or rejected).",
	}, []string{"result"})

	finishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capforge",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Finished jobs by terminal status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "capforge",
		Subsystem: "jobs",
		Name:      "run_duration_seconds",
		Help:      "Wall time from dequeue to terminal state.",
		Buckets:   []float64{1, 5, 10, 20, 40, 80, 160, 320},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "capforge",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker.",
	})

	storedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "capforge",
		Subsystem: "jobs",
		Name:      "stored",
		Help:      "Jobs held by the in-memory store.",
	})
)
