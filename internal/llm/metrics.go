package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capforge",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM calls by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "capforge",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "LLM call latency.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"provider", "model"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capforge",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens consumed by provider, model and kind (prompt|completion).",
	}, []string{"provider", "model", "kind"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "capforge",
		Subsystem: "llm",
		Name:      "circuit_state",
		Help:      "Provider circuit breaker state (0 closed, 1 open, 2 half-open).",
	})
)
