package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for both pipeline directions. Labels stay low-cardinality:
// direction is input/output, category is the closed threat taxonomy.
var (
	RequestsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulwark",
		Name:      "requests_analyzed_total",
		Help:      "Analysis requests processed, by direction.",
	}, []string{"direction"})

	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulwark",
		Name:      "threats_detected_total",
		Help:      "Findings produced, by direction and category.",
	}, []string{"direction", "category"})

	RequestsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulwark",
		Name:      "requests_blocked_total",
		Help:      "Verdicts that blocked, by direction and reason.",
	}, []string{"direction", "reason"})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulwark",
		Name:      "escalations_total",
		Help:      "Escalations to the model-assisted stage, by outcome (ran, fallback, dropped).",
	}, []string{"outcome"})

	PIIDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulwark",
		Name:      "pii_detections_total",
		Help:      "PII matches, by direction and category.",
	}, []string{"direction", "category"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bulwark",
		Name:      "stage_latency_seconds",
		Help:      "Per-stage processing latency.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
	}, []string{"direction", "stage"})

	ModelCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bulwark",
		Name:      "model_call_latency_seconds",
		Help:      "External model call latency for escalated requests.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)
