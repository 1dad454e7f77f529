package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aw_detection",
			Name:      "messages_received_total",
			Help:      "Kafka messages pulled by the worker",
		},
		[]string{"topic"},
	)

	VerdictsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aw_detection",
			Name:      "verdicts_total",
			Help:      "Verdicts published by status (clean or suspect)",
		},
		[]string{"topic", "status"},
	)

	EvaluationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aw_detection",
			Name:      "failed_total",
			Help:      "Failed evaluations by reason",
		},
		[]string{"topic", "reason"},
	)

	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aw_detection",
			Name:      "dlq_total",
			Help:      "Events sent to DLQ by reason",
		},
		[]string{"topic", "reason"},
	)

	EvaluationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aw_detection",
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end evaluation latency per message",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	InflightEvaluations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aw_detection",
			Name:      "inflight_evaluations",
			Help:      "Number of events currently being evaluated (semaphore depth)",
		},
	)
)
