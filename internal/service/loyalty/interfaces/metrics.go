package interfaces

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchasesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_purchases_processed_total",
		Help: "Purchase events consumed from the queue, by final result.",
	}, []string{"result"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loyalty_pipeline_duration_seconds",
		Help:    "End-to-end duration of a single rewards pipeline run.",
		Buckets: prometheus.DefBuckets,
	})

	pipelineAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_pipeline_attempts_total",
		Help: "Individual pipeline attempts, including retries.",
	})

	cashbackRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_cashback_retries_total",
		Help: "Scheduled cashback retry attempts, by result.",
	}, []string{"result"})
)
