package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sweeps_total",
		Help: "Number of worker sweeps, including ones with no due events.",
	})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_total",
		Help: "Processed outbox events by kind and outcome.",
	}, []string{"kind", "outcome"})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_sweep_duration_seconds",
		Help:    "Wall time of one worker sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)
