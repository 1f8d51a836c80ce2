package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageItems counts per-stage item outcomes.
	StageItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digestflow_stage_items_total",
			Help: "Total number of items processed per stage and result",
		},
		[]string{"stage", "result"},
	)

	// StageFailures counts classified failures by category.
	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digestflow_stage_failures_total",
			Help: "Total number of classified failures per stage and category",
		},
		[]string{"stage", "category"},
	)

	// RunDuration tracks end-to-end pipeline run latency.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digestflow_run_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// RunsTotal counts completed runs by terminal status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digestflow_runs_total",
			Help: "Total number of pipeline runs per terminal status",
		},
		[]string{"status"},
	)

	// Escalations counts operator notifications by severity.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digestflow_escalations_total",
			Help: "Total number of operator escalations per severity",
		},
		[]string{"severity"},
	)
)
