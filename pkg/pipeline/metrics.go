package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_pipeline_runs_total",
			Help: "Finished pipeline runs by document format and outcome",
		},
		[]string{"format", "outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctrans_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"stage", "format"},
	)

	rebuildFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctrans_rebuild_fallbacks_total",
			Help: "Rebuilds that fell back to a plain-text artifact",
		},
		[]string{"format"},
	)

	formulasPreserved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctrans_formulas_per_document",
			Help:    "Formula placeholders inserted per extracted document",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		},
	)

	unrestoredPlaceholdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doctrans_unrestored_placeholders_total",
			Help: "Formula placeholders missing from translated text",
		},
	)
)
