package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detscan_runs_total",
			Help: "Total number of analysis runs by final stage",
		},
		[]string{"status"}, // complete, aborted
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detscan_run_duration_seconds",
			Help:    "Duration of completed analysis runs in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	detectionsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detscan_detections_per_run",
			Help:    "Number of detections recorded per completed run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)
)
