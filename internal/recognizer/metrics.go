package recognizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var extractionFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "detscan_ocr_failures_total",
		Help: "Total number of regions whose text extraction failed and yielded empty text",
	},
	[]string{"reason"}, // error, panic
)
