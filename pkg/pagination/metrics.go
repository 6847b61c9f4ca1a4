package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for galleryPageLoadsTotal.
const (
	outcomeSuccess     = "success"
	outcomeFetchError  = "fetch_error"
	outcomeDecodeError = "decode_error"
	outcomeInvalid     = "invalid"
	outcomeCancelled   = "cancelled"
)

var (
	galleryPageLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_page_loads_total",
		Help: "Total gallery page loads by outcome",
	}, []string{"outcome"})

	galleryPageLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_page_load_duration_seconds",
		Help:    "Gallery page load duration in seconds (fetch + decode)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	galleryPageItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_page_items",
		Help:    "Number of items in successfully loaded gallery pages",
		Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
	})

	galleryDecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_decode_duration_seconds",
		Help:    "Duration of a single gallery item decode in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)
