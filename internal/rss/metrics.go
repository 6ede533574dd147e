package rss

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_submissions_total",
		Help: "Feed submissions by outcome",
	}, []string{"outcome"})

	refreshCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_refresh_cycles_total",
		Help: "Completed refresh cycles",
	})

	refreshFeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_refresh_feed_errors_total",
		Help: "Per-feed refresh failures by kind",
	}, []string{"kind"})

	refreshItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_refresh_items_added_total",
		Help: "Items appended by the refresh loop",
	})

	refreshCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedwatch_refresh_cycle_duration_seconds",
		Help:    "Wall time of one refresh cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
