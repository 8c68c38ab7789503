package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes
const (
	OutcomeAccepted    = "accepted"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	// SubmissionsTotal tracks score submissions by outcome and source
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_submissions_total",
		Help: "Total number of score submissions processed",
	}, []string{"source", "outcome"})

	// OnlinePlayers tracks the last computed online count
	OnlinePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_online_players",
		Help: "Number of players seen within the presence window",
	})

	// ReapedEntries tracks entries evicted by the background reaper
	ReapedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_reaped_entries_total",
		Help: "Total number of stale tracker entries evicted",
	}, []string{"tracker"})

	// StorageDuration tracks store call latency by operation
	StorageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leaderboard_storage_duration_seconds",
		Help:    "Histogram of leaderboard storage call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// LiveConnections tracks connected websocket clients
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_live_connections",
		Help: "Number of connected live feed websocket clients",
	})
)
