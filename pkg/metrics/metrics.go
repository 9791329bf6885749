package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry through promauto.

var (
	// CacheLookups counts hierarchy cache lookups by outcome (hit, miss, mismatch, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_cache_lookups_total",
			Help: "Hierarchy cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// HierarchyBuildDuration measures full hierarchy construction, including
	// influence maps and transition neighbours.
	HierarchyBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scalenav_hierarchy_build_duration_seconds",
			Help:    "Duration of hierarchy construction in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	// UpdatesTotal counts finished scale updates by result (success, failure).
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_updates_total",
			Help: "Scale updates processed by the update worker",
		},
		[]string{"result"},
	)

	// NoUpdatesTotal counts update requests that were not started, by reason.
	NoUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_no_updates_total",
			Help: "Update requests rejected before starting, by reason",
		},
		[]string{"reason"},
	)

	// UpdateDuration measures a scale update from admission to commit.
	// Buckets span interactive latencies up to slow cold updates.
	UpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scalenav_update_duration_seconds",
			Help:    "Duration of scale updates in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// LandmarksSelected tracks the size of the current landmark selection.
	LandmarksSelected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalenav_landmarks_selected",
			Help: "Number of landmarks in the active embedding",
		},
		[]string{"analysis"},
	)

	// ScaleLevel tracks the scale of the active embedding.
	ScaleLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalenav_scale_level",
			Help: "Scale level of the active embedding",
		},
		[]string{"analysis"},
	)

	// InitProvenance counts initial embedding positions by provenance
	// (previous, interpolated, random).
	InitProvenance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_init_positions_total",
			Help: "Initial embedding positions by provenance",
		},
		[]string{"provenance"},
	)

	// SolverRuns counts solver runs started and stopped.
	SolverRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_solver_runs_total",
			Help: "Embedding solver runs by event (started, stopped)",
		},
		[]string{"event"},
	)

	// HttpRequestsTotal counts API requests by method, path and status.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalenav_http_requests_total",
			Help: "HTTP requests processed by the session API",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scalenav_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
