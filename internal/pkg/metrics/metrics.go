// Package metrics provides Prometheus metrics for the ingestion and
// archiving pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts records by data type and outcome
	// (success, failed, duplicate, review, valid).
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "ingestion",
			Name:      "records_total",
			Help:      "Total number of records processed by outcome",
		},
		[]string{"data_type", "outcome"},
	)

	// BatchesFinalized counts finalized batches by source system and status.
	BatchesFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total number of finalized ingestion batches by status",
		},
		[]string{"source_system", "status"},
	)

	// BatchDuration tracks batch processing time in seconds.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "registry",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"source_system"},
	)

	// BatchesInFlight tracks batches currently being processed.
	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "registry",
			Subsystem: "ingestion",
			Name:      "batches_in_flight",
			Help:      "Number of ingestion batches currently running",
		},
	)

	// DedupScore observes the best candidate score per dedup check.
	DedupScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "registry",
			Subsystem: "dedup",
			Name:      "best_score",
			Help:      "Best candidate similarity score per deduplication check",
			Buckets:   []float64{0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"data_type"},
	)

	// DedupRecommendations counts recommendations issued.
	DedupRecommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "dedup",
			Name:      "recommendations_total",
			Help:      "Total deduplication recommendations by verdict",
		},
		[]string{"data_type", "recommendation"},
	)

	// LockWait tracks time spent acquiring blocking-key locks.
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "registry",
			Subsystem: "dedup",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for blocking-key locks",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// ParseErrors counts malformed rows skipped by the legacy parser.
	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "parser",
			Name:      "row_errors_total",
			Help:      "Total malformed rows reported by the legacy parser",
		},
		[]string{"source_system", "format"},
	)

	// ArchiveOperations counts archive and restore outcomes.
	ArchiveOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "archiving",
			Name:      "operations_total",
			Help:      "Total archive/restore operations by entity type and outcome",
		},
		[]string{"operation", "entity_type", "outcome"},
	)

	// EventsPublished counts pipeline events sent to the broker.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "registry",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total pipeline events published by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)
)
