// Package batch tracks the lifecycle and counters of ingestion batches.
//
// A batch is created RECEIVED, moves through the pipeline states while its
// counters grow by atomic increments, and is finalized exactly once. After
// finalization the row is immutable.
//
// Import Path: dsr.gov.ph/registry/internal/batch
package batch

import (
	"context"
	"time"

	"dsr.gov.ph/registry/internal/domain"
)

// Store persists batches. Implementations return apperrors.ErrNotFound for
// unknown batches, apperrors.ErrAlreadyExists for a reused batch id and
// apperrors.ErrConflict when mutating a finalized batch.
type Store interface {
	Create(ctx context.Context, b *domain.IngestionBatch) error
	// IncrementCounters adds d to the batch counters in one atomic update.
	IncrementCounters(ctx context.Context, batchID string, d domain.CounterDelta) error
	// SetStatus moves a running batch to a non-terminal status.
	SetStatus(ctx context.Context, batchID string, status domain.Status) error
	// Finalize sets a terminal status and reconciles TotalRecords with the
	// sum of the outcome counters.
	Finalize(ctx context.Context, batchID string, f Finalization) (*domain.IngestionBatch, error)
	FindByID(ctx context.Context, id string) (*domain.IngestionBatch, error)
	FindByBatchID(ctx context.Context, batchID string) (*domain.IngestionBatch, error)
	Aggregate(ctx context.Context) (domain.BatchStatistics, error)
	List(ctx context.Context, filter domain.BatchFilter) ([]*domain.IngestionBatch, error)
}

// Finalization is the terminal update applied to a batch.
type Finalization struct {
	Status           domain.Status
	ProcessingTimeMs int64
	ErrorMessage     string
	CompletedAt      time.Time
}
