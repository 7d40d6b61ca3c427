package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

// Tracker is the batch lifecycle service used by the orchestrator.
type Tracker struct {
	store  Store
	events domain.EventPublisher
	now    func() time.Time
}

// NewTracker creates a Tracker. events may be nil.
func NewTracker(store Store, events domain.EventPublisher) *Tracker {
	return &Tracker{store: store, events: events, now: time.Now}
}

// StartParams describes a new batch.
type StartParams struct {
	BatchID         string
	SourceSystem    string
	DataType        domain.DataType
	SubmittedBy     string
	FilePath        string
	FileSizeBytes   int64
	ExpectedRecords int
}

// Prepare builds a RECEIVED batch row without storing it, for callers that
// insert it inside their own transaction. Call Started afterwards.
func (t *Tracker) Prepare(p StartParams) *domain.IngestionBatch {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &domain.IngestionBatch{
		ID:            id.String(),
		BatchID:       p.BatchID,
		SourceSystem:  p.SourceSystem,
		DataType:      p.DataType,
		Status:        domain.StatusReceived,
		TotalRecords:  p.ExpectedRecords,
		FilePath:      p.FilePath,
		FileSizeBytes: p.FileSizeBytes,
		SubmittedBy:   p.SubmittedBy,
		SubmittedAt:   t.now().UTC(),
	}
}

// Start creates and stores a RECEIVED batch.
func (t *Tracker) Start(ctx context.Context, p StartParams) (*domain.IngestionBatch, error) {
	b := t.Prepare(p)
	if err := t.Open(ctx, b); err != nil {
		return nil, err
	}
	t.Started(ctx, b)
	return b, nil
}

// Open stores a prepared batch without announcing it.
func (t *Tracker) Open(ctx context.Context, b *domain.IngestionBatch) error {
	if err := t.store.Create(ctx, b); err != nil {
		return fmt.Errorf("create batch %s: %w", b.BatchID, err)
	}
	return nil
}

// Started records metrics and emits BATCH_STARTED for a stored batch.
func (t *Tracker) Started(ctx context.Context, b *domain.IngestionBatch) {
	metrics.BatchesInFlight.Inc()
	logger.Info("Ingestion batch started",
		zap.String("batch_id", b.BatchID),
		zap.String("source_system", b.SourceSystem),
		zap.String("data_type", string(b.DataType)),
		zap.Int("expected_records", b.TotalRecords),
	)
	t.publish(ctx, domain.NewEvent(domain.EventBatchStarted, "batch", b.BatchID, b.SubmittedBy, map[string]any{
		"sourceSystem": b.SourceSystem,
		"dataType":     b.DataType,
	}))
}

// Advance moves a running batch to a pipeline status.
func (t *Tracker) Advance(ctx context.Context, batchID string, status domain.Status) error {
	if status.Terminal() {
		return fmt.Errorf("advance batch %s: %s is terminal", batchID, status)
	}
	if err := t.store.SetStatus(ctx, batchID, status); err != nil {
		return fmt.Errorf("advance batch %s: %w", batchID, err)
	}
	return nil
}

// Count applies a counter delta.
func (t *Tracker) Count(ctx context.Context, batchID string, d domain.CounterDelta) error {
	if d.IsZero() {
		return nil
	}
	if err := t.store.IncrementCounters(ctx, batchID, d); err != nil {
		return fmt.Errorf("update batch %s counters: %w", batchID, err)
	}
	return nil
}

// Complete finalizes a batch with the status projected from its counters.
func (t *Tracker) Complete(ctx context.Context, batchID string, elapsed time.Duration) (*domain.IngestionBatch, error) {
	b, err := t.store.FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return t.finalize(ctx, b, ProjectStatus(b), elapsed, "")
}

// Fail finalizes a batch as FAILED with message, keeping its counters.
func (t *Tracker) Fail(ctx context.Context, batchID string, elapsed time.Duration, message string) (*domain.IngestionBatch, error) {
	b, err := t.store.FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return t.finalize(ctx, b, domain.StatusFailed, elapsed, message)
}

func (t *Tracker) finalize(ctx context.Context, b *domain.IngestionBatch, status domain.Status, elapsed time.Duration, message string) (*domain.IngestionBatch, error) {
	done, err := t.store.Finalize(ctx, b.BatchID, Finalization{
		Status:           status,
		ProcessingTimeMs: elapsed.Milliseconds(),
		ErrorMessage:     message,
		CompletedAt:      t.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			logger.Warn("Batch already finalized", zap.String("batch_id", b.BatchID))
		}
		return nil, fmt.Errorf("finalize batch %s: %w", b.BatchID, err)
	}

	metrics.BatchesInFlight.Dec()
	metrics.BatchesFinalized.WithLabelValues(done.SourceSystem, string(done.Status)).Inc()
	metrics.BatchDuration.WithLabelValues(done.SourceSystem).Observe(elapsed.Seconds())

	logger.Info("Ingestion batch finalized",
		zap.String("batch_id", done.BatchID),
		zap.String("status", string(done.Status)),
		zap.Int("total", done.TotalRecords),
		zap.Int("successful", done.SuccessfulRecords),
		zap.Int("failed", done.FailedRecords),
		zap.Int("duplicate", done.DuplicateRecords),
		zap.Int("review", done.ReviewRecords),
		zap.Int64("processing_time_ms", done.ProcessingTimeMs),
	)
	t.publish(ctx, domain.NewEvent(domain.EventBatchCompleted, "batch", done.BatchID, done.SubmittedBy, map[string]any{
		"status":            done.Status,
		"totalRecords":      done.TotalRecords,
		"successfulRecords": done.SuccessfulRecords,
		"failedRecords":     done.FailedRecords,
		"duplicateRecords":  done.DuplicateRecords,
		"reviewRecords":     done.ReviewRecords,
	}))
	return done, nil
}

// Get loads a batch by its backing id.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.IngestionBatch, error) {
	return t.store.FindByID(ctx, id)
}

// GetByBatchID loads a batch by its external batch id.
func (t *Tracker) GetByBatchID(ctx context.Context, batchID string) (*domain.IngestionBatch, error) {
	return t.store.FindByBatchID(ctx, batchID)
}

// Statistics aggregates counters across all batches.
func (t *Tracker) Statistics(ctx context.Context) (domain.BatchStatistics, error) {
	return t.store.Aggregate(ctx)
}

// List returns batches matching filter, newest first.
func (t *Tracker) List(ctx context.Context, filter domain.BatchFilter) ([]*domain.IngestionBatch, error) {
	return t.store.List(ctx, filter)
}

func (t *Tracker) publish(ctx context.Context, e *domain.Event) {
	if t.events == nil {
		return
	}
	if err := t.events.Dispatch(ctx, e); err != nil {
		logger.Warn("Failed to publish batch event",
			zap.String("event_type", string(e.EventType)),
			zap.String("aggregate_id", e.AggregateID),
			zap.Error(err),
		)
	}
}
