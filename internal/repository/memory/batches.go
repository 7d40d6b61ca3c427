// Package memory provides mutex-guarded in-process implementations of the
// registry stores. They back unit tests and single-node deployments
// without PostgreSQL.
//
// Import Path: dsr.gov.ph/registry/internal/repository/memory
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

// BatchStore is an in-memory batch.Store.
type BatchStore struct {
	mu      sync.Mutex
	byBatch map[string]*domain.IngestionBatch
	byID    map[string]*domain.IngestionBatch
}

var _ batch.Store = (*BatchStore)(nil)

// NewBatchStore creates an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		byBatch: make(map[string]*domain.IngestionBatch),
		byID:    make(map[string]*domain.IngestionBatch),
	}
}

func copyBatch(b *domain.IngestionBatch) *domain.IngestionBatch {
	c := *b
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Create stores a new batch.
func (s *BatchStore) Create(_ context.Context, b *domain.IngestionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBatch[b.BatchID]; ok {
		return fmt.Errorf("batch %s: %w", b.BatchID, apperrors.ErrAlreadyExists)
	}
	c := copyBatch(b)
	s.byBatch[b.BatchID] = c
	s.byID[b.ID] = c
	return nil
}

func (s *BatchStore) running(batchID string) (*domain.IngestionBatch, error) {
	b, ok := s.byBatch[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, apperrors.ErrNotFound)
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, b.Status, apperrors.ErrConflict)
	}
	return b, nil
}

// IncrementCounters adds d under the store lock.
func (s *BatchStore) IncrementCounters(_ context.Context, batchID string, d domain.CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.running(batchID)
	if err != nil {
		return err
	}
	b.Apply(d)
	return nil
}

// SetStatus sets a non-terminal status.
func (s *BatchStore) SetStatus(_ context.Context, batchID string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.running(batchID)
	if err != nil {
		return err
	}
	b.Status = status
	return nil
}

// Finalize applies the terminal update once.
func (s *BatchStore) Finalize(_ context.Context, batchID string, f batch.Finalization) (*domain.IngestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.running(batchID)
	if err != nil {
		return nil, err
	}
	completed := f.CompletedAt
	b.Status = f.Status
	b.ProcessingTimeMs = f.ProcessingTimeMs
	b.ErrorMessage = f.ErrorMessage
	b.CompletedAt = &completed
	// Duplicates are a subset of failures.
	b.TotalRecords = b.SuccessfulRecords + b.FailedRecords + b.ReviewRecords
	return copyBatch(b), nil
}

// FindByID looks a batch up by backing id.
func (s *BatchStore) FindByID(_ context.Context, id string) (*domain.IngestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("batch id %s: %w", id, apperrors.ErrNotFound)
	}
	return copyBatch(b), nil
}

// FindByBatchID looks a batch up by external batch id.
func (s *BatchStore) FindByBatchID(_ context.Context, batchID string) (*domain.IngestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byBatch[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, apperrors.ErrNotFound)
	}
	return copyBatch(b), nil
}

// Aggregate sums counters over every batch. The average processing time
// only covers finalized batches.
func (s *BatchStore) Aggregate(_ context.Context) (domain.BatchStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.BatchStatistics{ByStatus: make(map[domain.Status]int)}
	var timed int
	var totalMs int64
	for _, b := range s.byBatch {
		st.TotalBatches++
		st.TotalRecords += b.TotalRecords
		st.SuccessfulRecords += b.SuccessfulRecords
		st.FailedRecords += b.FailedRecords
		st.DuplicateRecords += b.DuplicateRecords
		st.ReviewRecords += b.ReviewRecords
		st.ByStatus[b.Status]++
		if b.CompletedAt != nil {
			timed++
			totalMs += b.ProcessingTimeMs
		}
	}
	if timed > 0 {
		st.AverageProcessingTimeMs = float64(totalMs) / float64(timed)
	}
	return st, nil
}

// List filters batches, newest first.
func (s *BatchStore) List(_ context.Context, f domain.BatchFilter) ([]*domain.IngestionBatch, error) {
	s.mu.Lock()
	out := make([]*domain.IngestionBatch, 0, len(s.byBatch))
	for _, b := range s.byBatch {
		if f.SourceSystem != "" && b.SourceSystem != f.SourceSystem {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.From != nil && b.SubmittedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && b.SubmittedAt.After(*f.To) {
			continue
		}
		out = append(out, copyBatch(b))
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *domain.IngestionBatch) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(b.BatchID, a.BatchID)
	})
	return page(out, f.Offset, f.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
