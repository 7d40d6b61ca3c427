package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

// ReviewQueue holds MERGE records awaiting adjudication.
type ReviewQueue struct {
	mu    sync.Mutex
	items map[string]*domain.ReviewItem
}

// NewReviewQueue creates an empty ReviewQueue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{items: make(map[string]*domain.ReviewItem)}
}

func copyReview(it *domain.ReviewItem) *domain.ReviewItem {
	c := *it
	c.Payload = it.Payload.Clone()
	c.Candidates = slices.Clone(it.Candidates)
	if it.ResolvedAt != nil {
		t := *it.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Enqueue stores a PENDING item. An empty ID is assigned.
func (q *ReviewQueue) Enqueue(_ context.Context, it *domain.ReviewItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it.ID == "" {
		it.ID = newID()
	}
	if _, ok := q.items[it.ID]; ok {
		return fmt.Errorf("review item %s: %w", it.ID, apperrors.ErrAlreadyExists)
	}
	q.items[it.ID] = copyReview(it)
	return nil
}

// FindReview loads one item.
func (q *ReviewQueue) FindReview(_ context.Context, id string) (*domain.ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", id, apperrors.ErrNotFound)
	}
	return copyReview(it), nil
}

// ListReviews returns items with status (all when empty), oldest first.
func (q *ReviewQueue) ListReviews(_ context.Context, status domain.ReviewStatus, limit int) ([]*domain.ReviewItem, error) {
	q.mu.Lock()
	var out []*domain.ReviewItem
	for _, it := range q.items {
		if status == "" || it.Status == status {
			out = append(out, copyReview(it))
		}
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b *domain.ReviewItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, 0, limit), nil
}

// ResolveReview closes a PENDING item.
func (q *ReviewQueue) ResolveReview(_ context.Context, id string, status domain.ReviewStatus, by, entityID string, at time.Time) (*domain.ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", id, apperrors.ErrNotFound)
	}
	if it.Status != domain.ReviewPending {
		return nil, fmt.Errorf("review item %s is %s: %w", id, it.Status, apperrors.ErrConflict)
	}
	resolved := at
	it.Status = status
	it.ResolvedAt = &resolved
	it.ResolvedBy = by
	it.EntityID = entityID
	return copyReview(it), nil
}
