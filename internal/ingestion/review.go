package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/repository"
)

// ListReviewItems returns review items with status (all when empty), oldest
// first.
func (o *Orchestrator) ListReviewItems(ctx context.Context, status domain.ReviewStatus, limit int) ([]*domain.ReviewItem, error) {
	items, err := o.reviews.ListReviews(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	return items, nil
}

// ResolveReviewItem closes a pending review. ACCEPTED persists the held
// payload as a new entity; REJECTED discards it.
func (o *Orchestrator) ResolveReviewItem(ctx context.Context, id string, decision domain.ReviewStatus, resolvedBy string) (*domain.ReviewItem, error) {
	if decision != domain.ReviewAccepted && decision != domain.ReviewRejected {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField,
			fmt.Sprintf("Decision must be %s or %s", domain.ReviewAccepted, domain.ReviewRejected))
	}

	item, err := o.reviews.FindReview(ctx, id)
	if err != nil {
		return nil, reviewError(id, err)
	}
	if item.Status != domain.ReviewPending {
		return nil, apperrors.Conflict(apperrors.CodeReviewResolved,
			fmt.Sprintf("Review item already resolved: %s", id))
	}

	var entityID string
	if decision == domain.ReviewAccepted {
		entityID, err = o.acceptReview(ctx, item)
		if err != nil {
			return nil, err
		}
	}

	resolved, err := o.reviews.ResolveReview(ctx, id, decision, submitter(resolvedBy), entityID, o.now().UTC())
	if err != nil {
		return nil, reviewError(id, err)
	}

	logger.Info("Review item resolved",
		zap.String("review_id", id),
		zap.String("decision", string(decision)),
		zap.String("entity_id", entityID),
		zap.String("resolved_by", resolved.ResolvedBy),
	)
	o.publish(ctx, domain.NewEvent(domain.EventReviewResolved, "review_item", id, resolved.ResolvedBy, map[string]any{
		"decision": decision,
		"entityId": entityID,
		"batchId":  item.BatchID,
	}))
	return resolved, nil
}

// acceptReview persists the held payload under the same blocking-key lock
// as live ingestion.
func (o *Orchestrator) acceptReview(ctx context.Context, item *domain.ReviewItem) (string, error) {
	unlock, err := o.lock(ctx, dedup.BlockingKeys(item.DataType, item.Payload))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "Blocking key lock not acquired", http.StatusServiceUnavailable)
	}
	defer unlock()

	entityID, err := o.persist(ctx, repository.PersistRequest{
		DataType:     item.DataType,
		Payload:      item.Payload,
		BatchID:      item.BatchID,
		SourceSystem: item.SourceSystem,
	})
	switch {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return "", apperrors.Conflict(apperrors.CodeDuplicateRecord, "Record now duplicates an existing entity")
	case errors.Is(err, apperrors.ErrBadRequest):
		return "", apperrors.Wrap(err, apperrors.CodeValidationFailed, "Held payload cannot be persisted", http.StatusUnprocessableEntity)
	case err != nil:
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "Failed to persist reviewed record", http.StatusInternalServerError)
	}
	return entityID, nil
}

func reviewError(id string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return apperrors.NotFound(apperrors.CodeReviewNotFound, fmt.Sprintf("Review item not found: %s", id))
	case errors.Is(err, apperrors.ErrConflict):
		return apperrors.Conflict(apperrors.CodeReviewResolved, fmt.Sprintf("Review item already resolved: %s", id))
	}
	return fmt.Errorf("review item %s: %w", id, err)
}
