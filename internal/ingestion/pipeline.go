package ingestion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
	"dsr.gov.ph/registry/internal/repository"
)

// Response messages.
const (
	msgIngested          = "Data ingested successfully"
	msgValidationFailed  = "Data validation failed"
	msgValidationOnly    = "Data validation completed successfully"
	msgDuplicateRejected = "Duplicate record rejected"
	msgQueuedForReview   = "Potential duplicate queued for review"
	msgReviewWarning     = "Potential duplicate found - review required"
	msgNotFound          = "Ingestion record not found"
	msgOverallStatistics = "Overall ingestion statistics"
	msgInternalPrefix    = "Internal error during ingestion: "
	msgCancelledPrefix   = "Ingestion cancelled: "
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailed
	outcomeDuplicate
	outcomeReview
	outcomeValid
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeFailed:
		return "failed"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeReview:
		return "review"
	case outcomeValid:
		return "valid"
	}
	return "unknown"
}

// outcome is the result of one record.
type outcome struct {
	kind     outcomeKind
	message  string
	errors   []string
	warnings []string
	entityID string
}

// delta is the batch counter change for the outcome. A rejected duplicate is
// a failed record that is also counted as a duplicate. Totals are reconciled
// at finalize.
func (o outcome) delta() domain.CounterDelta {
	switch o.kind {
	case outcomeSuccess:
		return domain.CounterDelta{Successful: 1}
	case outcomeFailed:
		return domain.CounterDelta{Failed: 1}
	case outcomeDuplicate:
		return domain.CounterDelta{Failed: 1, Duplicate: 1}
	case outcomeReview:
		return domain.CounterDelta{Review: 1}
	}
	return domain.CounterDelta{}
}

// status is the response status of a single-record ingestion.
func (o outcome) status() domain.Status {
	switch o.kind {
	case outcomeSuccess, outcomeReview:
		return domain.StatusSuccess
	case outcomeValid:
		return domain.StatusValid
	}
	return domain.StatusFailed
}

func internalFailure(err error, warnings []string) outcome {
	return outcome{
		kind:     outcomeFailed,
		message:  msgInternalPrefix + err.Error(),
		errors:   []string{err.Error()},
		warnings: warnings,
	}
}

func issueStrings(issues []domain.FieldIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// scope carries the batch a record belongs to. batchID is empty for
// validate-only checks.
type scope struct {
	batchID string
	// stage, when set, receives each pipeline state the record enters.
	stage func(domain.Status)
}

func (s scope) enter(status domain.Status) {
	if s.stage != nil {
		s.stage(status)
	}
}

// process runs one record through the pipeline. It never returns an error:
// every failure is an outcome.
func (o *Orchestrator) process(ctx context.Context, sc scope, req domain.IngestionRequest) outcome {
	dataType := domain.ParseDataType(string(req.DataType))
	out := o.run(ctx, sc, dataType, req)
	metrics.RecordsProcessed.WithLabelValues(string(dataType), out.kind.String()).Inc()
	return out
}

func (o *Orchestrator) run(ctx context.Context, sc scope, dataType domain.DataType, req domain.IngestionRequest) outcome {
	payload := req.DataPayload

	sc.enter(domain.StatusValidating)
	result := o.validator.Validate(ctx, dataType, payload)
	warnings := issueStrings(result.Warnings)
	if !result.Valid {
		return outcome{
			kind:     outcomeFailed,
			message:  msgValidationFailed,
			errors:   issueStrings(result.Errors),
			warnings: warnings,
		}
	}

	var review *domain.DeduplicationResult
	if !req.SkipDuplicateCheck {
		sc.enter(domain.StatusDedupCheck)

		// The lock spans the check and the write so two ingestions of the
		// same entity cannot both be accepted.
		if !req.ValidateOnly {
			unlock, err := o.lock(ctx, dedup.BlockingKeys(dataType, payload))
			if err != nil {
				return internalFailure(err, warnings)
			}
			defer unlock()
		}

		dr, err := o.finder.FindDuplicates(ctx, dataType, payload)
		if err != nil {
			return internalFailure(err, warnings)
		}
		switch dr.Recommendation {
		case domain.RecommendReject:
			return outcome{kind: outcomeDuplicate, message: msgDuplicateRejected, warnings: warnings}
		case domain.RecommendMerge:
			warnings = append(warnings, msgReviewWarning)
			review = &dr
		}
	}

	if req.ValidateOnly {
		return outcome{kind: outcomeValid, message: msgValidationOnly, warnings: warnings}
	}

	sc.enter(domain.StatusCleaning)
	cleaned := o.cleaner.Clean(dataType, payload, result)

	if review != nil {
		if err := o.queueForReview(ctx, sc, dataType, req, cleaned, review.Candidates); err != nil {
			return internalFailure(err, warnings)
		}
		return outcome{kind: outcomeReview, message: msgQueuedForReview, warnings: warnings}
	}

	sc.enter(domain.StatusPersisting)
	id, err := o.persist(ctx, repository.PersistRequest{
		DataType:     dataType,
		Payload:      cleaned,
		BatchID:      sc.batchID,
		SourceSystem: req.SourceSystem,
	})
	switch {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		// Lost the race to a writer outside our lock (another process
		// without the shared locker, or a direct insert).
		logger.Debug("Unique constraint reclassified record as duplicate",
			zap.String("batch_id", sc.batchID),
			zap.Error(err),
		)
		return outcome{kind: outcomeDuplicate, message: msgDuplicateRejected, warnings: warnings}
	case errors.Is(err, apperrors.ErrBadRequest):
		return outcome{kind: outcomeFailed, message: msgValidationFailed, errors: []string{err.Error()}, warnings: warnings}
	case err != nil:
		return internalFailure(err, warnings)
	}
	return outcome{kind: outcomeSuccess, message: msgIngested, warnings: warnings, entityID: id}
}

func (o *Orchestrator) lock(ctx context.Context, keys []string) (func(), error) {
	if len(keys) == 0 {
		return func() {}, nil
	}
	start := time.Now()
	unlock, err := o.locker.Lock(ctx, keys)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

// persist writes under retry and the store breaker.
func (o *Orchestrator) persist(ctx context.Context, req repository.PersistRequest) (string, error) {
	var id string
	err := o.retry.Do(ctx, "persist "+string(req.DataType), func(ctx context.Context) error {
		var err error
		id, err = o.persister.Persist(ctx, req)
		return err
	})
	return id, err
}

func (o *Orchestrator) queueForReview(ctx context.Context, sc scope, dataType domain.DataType, req domain.IngestionRequest, cleaned domain.Payload, candidates []domain.MatchCandidate) error {
	item := &domain.ReviewItem{
		BatchID:      sc.batchID,
		SourceSystem: req.SourceSystem,
		DataType:     dataType,
		Payload:      cleaned,
		Candidates:   candidates,
		Status:       domain.ReviewPending,
		SubmittedBy:  req.SubmittedBy,
		CreatedAt:    o.now().UTC(),
	}
	if err := o.reviews.Enqueue(ctx, item); err != nil {
		return err
	}

	best := 0.0
	if len(candidates) > 0 {
		best = candidates[0].Score
	}
	logger.Info("Record queued for review",
		zap.String("review_id", item.ID),
		zap.String("batch_id", sc.batchID),
		zap.String("data_type", string(dataType)),
		zap.Int("candidates", len(candidates)),
		zap.Float64("best_score", best),
	)
	o.publish(ctx, domain.NewEvent(domain.EventRecordQueued, "review_item", item.ID, req.SubmittedBy, map[string]any{
		"batchId":    sc.batchID,
		"dataType":   dataType,
		"candidates": len(candidates),
		"bestScore":  best,
	}))
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, e *domain.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Dispatch(ctx, e); err != nil {
		logger.Warn("Failed to publish ingestion event",
			zap.String("event_type", string(e.EventType)),
			zap.String("aggregate_id", e.AggregateID),
			zap.Error(err),
		)
	}
}
