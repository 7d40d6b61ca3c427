package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/parser"
)

func submitter(who string) string {
	if who == "" {
		return domain.SubmittedBySystem
	}
	return who
}

func failedResponse(now, start time.Time, message string) *domain.IngestionResponse {
	return &domain.IngestionResponse{
		Status:           domain.StatusFailed,
		Message:          message,
		ValidationErrors: []string{},
		ProcessingTimeMs: now.Sub(start).Milliseconds(),
		ProcessedAt:      now.UTC(),
	}
}

func batchResponse(b *domain.IngestionBatch, message string) *domain.IngestionResponse {
	processed := b.SubmittedAt
	if b.CompletedAt != nil {
		processed = *b.CompletedAt
	}
	return &domain.IngestionResponse{
		Status:            b.Status,
		IngestionID:       b.ID,
		BatchID:           b.BatchID,
		Message:           message,
		TotalRecords:      b.TotalRecords,
		SuccessfulRecords: b.SuccessfulRecords,
		FailedRecords:     b.FailedRecords,
		DuplicateRecords:  b.DuplicateRecords,
		ReviewRecords:     b.ReviewRecords,
		ValidationErrors:  []string{},
		ProcessingTimeMs:  b.ProcessingTimeMs,
		ProcessedAt:       processed,
	}
}

// IngestData runs one record as its own batch. Validate-only requests are
// checked without creating a batch or touching the store.
func (o *Orchestrator) IngestData(ctx context.Context, req domain.IngestionRequest) *domain.IngestionResponse {
	start := o.now()
	req.DataType = domain.ParseDataType(string(req.DataType))
	req.SubmittedBy = submitter(req.SubmittedBy)

	logger.Info("Starting data ingestion",
		zap.String("source_system", req.SourceSystem),
		zap.String("data_type", string(req.DataType)),
		zap.Bool("validate_only", req.ValidateOnly),
	)

	if req.ValidateOnly {
		return o.recordResponse(start, nil, o.process(ctx, scope{}, req))
	}

	b, err := o.tracker.Start(ctx, batch.StartParams{
		BatchID:         "SINGLE_" + uuid.NewString(),
		SourceSystem:    req.SourceSystem,
		DataType:        req.DataType,
		SubmittedBy:     req.SubmittedBy,
		ExpectedRecords: 1,
	})
	if err != nil {
		logger.Error("Failed to open ingestion batch", zap.Error(err))
		resp := failedResponse(o.now(), start, msgInternalPrefix+err.Error())
		resp.TotalRecords, resp.FailedRecords = 1, 1
		return resp
	}

	bctx := context.WithoutCancel(ctx)
	sc := scope{
		batchID: b.BatchID,
		stage: func(s domain.Status) {
			if err := o.tracker.Advance(bctx, b.BatchID, s); err != nil {
				logger.Warn("Failed to advance batch status",
					zap.String("batch_id", b.BatchID),
					zap.String("status", string(s)),
					zap.Error(err),
				)
			}
		},
	}
	out := o.process(ctx, sc, req)

	if err := o.tracker.Count(bctx, b.BatchID, out.delta()); err != nil {
		logger.Error("Failed to count record", zap.String("batch_id", b.BatchID), zap.Error(err))
	}
	elapsed := o.now().Sub(start)
	switch out.kind {
	case outcomeFailed, outcomeDuplicate:
		_, err = o.tracker.Fail(bctx, b.BatchID, elapsed, out.message)
	default:
		_, err = o.tracker.Complete(bctx, b.BatchID, elapsed)
	}
	if err != nil {
		logger.Error("Failed to finalize single-record batch", zap.String("batch_id", b.BatchID), zap.Error(err))
	}

	resp := o.recordResponse(start, b, out)
	logger.Info("Data ingestion completed",
		zap.String("batch_id", b.BatchID),
		zap.String("status", string(resp.Status)),
		zap.Int64("processing_time_ms", resp.ProcessingTimeMs),
	)
	return resp
}

func (o *Orchestrator) recordResponse(start time.Time, b *domain.IngestionBatch, out outcome) *domain.IngestionResponse {
	now := o.now()
	d := out.delta()
	resp := &domain.IngestionResponse{
		Status:            out.status(),
		Message:           out.message,
		TotalRecords:      1,
		SuccessfulRecords: d.Successful,
		FailedRecords:     d.Failed,
		DuplicateRecords:  d.Duplicate,
		ReviewRecords:     d.Review,
		ValidationErrors:  out.errors,
		Warnings:          out.warnings,
		ProcessingTimeMs:  now.Sub(start).Milliseconds(),
		ProcessedAt:       now.UTC(),
	}
	if resp.ValidationErrors == nil {
		resp.ValidationErrors = []string{}
	}
	if b != nil {
		resp.IngestionID, resp.BatchID = b.ID, b.BatchID
	}
	return resp
}

// IngestBatch runs reqs as one batch. An empty batchID gets a generated one.
func (o *Orchestrator) IngestBatch(ctx context.Context, reqs []domain.IngestionRequest, batchID string) *domain.IngestionResponse {
	start := o.now()
	if len(reqs) == 0 {
		return failedResponse(o.now(), start, "No records supplied")
	}
	if batchID == "" {
		batchID = "BATCH_" + uuid.NewString()
	}

	first := reqs[0]
	b, err := o.tracker.Start(ctx, batch.StartParams{
		BatchID:         batchID,
		SourceSystem:    first.SourceSystem,
		DataType:        domain.ParseDataType(string(first.DataType)),
		SubmittedBy:     submitter(first.SubmittedBy),
		ExpectedRecords: len(reqs),
	})
	if err != nil {
		msg := msgInternalPrefix + err.Error()
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			msg = "Batch already exists: " + batchID
		}
		return failedResponse(o.now(), start, msg)
	}

	log := logger.With(zap.String("batch_id", b.BatchID), zap.String("source_system", b.SourceSystem))
	log.Info("Starting batch ingestion", zap.Int("records", len(reqs)))

	if err := o.tracker.Advance(context.WithoutCancel(ctx), b.BatchID, domain.StatusValidating); err != nil {
		log.Warn("Failed to advance batch status", zap.Error(err))
	}

	records := func(yield func(parser.Record, error) bool) {
		for i, r := range reqs {
			r.SubmittedBy = submitter(r.SubmittedBy)
			if !yield(parser.Record{Line: i + 1, Request: r}, nil) {
				return
			}
		}
	}
	rep := newReport("record", o.cfg.MaxReportedIssues)
	err = o.runRecords(ctx, b, records, rep)
	return o.finish(ctx, b, start, err, msgInternalPrefix, rep, log)
}

// GetIngestionStatus looks a batch up by ingestion id, falling back to the
// external batch id.
func (o *Orchestrator) GetIngestionStatus(ctx context.Context, id string) *domain.IngestionResponse {
	b, err := o.tracker.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		b, err = o.tracker.GetByBatchID(ctx, id)
	}
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return &domain.IngestionResponse{
			Status:           domain.StatusNotFound,
			IngestionID:      id,
			Message:          msgNotFound,
			ValidationErrors: []string{},
			ProcessedAt:      o.now().UTC(),
		}
	case err != nil:
		logger.Error("Failed to load ingestion status", zap.String("ingestion_id", id), zap.Error(err))
		resp := failedResponse(o.now(), o.now(), msgInternalPrefix+err.Error())
		resp.IngestionID = id
		return resp
	}
	return batchResponse(b, batch.Summary(b))
}

// GetIngestionStatistics reports one batch, or the aggregate over every
// batch when batchID is nil.
func (o *Orchestrator) GetIngestionStatistics(ctx context.Context, batchID *string) *domain.IngestionResponse {
	if batchID != nil {
		b, err := o.tracker.GetByBatchID(ctx, *batchID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			return &domain.IngestionResponse{
				Status:           domain.StatusNotFound,
				BatchID:          *batchID,
				Message:          apperrors.ErrBatchNotFoundf(*batchID).Message,
				ValidationErrors: []string{},
				ProcessedAt:      o.now().UTC(),
			}
		case err != nil:
			resp := failedResponse(o.now(), o.now(), msgInternalPrefix+err.Error())
			resp.BatchID = *batchID
			return resp
		}
		return batchResponse(b, fmt.Sprintf("Batch statistics for %s", b.BatchID))
	}

	st, err := o.tracker.Statistics(ctx)
	if err != nil {
		logger.Error("Failed to aggregate ingestion statistics", zap.Error(err))
		return failedResponse(o.now(), o.now(), msgInternalPrefix+err.Error())
	}
	return &domain.IngestionResponse{
		Status:            domain.StatusCompleted,
		Message:           msgOverallStatistics,
		TotalRecords:      st.TotalRecords,
		SuccessfulRecords: st.SuccessfulRecords,
		FailedRecords:     st.FailedRecords,
		DuplicateRecords:  st.DuplicateRecords,
		ReviewRecords:     st.ReviewRecords,
		ValidationErrors:  []string{},
		ProcessingTimeMs:  int64(st.AverageProcessingTimeMs),
		ProcessedAt:       o.now().UTC(),
	}
}

// ListBatches returns tracked batches, newest first.
func (o *Orchestrator) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]*domain.IngestionBatch, error) {
	out, err := o.tracker.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}
