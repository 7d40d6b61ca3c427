package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/worker"
)

const msgFilePrefix = "Error processing file: "

// prepareFile checks the file and builds its unsaved batch. A non-nil
// response means the file was rejected.
func (o *Orchestrator) prepareFile(req FileRequest, start time.Time) (*domain.IngestionBatch, *domain.IngestionResponse) {
	if !o.parser.ValidateFileFormat(req.SourceSystem, req.FilePath) {
		logger.Warn("Rejected legacy file",
			zap.String("source_system", req.SourceSystem),
			zap.String("file_path", req.FilePath),
		)
		return nil, failedResponse(o.now(), start, apperrors.ErrInvalidFileFormatf(req.SourceSystem).Message)
	}

	meta, err := o.parser.FileMetadata(req.FilePath)
	if err != nil {
		return nil, failedResponse(o.now(), start, "File validation failed: "+err.Error())
	}
	if !meta.Valid {
		return nil, failedResponse(o.now(), start, "File validation failed: "+meta.ErrorMessage)
	}

	b := o.tracker.Prepare(batch.StartParams{
		BatchID:         fmt.Sprintf("LEGACY_%s_%d", req.SourceSystem, start.UnixMilli()),
		SourceSystem:    req.SourceSystem,
		DataType:        domain.ParseDataType(string(req.DataType)),
		SubmittedBy:     submitter(req.SubmittedBy),
		FilePath:        req.FilePath,
		FileSizeBytes:   meta.FileSizeBytes,
		ExpectedRecords: meta.RecordCountHint,
	})
	return b, nil
}

// ProcessLegacyDataFile ingests a legacy export synchronously.
func (o *Orchestrator) ProcessLegacyDataFile(ctx context.Context, req FileRequest) *domain.IngestionResponse {
	start := o.now()
	logger.Info("Processing legacy data file",
		zap.String("source_system", req.SourceSystem),
		zap.String("file_path", req.FilePath),
	)

	b, rejected := o.prepareFile(req, start)
	if rejected != nil {
		return rejected
	}
	if err := o.tracker.Open(ctx, b); err != nil {
		logger.Error("Failed to open file batch", zap.Error(err))
		return failedResponse(o.now(), start, msgFilePrefix+err.Error())
	}
	o.tracker.Started(ctx, b)
	return o.runFile(ctx, b, req, start)
}

// ProcessLegacyDataFileAsync checks the file, records its batch and hands
// it to the configured Enqueuer. The response reports the RECEIVED batch.
func (o *Orchestrator) ProcessLegacyDataFileAsync(ctx context.Context, req FileRequest) *domain.IngestionResponse {
	start := o.now()
	if o.enqueuer == nil {
		return failedResponse(o.now(), start, "Asynchronous ingestion is not configured")
	}

	b, rejected := o.prepareFile(req, start)
	if rejected != nil {
		return rejected
	}
	if err := o.enqueuer.EnqueueFile(ctx, b, req); err != nil {
		logger.Error("Failed to enqueue legacy file",
			zap.String("batch_id", b.BatchID),
			zap.Error(err),
		)
		return failedResponse(o.now(), start, msgFilePrefix+err.Error())
	}
	o.tracker.Started(ctx, b)

	resp := batchResponse(b, "Legacy file queued for processing")
	resp.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
	return resp
}

// RunFileBatch processes a file against a batch stored by an Enqueuer.
// A batch that is already final is reported as is, so redelivered jobs do
// not count records twice. An uploaded file is removed once the batch is
// final or gone.
func (o *Orchestrator) RunFileBatch(ctx context.Context, batchID string, req FileRequest) *domain.IngestionResponse {
	resp := o.runFileBatch(ctx, batchID, req)
	if resp.Status.Terminal() || resp.Status == domain.StatusNotFound {
		o.releaseUpload(req)
	}
	return resp
}

func (o *Orchestrator) runFileBatch(ctx context.Context, batchID string, req FileRequest) *domain.IngestionResponse {
	start := o.now()
	b, err := o.tracker.GetByBatchID(ctx, batchID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		resp := failedResponse(o.now(), start, apperrors.ErrBatchNotFoundf(batchID).Message)
		resp.Status = domain.StatusNotFound
		resp.BatchID = batchID
		return resp
	case err != nil:
		return failedResponse(o.now(), start, msgFilePrefix+err.Error())
	}
	if b.Status.Terminal() {
		return batchResponse(b, batch.Summary(b))
	}
	return o.runFile(ctx, b, req, start)
}

func (o *Orchestrator) runFile(ctx context.Context, b *domain.IngestionBatch, req FileRequest, start time.Time) *domain.IngestionResponse {
	if o.cfg.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.cfg.FileTimeout,
			fmt.Errorf("file timeout of %s exceeded", o.cfg.FileTimeout))
		defer cancel()
	}

	log := logger.With(zap.String("batch_id", b.BatchID), zap.String("source_system", b.SourceSystem))
	if err := o.tracker.Advance(context.WithoutCancel(ctx), b.BatchID, domain.StatusValidating); err != nil {
		log.Warn("Failed to advance batch status", zap.Error(err))
	}

	rep := newReport("line", o.cfg.MaxReportedIssues)
	err := o.runRecords(ctx, b, o.parser.Parse(ctx, b.SourceSystem, req.FilePath, b.DataType), rep)
	return o.finish(ctx, b, start, err, msgFilePrefix, rep, log)
}

// poolEnqueuer runs file batches on the ingest worker pool.
type poolEnqueuer struct {
	o *Orchestrator
}

func (e poolEnqueuer) EnqueueFile(ctx context.Context, b *domain.IngestionBatch, req FileRequest) error {
	if err := e.o.tracker.Open(ctx, b); err != nil {
		return err
	}
	batchID := b.BatchID
	err := e.o.pools.SubmitDetached(worker.PoolIngest, func(ctx context.Context) {
		e.o.RunFileBatch(ctx, batchID, req)
	})
	if err != nil {
		e.o.tracker.Started(ctx, b)
		if _, ferr := e.o.tracker.Fail(context.WithoutCancel(ctx), batchID, 0, msgFilePrefix+err.Error()); ferr != nil {
			logger.Warn("Failed to close unscheduled batch", zap.String("batch_id", batchID), zap.Error(ferr))
		}
		return fmt.Errorf("submit batch %s: %w", batchID, err)
	}
	return nil
}
