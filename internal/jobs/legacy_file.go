// Package jobs defines River Queue job types for async processing.
//
// Jobs carry identifiers only; the batch row they reference is committed in
// the same transaction as the job, so a worker always finds it.
//
// Import Path: dsr.gov.ph/registry/internal/jobs
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// LegacyFileArgs references a RECEIVED file batch.
type LegacyFileArgs struct {
	BatchID      string          `json:"batch_id"`
	SourceSystem string          `json:"source_system"`
	FilePath     string          `json:"file_path"`
	DataType     domain.DataType `json:"data_type"`
	SubmittedBy  string          `json:"submitted_by,omitempty"`
	Uploaded     bool            `json:"uploaded,omitempty"`
}

// Kind returns the job kind identifier for legacy file ingestion.
func (LegacyFileArgs) Kind() string { return "legacy_file_ingest" }

// InsertOpts runs each file once. A crashed attempt leaves its batch in a
// non-terminal status for an operator to resubmit.
func (LegacyFileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// Request converts the args back to a file request.
func (a LegacyFileArgs) Request() ingestion.FileRequest {
	return ingestion.FileRequest{
		SourceSystem: a.SourceSystem,
		FilePath:     a.FilePath,
		DataType:     a.DataType,
		SubmittedBy:  a.SubmittedBy,
		Uploaded:     a.Uploaded,
	}
}

// FileRunner processes a stored file batch.
type FileRunner interface {
	RunFileBatch(ctx context.Context, batchID string, req ingestion.FileRequest) *domain.IngestionResponse
}

// LegacyFileWorker runs queued legacy files through the ingestion pipeline.
type LegacyFileWorker struct {
	river.WorkerDefaults[LegacyFileArgs]
	runner  FileRunner
	timeout time.Duration
}

// NewLegacyFileWorker creates a worker. fileTimeout is the pipeline's own
// deadline; the job is given a minute more to finalize the batch.
func NewLegacyFileWorker(runner FileRunner, fileTimeout time.Duration) *LegacyFileWorker {
	return &LegacyFileWorker{runner: runner, timeout: fileTimeout}
}

// Timeout overrides River's default job timeout.
func (w *LegacyFileWorker) Timeout(*river.Job[LegacyFileArgs]) time.Duration {
	if w.timeout <= 0 {
		return -1
	}
	return w.timeout + time.Minute
}

// Work processes the file. Business failures are recorded on the batch and
// do not fail the job.
func (w *LegacyFileWorker) Work(ctx context.Context, job *river.Job[LegacyFileArgs]) error {
	if w == nil || w.runner == nil {
		return fmt.Errorf("legacy file worker is not initialized")
	}

	resp := w.runner.RunFileBatch(ctx, job.Args.BatchID, job.Args.Request())
	if resp.Status == domain.StatusNotFound {
		return river.JobCancel(fmt.Errorf("batch %s not found", job.Args.BatchID))
	}

	logger.Info("Legacy file job completed",
		zap.Int64("job_id", job.ID),
		zap.String("batch_id", job.Args.BatchID),
		zap.String("status", string(resp.Status)),
		zap.Int("total", resp.TotalRecords),
		zap.Int("failed", resp.FailedRecords),
	)
	return nil
}
