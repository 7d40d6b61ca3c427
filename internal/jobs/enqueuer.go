package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// TxBeginner starts the transaction shared by the batch row and its job.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BatchTxCreator inserts a batch row inside a caller-owned transaction.
type BatchTxCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b *domain.IngestionBatch) error
}

// JobInserter is the part of *river.Client used to enqueue jobs.
type JobInserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverEnqueuer records a file batch and its legacy_file_ingest job in one
// transaction.
type RiverEnqueuer struct {
	db      TxBeginner
	batches BatchTxCreator
	jobs    JobInserter
}

// NewRiverEnqueuer creates an enqueuer.
func NewRiverEnqueuer(db TxBeginner, batches BatchTxCreator, jobs JobInserter) *RiverEnqueuer {
	return &RiverEnqueuer{db: db, batches: batches, jobs: jobs}
}

var _ ingestion.Enqueuer = (*RiverEnqueuer)(nil)

// EnqueueFile commits the batch row and the job together, or neither.
func (e *RiverEnqueuer) EnqueueFile(ctx context.Context, b *domain.IngestionBatch, req ingestion.FileRequest) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.batches.CreateTx(ctx, tx, b); err != nil {
		return fmt.Errorf("create batch %s: %w", b.BatchID, err)
	}
	res, err := e.jobs.InsertTx(ctx, tx, LegacyFileArgs{
		BatchID:      b.BatchID,
		SourceSystem: req.SourceSystem,
		FilePath:     req.FilePath,
		DataType:     b.DataType,
		SubmittedBy:  b.SubmittedBy,
		Uploaded:     req.Uploaded,
	}, nil)
	if err != nil {
		return fmt.Errorf("insert legacy file job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit enqueue tx: %w", err)
	}

	logger.Info("Legacy file job enqueued",
		zap.String("batch_id", b.BatchID),
		zap.Int64("job_id", res.Job.ID),
	)
	return nil
}
