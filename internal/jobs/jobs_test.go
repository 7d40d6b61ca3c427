package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestLegacyFileArgs(t *testing.T) {
	t.Parallel()

	args := LegacyFileArgs{BatchID: "LEGACY_LISTAHANAN_1", SourceSystem: "LISTAHANAN", FilePath: "/data/a.csv", DataType: domain.DataTypeIndividual}
	assert.Equal(t, "legacy_file_ingest", args.Kind())

	opts := args.InsertOpts()
	assert.Equal(t, river.QueueDefault, opts.Queue)
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.True(t, opts.UniqueOpts.ByArgs)

	req := args.Request()
	assert.Equal(t, "/data/a.csv", req.FilePath)
	assert.Equal(t, domain.DataTypeIndividual, req.DataType)
}

type runnerFunc func(ctx context.Context, batchID string, req ingestion.FileRequest) *domain.IngestionResponse

func (f runnerFunc) RunFileBatch(ctx context.Context, batchID string, req ingestion.FileRequest) *domain.IngestionResponse {
	return f(ctx, batchID, req)
}

func TestLegacyFileWorker(t *testing.T) {
	t.Parallel()

	t.Run("uninitialized", func(t *testing.T) {
		var w *LegacyFileWorker
		assert.Error(t, w.Work(context.Background(), &river.Job[LegacyFileArgs]{}))
	})

	t.Run("runs the batch", func(t *testing.T) {
		var gotID string
		w := NewLegacyFileWorker(runnerFunc(func(_ context.Context, id string, req ingestion.FileRequest) *domain.IngestionResponse {
			gotID = id
			return &domain.IngestionResponse{Status: domain.StatusPartial, TotalRecords: 4, FailedRecords: 1}
		}), 30*time.Minute)

		job := &river.Job[LegacyFileArgs]{JobRow: &rivertype.JobRow{ID: 7}, Args: LegacyFileArgs{BatchID: "B1"}}
		require.NoError(t, w.Work(context.Background(), job))
		assert.Equal(t, "B1", gotID)
		assert.Equal(t, 31*time.Minute, w.Timeout(job))
	})

	t.Run("cancels a missing batch", func(t *testing.T) {
		w := NewLegacyFileWorker(runnerFunc(func(context.Context, string, ingestion.FileRequest) *domain.IngestionResponse {
			return &domain.IngestionResponse{Status: domain.StatusNotFound}
		}), 0)

		job := &river.Job[LegacyFileArgs]{JobRow: &rivertype.JobRow{ID: 8}, Args: LegacyFileArgs{BatchID: "gone"}}
		err := w.Work(context.Background(), job)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch gone not found")
		assert.Equal(t, time.Duration(-1), w.Timeout(job))
	})
}

type sweeperFunc func(ctx context.Context) ([]archiving.SweepReport, error)

func (f sweeperFunc) RunRetentionSweep(ctx context.Context) ([]archiving.SweepReport, error) {
	return f(ctx)
}

func TestRetentionSweep(t *testing.T) {
	t.Parallel()

	args := RetentionSweepArgs{}
	assert.Equal(t, "retention_sweep", args.Kind())
	opts := args.InsertOpts()
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.Equal(t, time.Hour, opts.UniqueOpts.ByPeriod)

	assert.Len(t, PeriodicJobs(0), 1)

	t.Run("uninitialized", func(t *testing.T) {
		assert.Error(t, NewRetentionSweepWorker(nil).Work(context.Background(), &river.Job[RetentionSweepArgs]{}))
	})

	t.Run("reports sweep failure", func(t *testing.T) {
		w := NewRetentionSweepWorker(sweeperFunc(func(context.Context) ([]archiving.SweepReport, error) {
			return []archiving.SweepReport{
				{EntityType: domain.EntityHousehold, Result: &domain.ArchivingResult{ArchivedCount: 2, Success: true}},
				{EntityType: domain.EntityHouseholdMember},
			}, context.DeadlineExceeded
		}))
		err := w.Work(context.Background(), &river.Job[RetentionSweepArgs]{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("succeeds", func(t *testing.T) {
		calls := 0
		w := NewRetentionSweepWorker(sweeperFunc(func(context.Context) ([]archiving.SweepReport, error) {
			calls++
			return nil, nil
		}))
		require.NoError(t, w.Work(context.Background(), &river.Job[RetentionSweepArgs]{}))
		assert.Equal(t, 1, calls)
	})
}

// fakeTx records how the transaction ended. Other pgx.Tx methods are not
// used by the enqueuer.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (d fakeDB) Begin(context.Context) (pgx.Tx, error) { return d.tx, nil }

type fakeBatches struct {
	err     error
	created []*domain.IngestionBatch
}

func (b *fakeBatches) CreateTx(_ context.Context, _ pgx.Tx, batch *domain.IngestionBatch) error {
	if b.err != nil {
		return b.err
	}
	b.created = append(b.created, batch)
	return nil
}

type fakeInserter struct {
	err  error
	args []river.JobArgs
}

func (i *fakeInserter) InsertTx(_ context.Context, _ pgx.Tx, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if i.err != nil {
		return nil, i.err
	}
	i.args = append(i.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(i.args))}}, nil
}

func TestRiverEnqueuer(t *testing.T) {
	t.Parallel()

	b := &domain.IngestionBatch{BatchID: "LEGACY_LISTAHANAN_1", DataType: domain.DataTypeIndividual, SubmittedBy: "uploader"}
	req := ingestion.FileRequest{SourceSystem: "LISTAHANAN", FilePath: "/data/a.csv"}

	t.Run("commits batch and job together", func(t *testing.T) {
		tx := &fakeTx{}
		batches, jobs := &fakeBatches{}, &fakeInserter{}
		e := NewRiverEnqueuer(fakeDB{tx}, batches, jobs)

		require.NoError(t, e.EnqueueFile(context.Background(), b, req))
		assert.True(t, tx.committed)
		assert.False(t, tx.rolledBack)
		require.Len(t, batches.created, 1)
		require.Len(t, jobs.args, 1)
		args := jobs.args[0].(LegacyFileArgs)
		assert.Equal(t, b.BatchID, args.BatchID)
		assert.Equal(t, "/data/a.csv", args.FilePath)
		assert.Equal(t, "uploader", args.SubmittedBy)
	})

	t.Run("rolls back when the job cannot be inserted", func(t *testing.T) {
		tx := &fakeTx{}
		e := NewRiverEnqueuer(fakeDB{tx}, &fakeBatches{}, &fakeInserter{err: errors.New("queue full")})

		err := e.EnqueueFile(context.Background(), b, req)
		require.Error(t, err)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
	})

	t.Run("rolls back when the batch exists", func(t *testing.T) {
		tx := &fakeTx{}
		jobs := &fakeInserter{}
		e := NewRiverEnqueuer(fakeDB{tx}, &fakeBatches{err: errors.New("duplicate batch")}, jobs)

		require.Error(t, e.EnqueueFile(context.Background(), b, req))
		assert.True(t, tx.rolledBack)
		assert.Empty(t, jobs.args)
	})
}
