package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

const batchTable = "data_ingestion_batches"

var batchColumns = []string{
	"id", "batch_id", "source_system", "data_type", "status",
	"total_records", "successful_records", "failed_records", "duplicate_records", "review_records",
	"processing_time_ms", "file_path", "file_size_bytes", "submitted_by", "submitted_at",
	"completed_at", "error_message",
}

// terminalStatuses guards every mutation: a finalized row never changes.
var terminalStatuses = []string{
	string(domain.StatusSuccess), string(domain.StatusFailed), string(domain.StatusPartial),
	string(domain.StatusValid), string(domain.StatusCompleted),
}

// BatchStore is the PostgreSQL batch.Store.
type BatchStore struct {
	pool *pgxpool.Pool
}

var _ batch.Store = (*BatchStore)(nil)

// NewBatchStore creates a BatchStore on pool.
func NewBatchStore(pool *pgxpool.Pool) *BatchStore {
	return &BatchStore{pool: pool}
}

// Create inserts a new batch row.
func (s *BatchStore) Create(ctx context.Context, b *domain.IngestionBatch) error {
	return insertBatch(ctx, s.pool, b)
}

// CreateTx inserts a new batch row inside tx, so a job referencing the
// batch can be enqueued in the same transaction.
func (s *BatchStore) CreateTx(ctx context.Context, tx pgx.Tx, b *domain.IngestionBatch) error {
	return insertBatch(ctx, tx, b)
}

func insertBatch(ctx context.Context, q querier, b *domain.IngestionBatch) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(batchTable)
	ib.Cols(batchColumns...)
	ib.Values(
		b.ID, b.BatchID, b.SourceSystem, string(b.DataType), string(b.Status),
		b.TotalRecords, b.SuccessfulRecords, b.FailedRecords, b.DuplicateRecords, b.ReviewRecords,
		b.ProcessingTimeMs, b.FilePath, b.FileSizeBytes, b.SubmittedBy, b.SubmittedAt,
		b.CompletedAt, b.ErrorMessage,
	)
	query, args := ib.Build()
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "insert batch "+b.BatchID)
	}
	return nil
}

// IncrementCounters adds d with a single UPDATE so concurrent workers never
// lose increments.
func (s *BatchStore) IncrementCounters(ctx context.Context, batchID string, d domain.CounterDelta) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_ingestion_batches SET
			total_records      = total_records + $2,
			successful_records = successful_records + $3,
			failed_records     = failed_records + $4,
			duplicate_records  = duplicate_records + $5,
			review_records     = review_records + $6
		WHERE batch_id = $1 AND status <> ALL($7)`,
		batchID, d.Total, d.Successful, d.Failed, d.Duplicate, d.Review, terminalStatuses)
	if err != nil {
		return mapError(err, "increment batch "+batchID)
	}
	if tag.RowsAffected() == 0 {
		return s.notRunning(ctx, batchID)
	}
	return nil
}

// SetStatus sets a non-terminal status on a running batch.
func (s *BatchStore) SetStatus(ctx context.Context, batchID string, status domain.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_ingestion_batches SET status = $2 WHERE batch_id = $1 AND status <> ALL($3)`,
		batchID, string(status), terminalStatuses)
	if err != nil {
		return mapError(err, "set batch status "+batchID)
	}
	if tag.RowsAffected() == 0 {
		return s.notRunning(ctx, batchID)
	}
	return nil
}

// Finalize applies the terminal update once and reconciles total_records.
func (s *BatchStore) Finalize(ctx context.Context, batchID string, f batch.Finalization) (*domain.IngestionBatch, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE data_ingestion_batches SET
			status             = $2,
			processing_time_ms = $3,
			error_message      = $4,
			completed_at       = $5,
			total_records      = successful_records + failed_records + review_records
		WHERE batch_id = $1 AND status <> ALL($6)
		RETURNING `+strings.Join(batchColumns, ", "),
		batchID, string(f.Status), f.ProcessingTimeMs, f.ErrorMessage, f.CompletedAt, terminalStatuses)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.notRunning(ctx, batchID)
	}
	if err != nil {
		return nil, mapError(err, "finalize batch "+batchID)
	}
	return b, nil
}

// notRunning explains why a guarded update touched no row.
func (s *BatchStore) notRunning(ctx context.Context, batchID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM data_ingestion_batches WHERE batch_id = $1`, batchID).Scan(&status)
	if err != nil {
		return mapError(err, "batch "+batchID)
	}
	return fmt.Errorf("batch %s is %s: %w", batchID, status, apperrors.ErrConflict)
}

// FindByID looks a batch up by backing id.
func (s *BatchStore) FindByID(ctx context.Context, id string) (*domain.IngestionBatch, error) {
	return s.findOne(ctx, "id", id)
}

// FindByBatchID looks a batch up by external batch id.
func (s *BatchStore) FindByBatchID(ctx context.Context, batchID string) (*domain.IngestionBatch, error) {
	return s.findOne(ctx, "batch_id", batchID)
}

func (s *BatchStore) findOne(ctx context.Context, col, value string) (*domain.IngestionBatch, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(batchColumns...).From(batchTable).Where(sb.Equal(col, value))
	query, args := sb.Build()
	b, err := scanBatch(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "batch "+value)
	}
	return b, nil
}

// Aggregate sums counters over every batch. The average processing time
// only covers finalized batches.
func (s *BatchStore) Aggregate(ctx context.Context) (domain.BatchStatistics, error) {
	st := domain.BatchStatistics{ByStatus: make(map[domain.Status]int)}
	var batches, total, ok, failed, dup, review int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(sum(total_records), 0),
		       coalesce(sum(successful_records), 0),
		       coalesce(sum(failed_records), 0),
		       coalesce(sum(duplicate_records), 0),
		       coalesce(sum(review_records), 0),
		       coalesce(avg(processing_time_ms) FILTER (WHERE completed_at IS NOT NULL), 0)::float8
		FROM data_ingestion_batches`).
		Scan(&batches, &total, &ok, &failed, &dup, &review, &st.AverageProcessingTimeMs)
	if err != nil {
		return st, mapError(err, "aggregate batches")
	}
	st.TotalBatches = int(batches)
	st.TotalRecords = int(total)
	st.SuccessfulRecords = int(ok)
	st.FailedRecords = int(failed)
	st.DuplicateRecords = int(dup)
	st.ReviewRecords = int(review)

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM data_ingestion_batches GROUP BY status`)
	if err != nil {
		return st, mapError(err, "count batches by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return st, mapError(err, "scan batch status count")
		}
		st.ByStatus[domain.Status(status)] = int(n)
	}
	return st, mapError(rows.Err(), "count batches by status")
}

// List filters batches, newest first.
func (s *BatchStore) List(ctx context.Context, f domain.BatchFilter) ([]*domain.IngestionBatch, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(batchColumns...).From(batchTable)
	var where []string
	if f.SourceSystem != "" {
		where = append(where, sb.Equal("source_system", f.SourceSystem))
	}
	if f.Status != "" {
		where = append(where, sb.Equal("status", string(f.Status)))
	}
	if f.From != nil {
		where = append(where, sb.GreaterEqualThan("submitted_at", *f.From))
	}
	if f.To != nil {
		where = append(where, sb.LessEqualThan("submitted_at", *f.To))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("submitted_at DESC", "batch_id DESC")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sb.Offset(f.Offset)
	}

	query, args := sb.Build()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list batches")
	}
	defer rows.Close()

	var out []*domain.IngestionBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, mapError(err, "scan batch")
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err(), "list batches")
}

func scanBatch(row pgx.Row) (*domain.IngestionBatch, error) {
	var (
		b                 domain.IngestionBatch
		dataType, status  string
		total, ok, failed int32
		dup, review       int32
		completedAt       *time.Time
	)
	err := row.Scan(
		&b.ID, &b.BatchID, &b.SourceSystem, &dataType, &status,
		&total, &ok, &failed, &dup, &review,
		&b.ProcessingTimeMs, &b.FilePath, &b.FileSizeBytes, &b.SubmittedBy, &b.SubmittedAt,
		&completedAt, &b.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	b.DataType = domain.DataType(dataType)
	b.Status = domain.Status(status)
	b.TotalRecords, b.SuccessfulRecords, b.FailedRecords = int(total), int(ok), int(failed)
	b.DuplicateRecords, b.ReviewRecords = int(dup), int(review)
	if completedAt != nil {
		t := completedAt.UTC()
		b.CompletedAt = &t
	}
	b.SubmittedAt = b.SubmittedAt.UTC()
	return &b, nil
}
