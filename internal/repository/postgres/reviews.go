package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

var reviewColumns = []string{
	"id", "batch_id", "source_system", "data_type", "payload", "candidates", "status",
	"submitted_by", "created_at", "resolved_at", "resolved_by", "entity_id",
}

// ReviewQueue stores MERGE records awaiting adjudication.
type ReviewQueue struct {
	pool *pgxpool.Pool
}

// NewReviewQueue creates a ReviewQueue on pool.
func NewReviewQueue(pool *pgxpool.Pool) *ReviewQueue {
	return &ReviewQueue{pool: pool}
}

// Enqueue stores a PENDING item. An empty ID is assigned.
func (q *ReviewQueue) Enqueue(ctx context.Context, it *domain.ReviewItem) error {
	if it.ID == "" {
		it.ID = newID()
	}
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return fmt.Errorf("encode review payload: %w", err)
	}
	candidates := it.Candidates
	if candidates == nil {
		candidates = []domain.MatchCandidate{}
	}
	cands, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encode review candidates: %w", err)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("review_queue")
	ib.Cols(reviewColumns...)
	ib.Values(
		it.ID, it.BatchID, it.SourceSystem, string(it.DataType), payload, cands, string(it.Status),
		it.SubmittedBy, it.CreatedAt, it.ResolvedAt, it.ResolvedBy, it.EntityID,
	)
	query, args := ib.Build()
	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return mapError(err, "enqueue review item "+it.ID)
	}
	return nil
}

// FindReview loads one item.
func (q *ReviewQueue) FindReview(ctx context.Context, id string) (*domain.ReviewItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(reviewColumns...).From("review_queue").Where(sb.Equal("id", id))
	query, args := sb.Build()
	it, err := scanReview(q.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "review item "+id)
	}
	return it, nil
}

// ListReviews returns items with status (all when empty), oldest first.
func (q *ReviewQueue) ListReviews(ctx context.Context, status domain.ReviewStatus, limit int) ([]*domain.ReviewItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(reviewColumns...).From("review_queue")
	if status != "" {
		sb.Where(sb.Equal("status", string(status)))
	}
	sb.OrderBy("created_at", "id")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list review items")
	}
	defer rows.Close()

	var out []*domain.ReviewItem
	for rows.Next() {
		it, err := scanReview(rows)
		if err != nil {
			return nil, mapError(err, "scan review item")
		}
		out = append(out, it)
	}
	return out, mapError(rows.Err(), "list review items")
}

// ResolveReview closes a PENDING item.
func (q *ReviewQueue) ResolveReview(ctx context.Context, id string, status domain.ReviewStatus, by, entityID string, at time.Time) (*domain.ReviewItem, error) {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("review_queue")
	sb.Set(
		sb.Assign("status", string(status)),
		sb.Assign("resolved_at", at),
		sb.Assign("resolved_by", by),
		sb.Assign("entity_id", entityID),
	)
	sb.Where(sb.Equal("id", id), sb.Equal("status", string(domain.ReviewPending)))
	query, args := sb.Build()
	query += " RETURNING " + strings.Join(reviewColumns, ", ")

	it, err := scanReview(q.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := q.FindReview(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("review item %s is %s: %w", id, current.Status, apperrors.ErrConflict)
	}
	if err != nil {
		return nil, mapError(err, "resolve review item "+id)
	}
	return it, nil
}

func scanReview(row pgx.Row) (*domain.ReviewItem, error) {
	var (
		it               domain.ReviewItem
		dataType, status string
		payload, cands   []byte
	)
	err := row.Scan(
		&it.ID, &it.BatchID, &it.SourceSystem, &dataType, &payload, &cands, &status,
		&it.SubmittedBy, &it.CreatedAt, &it.ResolvedAt, &it.ResolvedBy, &it.EntityID,
	)
	if err != nil {
		return nil, err
	}
	it.DataType = domain.DataType(dataType)
	it.Status = domain.ReviewStatus(status)
	if err := json.Unmarshal(payload, &it.Payload); err != nil {
		return nil, fmt.Errorf("decode review payload: %w", err)
	}
	if err := json.Unmarshal(cands, &it.Candidates); err != nil {
		return nil, fmt.Errorf("decode review candidates: %w", err)
	}
	it.CreatedAt = it.CreatedAt.UTC()
	return &it, nil
}
