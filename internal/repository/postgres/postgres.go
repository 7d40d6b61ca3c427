// Package postgres implements the registry stores on PostgreSQL through a
// shared pgxpool. Multi-row changes (archive, restore, household cascade)
// run in a single transaction.
//
// Import Path: dsr.gov.ph/registry/internal/repository/postgres
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

const pgForeignKeyViolation = "23503"

// querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// mapError translates driver errors into the application sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case apperrors.IsUniqueViolation(err):
			return fmt.Errorf("%s (%s): %w", what, pgErr.ConstraintName, apperrors.ErrAlreadyExists)
		case pgErr.Code == pgForeignKeyViolation:
			return fmt.Errorf("%s (%s): %w", what, pgErr.ConstraintName, apperrors.ErrParentMissing)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
