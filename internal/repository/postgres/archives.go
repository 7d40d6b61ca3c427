package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

var archiveColumns = []string{
	"archive_id", "entity_id", "entity_type", "archived_at", "reason", "snapshot", "checksum",
	"retention_until", "status", "restored_at", "archived_by", "parent_archive_id",
}

func entityTable(t domain.EntityType) (string, error) {
	switch t {
	case domain.EntityHousehold:
		return "households", nil
	case domain.EntityHouseholdMember:
		return "household_members", nil
	}
	return "", fmt.Errorf("entity type %s: %w", t, apperrors.ErrBadRequest)
}

// LoadSnapshot returns the active entity in archivable form.
func (r *Registry) LoadSnapshot(ctx context.Context, t domain.EntityType, id string) (*domain.EntitySnapshot, error) {
	switch t {
	case domain.EntityHousehold:
		h, err := r.Household(ctx, id)
		if err != nil {
			return nil, err
		}
		return &domain.EntitySnapshot{EntityType: t, Household: h}, nil
	case domain.EntityHouseholdMember:
		m, err := r.Member(ctx, id)
		if err != nil {
			return nil, err
		}
		return &domain.EntitySnapshot{EntityType: t, Member: m}, nil
	}
	return nil, fmt.Errorf("entity type %s: %w", t, apperrors.ErrBadRequest)
}

// ListOlderThan pages through entities created before cutoff in id order,
// starting after afterID.
func (r *Registry) ListOlderThan(ctx context.Context, t domain.EntityType, cutoff time.Time, afterID string, limit int) ([]domain.EntityRef, error) {
	table, err := entityTable(t)
	if err != nil {
		return nil, err
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "created_at").From(table)
	sb.Where(sb.LessThan("created_at", cutoff), sb.GreaterThan("id", afterID))
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list "+table+" older than cutoff")
	}
	defer rows.Close()

	var refs []domain.EntityRef
	for rows.Next() {
		ref := domain.EntityRef{Type: t}
		if err := rows.Scan(&ref.ID, &ref.CreatedAt); err != nil {
			return nil, mapError(err, "scan "+table)
		}
		refs = append(refs, ref)
	}
	return refs, mapError(rows.Err(), "list "+table+" older than cutoff")
}

// IsArchived reports whether an ACTIVE archive exists for the entity.
func (r *Registry) IsArchived(ctx context.Context, t domain.EntityType, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM archived_data
			WHERE entity_type = $1 AND entity_id = $2 AND status = $3
		)`, string(t), id, string(domain.ArchiveActive)).Scan(&exists)
	if err != nil {
		return false, mapError(err, "check archive "+id)
	}
	return exists, nil
}

// ArchiveEntity inserts rec and deletes the active entity in one
// transaction. A household takes its members with it; cascade must hold
// one record per member.
func (r *Registry) ArchiveEntity(ctx context.Context, rec *domain.ArchivedRecord, cascade ...*domain.ArchivedRecord) error {
	table, err := entityTable(rec.EntityType)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertArchives(ctx, tx, append([]*domain.ArchivedRecord{rec}, cascade...)); err != nil {
			return mapError(err, fmt.Sprintf("archive %s %s", rec.EntityType, rec.EntityID))
		}

		if rec.EntityType == domain.EntityHousehold {
			if err := deleteCascade(ctx, tx, rec.EntityID, cascade); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, rec.EntityID)
		if err != nil {
			return mapError(err, "delete "+table+" "+rec.EntityID)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s %s: %w", rec.EntityType, rec.EntityID, apperrors.ErrNotFound)
		}
		return nil
	})
}

func insertArchives(ctx context.Context, tx pgx.Tx, recs []*domain.ArchivedRecord) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("archived_data")
	ib.Cols(archiveColumns...)
	for _, rec := range recs {
		ib.Values(
			rec.ArchiveID, rec.EntityID, string(rec.EntityType), rec.ArchivedAt, rec.Reason, rec.Snapshot,
			rec.Checksum, rec.RetentionUntil, string(rec.Status), rec.RestoredAt, rec.ArchivedBy, rec.ParentArchiveID,
		)
	}
	query, args := ib.Build()
	_, err := tx.Exec(ctx, query, args...)
	return err
}

// deleteCascade removes the household's members and fails when they do not
// match the member archive records one for one.
func deleteCascade(ctx context.Context, tx pgx.Tx, householdID string, cascade []*domain.ArchivedRecord) error {
	rows, err := tx.Query(ctx, `DELETE FROM household_members WHERE household_id = $1 RETURNING id`, householdID)
	if err != nil {
		return mapError(err, "delete members of household "+householdID)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return mapError(err, "delete members of household "+householdID)
	}
	if len(deleted) != len(cascade) {
		return fmt.Errorf("household %s has %d members, got %d member archives: %w",
			householdID, len(deleted), len(cascade), apperrors.ErrConflict)
	}
	for _, c := range cascade {
		if c.EntityType != domain.EntityHouseholdMember || !slices.Contains(deleted, c.EntityID) {
			return fmt.Errorf("household %s: unexpected member archive for %s: %w",
				householdID, c.EntityID, apperrors.ErrConflict)
		}
	}
	return nil
}

// FindArchive loads an archive record by id.
func (r *Registry) FindArchive(ctx context.Context, archiveID string) (*domain.ArchivedRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(archiveColumns...).From("archived_data").Where(sb.Equal("archive_id", archiveID))
	query, args := sb.Build()
	a, err := scanArchive(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "archive "+archiveID)
	}
	return a, nil
}

// RestoreEntity re-inserts the snapshot and marks the archive RESTORED in
// one transaction, together with any member archives it cascaded to.
func (r *Registry) RestoreEntity(ctx context.Context, archiveID string, snap *domain.EntitySnapshot, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM archived_data WHERE archive_id = $1 FOR UPDATE`, archiveID).Scan(&status)
		if err != nil {
			return mapError(err, "archive "+archiveID)
		}
		if domain.ArchiveStatus(status) != domain.ArchiveActive {
			return fmt.Errorf("archive %s is %s: %w", archiveID, status, apperrors.ErrConflict)
		}

		switch {
		case snap.Household != nil:
			if err := insertHousehold(ctx, tx, snap.Household); err != nil {
				return err
			}
			for i := range snap.Household.Members {
				if err := insertMember(ctx, tx, &snap.Household.Members[i]); err != nil {
					return err
				}
			}
		case snap.Member != nil:
			if err := insertMember(ctx, tx, snap.Member); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive %s has an empty snapshot: %w", archiveID, apperrors.ErrBadRequest)
		}

		_, err = tx.Exec(ctx, `
			UPDATE archived_data SET status = $2, restored_at = $3
			WHERE archive_id = $1 OR (parent_archive_id = $1 AND status = $4)`,
			archiveID, string(domain.ArchiveRestored), at, string(domain.ArchiveActive))
		return mapError(err, "mark archive restored "+archiveID)
	})
}

// ListArchives returns ACTIVE archives matching f, newest first.
func (r *Registry) ListArchives(ctx context.Context, f domain.ArchiveFilter) ([]*domain.ArchivedRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(archiveColumns...).From("archived_data")
	where := []string{sb.Equal("status", string(domain.ArchiveActive))}
	if f.EntityType != nil {
		where = append(where, sb.Equal("entity_type", string(*f.EntityType)))
	}
	if f.From != nil {
		where = append(where, sb.GreaterEqualThan("archived_at", *f.From))
	}
	if f.To != nil {
		where = append(where, sb.LessEqualThan("archived_at", *f.To))
	}
	sb.Where(where...)
	sb.OrderBy("archived_at DESC", "archive_id")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	query, args := sb.Build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list archives")
	}
	defer rows.Close()

	var out []*domain.ArchivedRecord
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, mapError(err, "scan archive")
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err(), "list archives")
}

// ArchiveStatistics counts archives by status. RetentionPoliciesCount is
// left for the caller.
func (r *Registry) ArchiveStatistics(ctx context.Context) (domain.ArchivingStatistics, error) {
	var (
		st                       domain.ArchivingStatistics
		total, restored, current int64
		last                     *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $1),
		       count(*) FILTER (WHERE status = $2),
		       max(archived_at)
		FROM archived_data`,
		string(domain.ArchiveRestored), string(domain.ArchiveActive)).
		Scan(&total, &restored, &current, &last)
	if err != nil {
		return st, mapError(err, "archive statistics")
	}
	st.TotalArchived, st.TotalRestored, st.CurrentArchivedCount = int(total), int(restored), int(current)
	if last != nil {
		t := last.UTC()
		st.LastArchiveDate = &t
	}
	return st, nil
}

func scanArchive(row pgx.Row) (*domain.ArchivedRecord, error) {
	var (
		a                  domain.ArchivedRecord
		entityType, status string
	)
	err := row.Scan(
		&a.ArchiveID, &a.EntityID, &entityType, &a.ArchivedAt, &a.Reason, &a.Snapshot, &a.Checksum,
		&a.RetentionUntil, &status, &a.RestoredAt, &a.ArchivedBy, &a.ParentArchiveID,
	)
	if err != nil {
		return nil, err
	}
	a.EntityType = domain.EntityType(entityType)
	a.Status = domain.ArchiveStatus(status)
	a.ArchivedAt = a.ArchivedAt.UTC()
	return &a, nil
}
