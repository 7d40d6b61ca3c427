package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"dsr.gov.ph/registry/internal/domain"
)

// PolicyRepository persists retention policies.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository creates a PolicyRepository on pool.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// ListPolicies returns every policy ordered by entity type.
func (r *PolicyRepository) ListPolicies(ctx context.Context) ([]domain.RetentionPolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_type, retention_days, auto_archive_enabled, updated_at
		FROM retention_policies ORDER BY entity_type`)
	if err != nil {
		return nil, mapError(err, "list retention policies")
	}
	defer rows.Close()

	var out []domain.RetentionPolicy
	for rows.Next() {
		var p domain.RetentionPolicy
		var entityType string
		if err := rows.Scan(&entityType, &p.RetentionDays, &p.AutoArchiveEnabled, &p.UpdatedAt); err != nil {
			return nil, mapError(err, "scan retention policy")
		}
		p.EntityType = domain.EntityType(entityType)
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	return out, mapError(rows.Err(), "list retention policies")
}

// SavePolicy upserts a policy.
func (r *PolicyRepository) SavePolicy(ctx context.Context, p domain.RetentionPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO retention_policies (entity_type, retention_days, auto_archive_enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type) DO UPDATE SET
			retention_days       = EXCLUDED.retention_days,
			auto_archive_enabled = EXCLUDED.auto_archive_enabled,
			updated_at           = EXCLUDED.updated_at`,
		string(p.EntityType), p.RetentionDays, p.AutoArchiveEnabled, p.UpdatedAt)
	return mapError(err, "save retention policy "+string(p.EntityType))
}
