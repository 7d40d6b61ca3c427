package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"dsr.gov.ph/registry/internal/domain"
)

// PolicyRepository keeps retention policies in memory.
type PolicyRepository struct {
	mu       sync.Mutex
	policies map[domain.EntityType]domain.RetentionPolicy
}

// NewPolicyRepository creates a repository seeded with policies.
func NewPolicyRepository(seed ...domain.RetentionPolicy) *PolicyRepository {
	r := &PolicyRepository{policies: make(map[domain.EntityType]domain.RetentionPolicy)}
	for _, p := range seed {
		r.policies[p.EntityType] = p
	}
	return r
}

// ListPolicies returns every policy ordered by entity type.
func (r *PolicyRepository) ListPolicies(_ context.Context) ([]domain.RetentionPolicy, error) {
	r.mu.Lock()
	out := make([]domain.RetentionPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.RetentionPolicy) int {
		return strings.Compare(string(a.EntityType), string(b.EntityType))
	})
	return out, nil
}

// SavePolicy upserts a policy.
func (r *PolicyRepository) SavePolicy(_ context.Context, p domain.RetentionPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.EntityType] = p
	return nil
}
