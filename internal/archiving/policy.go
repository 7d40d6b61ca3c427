package archiving

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"dsr.gov.ph/registry/internal/domain"
)

// PolicyRepository persists retention policies.
type PolicyRepository interface {
	ListPolicies(ctx context.Context) ([]domain.RetentionPolicy, error)
	SavePolicy(ctx context.Context, p domain.RetentionPolicy) error
}

// PolicyStore holds the retention policy per entity type. Reads are served
// from memory; writes go through the repository first when one is set.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[domain.EntityType]domain.RetentionPolicy
	repo     PolicyRepository
	now      func() time.Time
}

// NewPolicyStore creates an empty store backed by repo, which may be nil.
func NewPolicyStore(repo PolicyRepository) *PolicyStore {
	return &PolicyStore{
		policies: make(map[domain.EntityType]domain.RetentionPolicy),
		repo:     repo,
		now:      time.Now,
	}
}

// Load replaces the in-memory policies with the repository's.
func (s *PolicyStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	list, err := s.repo.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load retention policies: %w", err)
	}
	loaded := make(map[domain.EntityType]domain.RetentionPolicy, len(list))
	for _, p := range list {
		loaded[p.EntityType] = p
	}

	s.mu.Lock()
	s.policies = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the policy for t.
func (s *PolicyStore) Get(t domain.EntityType) (domain.RetentionPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[t]
	return p, ok
}

// List returns every policy ordered by entity type.
func (s *PolicyStore) List() []domain.RetentionPolicy {
	s.mu.RLock()
	out := make([]domain.RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.RetentionPolicy) int {
		return strings.Compare(string(a.EntityType), string(b.EntityType))
	})
	return out
}

// Len returns the number of configured policies.
func (s *PolicyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// Configure creates or replaces the policy for p.EntityType. Nothing is
// archived as a side effect.
func (s *PolicyStore) Configure(ctx context.Context, p domain.RetentionPolicy) (domain.RetentionPolicy, error) {
	p.UpdatedAt = s.now().UTC()

	// Hold the write lock across the save so concurrent updates of one type
	// land in memory in the order they were persisted.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		if err := s.repo.SavePolicy(ctx, p); err != nil {
			return domain.RetentionPolicy{}, fmt.Errorf("save retention policy %s: %w", p.EntityType, err)
		}
	}
	s.policies[p.EntityType] = p
	return p, nil
}
