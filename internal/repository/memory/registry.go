package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/repository"
)

// Registry holds canonical entities and their archives. One mutex covers
// both so archive-and-delete and restore are atomic.
type Registry struct {
	mu         sync.RWMutex
	households map[string]*domain.Household
	members    map[string]*domain.HouseholdMember
	profiles   map[string]*domain.EconomicProfile
	keys       map[string][]string
	archives   map[string]*domain.ArchivedRecord
	now        func() time.Time
}

var _ dedup.CandidateSource = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		households: make(map[string]*domain.Household),
		members:    make(map[string]*domain.HouseholdMember),
		profiles:   make(map[string]*domain.EconomicProfile),
		keys:       make(map[string][]string),
		archives:   make(map[string]*domain.ArchivedRecord),
		now:        time.Now,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Persist writes a cleaned record and returns the new entity id.
// Uniqueness mirrors the SQL constraints: household number, member PSN and
// one economic profile per household.
func (r *Registry) Persist(_ context.Context, req repository.PersistRequest) (string, error) {
	now := r.now().UTC()
	id := newID()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch req.DataType {
	case domain.DataTypeHousehold:
		h, err := repository.HouseholdFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		h.SourceSystem, h.BatchID = req.SourceSystem, req.BatchID
		if err := r.insertHousehold(h); err != nil {
			return "", err
		}
	case domain.DataTypeIndividual:
		m, err := repository.MemberFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		m.SourceSystem, m.BatchID = req.SourceSystem, req.BatchID
		m.HouseholdID = r.resolveHousehold(req.Payload)
		if err := r.insertMember(m); err != nil {
			return "", err
		}
	case domain.DataTypeEconomicProfile:
		e, err := repository.ProfileFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		e.BatchID = req.BatchID
		for _, other := range r.profiles {
			if other.HouseholdID == e.HouseholdID {
				return "", fmt.Errorf("economic profile for %s: %w", e.HouseholdID, apperrors.ErrAlreadyExists)
			}
		}
		r.profiles[id] = e
		r.keys[id] = repository.ProfileKeys(e)
	default:
		return "", fmt.Errorf("persist %s: %w", req.DataType, apperrors.ErrBadRequest)
	}
	return id, nil
}

func (r *Registry) resolveHousehold(p domain.Payload) string {
	if id := p.String("householdId"); id != "" {
		if _, ok := r.households[id]; ok {
			return id
		}
	}
	if number := p.String("householdNumber"); number != "" {
		for id, h := range r.households {
			if strings.EqualFold(h.HouseholdNumber, number) {
				return id
			}
		}
	}
	return ""
}

func (r *Registry) insertHousehold(h *domain.Household) error {
	if _, ok := r.households[h.ID]; ok {
		return fmt.Errorf("household %s: %w", h.ID, apperrors.ErrAlreadyExists)
	}
	for _, other := range r.households {
		if strings.EqualFold(other.HouseholdNumber, h.HouseholdNumber) {
			return fmt.Errorf("household number %s: %w", h.HouseholdNumber, apperrors.ErrAlreadyExists)
		}
	}
	c := *h
	c.Members = nil
	r.households[h.ID] = &c
	r.keys[h.ID] = repository.HouseholdKeys(&c)
	return nil
}

func (r *Registry) insertMember(m *domain.HouseholdMember) error {
	if _, ok := r.members[m.ID]; ok {
		return fmt.Errorf("member %s: %w", m.ID, apperrors.ErrAlreadyExists)
	}
	if psn := psnDigits(m.PSN); psn != "" {
		for _, other := range r.members {
			if psnDigits(other.PSN) == psn {
				return fmt.Errorf("member psn %s: %w", m.PSN, apperrors.ErrAlreadyExists)
			}
		}
	}
	if m.HouseholdID != "" {
		if _, ok := r.households[m.HouseholdID]; !ok {
			return fmt.Errorf("member %s references missing household %s: %w", m.ID, m.HouseholdID, apperrors.ErrParentMissing)
		}
	}
	c := *m
	r.members[m.ID] = &c
	r.keys[m.ID] = repository.MemberKeys(&c)
	return nil
}

func psnDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FindCandidates returns entities of dataType sharing at least one key.
func (r *Registry) FindCandidates(_ context.Context, dataType domain.DataType, keys []string, limit int) ([]dedup.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []dedup.Candidate
	add := func(id string, fields domain.Payload) {
		for _, k := range r.keys[id] {
			if slices.Contains(keys, k) {
				out = append(out, dedup.Candidate{EntityID: id, BlockingKey: k, Fields: fields})
				return
			}
		}
	}
	switch dataType {
	case domain.DataTypeHousehold:
		for id, h := range r.households {
			add(id, repository.HouseholdFields(h))
		}
	case domain.DataTypeIndividual:
		for id, m := range r.members {
			add(id, repository.MemberFields(m))
		}
	case domain.DataTypeEconomicProfile:
		for id, e := range r.profiles {
			add(id, repository.ProfileFields(e))
		}
	}
	slices.SortFunc(out, func(a, b dedup.Candidate) int { return strings.Compare(a.EntityID, b.EntityID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Household returns a household with its members.
func (r *Registry) Household(_ context.Context, id string) (*domain.Household, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.householdWithMembers(id)
}

func (r *Registry) householdWithMembers(id string) (*domain.Household, error) {
	h, ok := r.households[id]
	if !ok {
		return nil, fmt.Errorf("household %s: %w", id, apperrors.ErrNotFound)
	}
	c := *h
	c.Members = nil
	for _, m := range r.members {
		if m.HouseholdID == id {
			c.Members = append(c.Members, *m)
		}
	}
	slices.SortFunc(c.Members, func(a, b domain.HouseholdMember) int { return strings.Compare(a.ID, b.ID) })
	return &c, nil
}

// Member returns one household member.
func (r *Registry) Member(_ context.Context, id string) (*domain.HouseholdMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, apperrors.ErrNotFound)
	}
	c := *m
	return &c, nil
}

// Counts reports how many active entities of each kind exist.
func (r *Registry) Counts() (households, members, profiles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.households), len(r.members), len(r.profiles)
}

// SetCreatedAt backdates an entity, for retention tests and seed data.
func (r *Registry) SetCreatedAt(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.households[id]; ok {
		h.CreatedAt = at
	}
	if m, ok := r.members[id]; ok {
		m.CreatedAt = at
	}
}
