package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

func copyArchive(a *domain.ArchivedRecord) *domain.ArchivedRecord {
	c := *a
	c.Snapshot = slices.Clone(a.Snapshot)
	if a.RetentionUntil != nil {
		t := *a.RetentionUntil
		c.RetentionUntil = &t
	}
	if a.RestoredAt != nil {
		t := *a.RestoredAt
		c.RestoredAt = &t
	}
	return &c
}

// LoadSnapshot returns the active entity in archivable form.
func (r *Registry) LoadSnapshot(_ context.Context, t domain.EntityType, id string) (*domain.EntitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch t {
	case domain.EntityHousehold:
		h, err := r.householdWithMembers(id)
		if err != nil {
			return nil, err
		}
		return &domain.EntitySnapshot{EntityType: t, Household: h}, nil
	case domain.EntityHouseholdMember:
		m, ok := r.members[id]
		if !ok {
			return nil, fmt.Errorf("member %s: %w", id, apperrors.ErrNotFound)
		}
		c := *m
		return &domain.EntitySnapshot{EntityType: t, Member: &c}, nil
	}
	return nil, fmt.Errorf("entity type %s: %w", t, apperrors.ErrBadRequest)
}

// ListOlderThan pages through entities created before cutoff in id order,
// starting after afterID.
func (r *Registry) ListOlderThan(_ context.Context, t domain.EntityType, cutoff time.Time, afterID string, limit int) ([]domain.EntityRef, error) {
	r.mu.RLock()
	var refs []domain.EntityRef
	switch t {
	case domain.EntityHousehold:
		for id, h := range r.households {
			if h.CreatedAt.Before(cutoff) && id > afterID {
				refs = append(refs, domain.EntityRef{ID: id, Type: t, CreatedAt: h.CreatedAt})
			}
		}
	case domain.EntityHouseholdMember:
		for id, m := range r.members {
			if m.CreatedAt.Before(cutoff) && id > afterID {
				refs = append(refs, domain.EntityRef{ID: id, Type: t, CreatedAt: m.CreatedAt})
			}
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(refs, func(a, b domain.EntityRef) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (r *Registry) activeArchive(t domain.EntityType, id string) *domain.ArchivedRecord {
	for _, a := range r.archives {
		if a.EntityType == t && a.EntityID == id && a.Status == domain.ArchiveActive {
			return a
		}
	}
	return nil
}

// IsArchived reports whether an ACTIVE archive exists for the entity.
func (r *Registry) IsArchived(_ context.Context, t domain.EntityType, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeArchive(t, id) != nil, nil
}

// ArchiveEntity stores rec and removes the active entity atomically. A
// household takes its members with it; cascade must hold one record per
// member.
func (r *Registry) ArchiveEntity(_ context.Context, rec *domain.ArchivedRecord, cascade ...*domain.ArchivedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeArchive(rec.EntityType, rec.EntityID) != nil {
		return fmt.Errorf("archive %s %s: %w", rec.EntityType, rec.EntityID, apperrors.ErrAlreadyExists)
	}
	switch rec.EntityType {
	case domain.EntityHousehold:
		if _, ok := r.households[rec.EntityID]; !ok {
			return fmt.Errorf("household %s: %w", rec.EntityID, apperrors.ErrNotFound)
		}
		var members []string
		for id, m := range r.members {
			if m.HouseholdID == rec.EntityID {
				members = append(members, id)
			}
		}
		if err := checkCascade(rec.EntityID, members, cascade); err != nil {
			return err
		}
		for _, id := range members {
			delete(r.members, id)
			delete(r.keys, id)
		}
		for _, c := range cascade {
			r.archives[c.ArchiveID] = copyArchive(c)
		}
		delete(r.households, rec.EntityID)
	case domain.EntityHouseholdMember:
		if _, ok := r.members[rec.EntityID]; !ok {
			return fmt.Errorf("member %s: %w", rec.EntityID, apperrors.ErrNotFound)
		}
		delete(r.members, rec.EntityID)
	default:
		return fmt.Errorf("entity type %s: %w", rec.EntityType, apperrors.ErrBadRequest)
	}
	delete(r.keys, rec.EntityID)
	r.archives[rec.ArchiveID] = copyArchive(rec)
	return nil
}

// checkCascade fails when the member records do not match the household's
// current members one for one.
func checkCascade(householdID string, members []string, cascade []*domain.ArchivedRecord) error {
	if len(members) != len(cascade) {
		return fmt.Errorf("household %s has %d members, got %d member archives: %w",
			householdID, len(members), len(cascade), apperrors.ErrConflict)
	}
	for _, c := range cascade {
		if c.EntityType != domain.EntityHouseholdMember || !slices.Contains(members, c.EntityID) {
			return fmt.Errorf("household %s: unexpected member archive for %s: %w",
				householdID, c.EntityID, apperrors.ErrConflict)
		}
	}
	return nil
}

// FindArchive loads an archive record by id.
func (r *Registry) FindArchive(_ context.Context, archiveID string) (*domain.ArchivedRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.archives[archiveID]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", archiveID, apperrors.ErrNotFound)
	}
	return copyArchive(a), nil
}

// RestoreEntity re-inserts the snapshot and marks the archive RESTORED
// atomically, together with any member archives it cascaded to. Nothing
// changes if any insert fails.
func (r *Registry) RestoreEntity(_ context.Context, archiveID string, snap *domain.EntitySnapshot, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.archives[archiveID]
	if !ok {
		return fmt.Errorf("archive %s: %w", archiveID, apperrors.ErrNotFound)
	}
	if a.Status != domain.ArchiveActive {
		return fmt.Errorf("archive %s is %s: %w", archiveID, a.Status, apperrors.ErrConflict)
	}

	switch {
	case snap.Household != nil:
		if err := r.insertHousehold(snap.Household); err != nil {
			return err
		}
		for i := range snap.Household.Members {
			if err := r.insertMember(&snap.Household.Members[i]); err != nil {
				r.rollbackHousehold(snap.Household)
				return err
			}
		}
	case snap.Member != nil:
		if err := r.insertMember(snap.Member); err != nil {
			return err
		}
	default:
		return fmt.Errorf("archive %s has an empty snapshot: %w", archiveID, apperrors.ErrBadRequest)
	}

	for _, other := range r.archives {
		if other.ParentArchiveID == archiveID && other.Status == domain.ArchiveActive {
			markRestored(other, at)
		}
	}
	markRestored(a, at)
	return nil
}

func markRestored(a *domain.ArchivedRecord, at time.Time) {
	a.Status = domain.ArchiveRestored
	a.RestoredAt = &at
}

func (r *Registry) rollbackHousehold(h *domain.Household) {
	for _, m := range h.Members {
		delete(r.members, m.ID)
		delete(r.keys, m.ID)
	}
	delete(r.households, h.ID)
	delete(r.keys, h.ID)
}

// ListArchives returns ACTIVE archives matching f, newest first.
func (r *Registry) ListArchives(_ context.Context, f domain.ArchiveFilter) ([]*domain.ArchivedRecord, error) {
	r.mu.RLock()
	var out []*domain.ArchivedRecord
	for _, a := range r.archives {
		if a.Status != domain.ArchiveActive {
			continue
		}
		if f.EntityType != nil && a.EntityType != *f.EntityType {
			continue
		}
		if f.From != nil && a.ArchivedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.ArchivedAt.After(*f.To) {
			continue
		}
		out = append(out, copyArchive(a))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.ArchivedRecord) int {
		if c := b.ArchivedAt.Compare(a.ArchivedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ArchiveID, b.ArchiveID)
	})
	return page(out, 0, f.Limit), nil
}

// ArchiveStatistics counts archives by status. RetentionPoliciesCount is
// left for the caller.
func (r *Registry) ArchiveStatistics(_ context.Context) (domain.ArchivingStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st domain.ArchivingStatistics
	for _, a := range r.archives {
		st.TotalArchived++
		switch a.Status {
		case domain.ArchiveRestored:
			st.TotalRestored++
		case domain.ArchiveActive:
			st.CurrentArchivedCount++
		}
		if st.LastArchiveDate == nil || a.ArchivedAt.After(*st.LastArchiveDate) {
			t := a.ArchivedAt
			st.LastArchiveDate = &t
		}
	}
	return st, nil
}
