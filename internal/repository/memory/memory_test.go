package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/repository"
)

func household(number string) repository.PersistRequest {
	return repository.PersistRequest{
		DataType: domain.DataTypeHousehold,
		BatchID:  "B1",
		Payload: domain.Payload{
			{Name: "householdNumber", Value: number},
			{Name: "headOfHouseholdName", Value: "Ana Reyes"},
			{Name: "barangay", Value: "San Jose"},
			{Name: "totalMembers", Value: int64(3)},
		},
	}
}

func member(psn, first, householdNumber string) repository.PersistRequest {
	return repository.PersistRequest{
		DataType: domain.DataTypeIndividual,
		BatchID:  "B1",
		Payload: domain.Payload{
			{Name: "psn", Value: psn},
			{Name: "firstName", Value: first},
			{Name: "lastName", Value: "Reyes"},
			{Name: "dateOfBirth", Value: "1990-05-15"},
			{Name: "householdNumber", Value: householdNumber},
		},
	}
}

func TestRegistry_PersistUniqueness(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	hhID, err := r.Persist(ctx, household("HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, household("hh-0001"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	m1, err := r.Persist(ctx, member("1234-5678-9012", "Ana", "HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("123456789012", "Anna", ""))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := r.Member(ctx, m1)
	require.NoError(t, err)
	assert.Equal(t, hhID, got.HouseholdID)
	require.NotNil(t, got.BirthDate)

	_, err = r.Persist(ctx, repository.PersistRequest{DataType: domain.DataTypeHousehold, Payload: domain.Payload{}})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestRegistry_FindCandidatesByBlockingKey(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	id, err := r.Persist(ctx, member("1234-5678-9012", "Ana", ""))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("9999-8888-7777", "Zed", ""))
	require.NoError(t, err)

	keys := dedup.BlockingKeys(domain.DataTypeIndividual, domain.Payload{{Name: "psn", Value: "123456789012"}})
	got, err := r.FindCandidates(ctx, domain.DataTypeIndividual, keys, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].EntityID)
	assert.Equal(t, "psn:123456789012", got[0].BlockingKey)
	assert.Equal(t, "Ana", got[0].Fields.String("firstName"))

	none, err := r.FindCandidates(ctx, domain.DataTypeHousehold, keys, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func memberArchives(parentID string, h *domain.Household) []*domain.ArchivedRecord {
	var out []*domain.ArchivedRecord
	for i, m := range h.Members {
		out = append(out, &domain.ArchivedRecord{
			ArchiveID:       fmt.Sprintf("%s-m%d", parentID, i),
			EntityID:        m.ID,
			EntityType:      domain.EntityHouseholdMember,
			ArchivedAt:      time.Now(),
			Status:          domain.ArchiveActive,
			ParentArchiveID: parentID,
		})
	}
	return out
}

func TestRegistry_ArchiveAndRestoreHousehold(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	hhID, err := r.Persist(ctx, household("HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("1234-5678-9012", "Ana", "HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("1234-5678-9013", "Ben", "HH-0001"))
	require.NoError(t, err)

	snap, err := r.LoadSnapshot(ctx, domain.EntityHousehold, hhID)
	require.NoError(t, err)
	require.Len(t, snap.Household.Members, 2)

	rec := &domain.ArchivedRecord{
		ArchiveID:  "a-1",
		EntityID:   hhID,
		EntityType: domain.EntityHousehold,
		ArchivedAt: time.Now(),
		Status:     domain.ArchiveActive,
	}
	cascade := memberArchives("a-1", snap.Household)
	assert.ErrorIs(t, r.ArchiveEntity(ctx, rec, cascade[:1]...), apperrors.ErrConflict)
	h, m, _ := r.Counts()
	assert.Equal(t, 1, h, "a short member list archives nothing")
	assert.Equal(t, 2, m)

	require.NoError(t, r.ArchiveEntity(ctx, rec, cascade...))
	h, m, _ = r.Counts()
	assert.Zero(t, h)
	assert.Zero(t, m, "members go with their household")

	archived, err := r.IsArchived(ctx, domain.EntityHousehold, hhID)
	require.NoError(t, err)
	assert.True(t, archived)
	for _, c := range cascade {
		archived, err := r.IsArchived(ctx, domain.EntityHouseholdMember, c.EntityID)
		require.NoError(t, err)
		assert.True(t, archived)
	}
	assert.ErrorIs(t, r.ArchiveEntity(ctx, rec), apperrors.ErrAlreadyExists)

	require.NoError(t, r.RestoreEntity(ctx, "a-1", snap, time.Now()))
	h, m, _ = r.Counts()
	assert.Equal(t, 1, h)
	assert.Equal(t, 2, m)

	got, err := r.FindArchive(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveRestored, got.Status)
	assert.NotNil(t, got.RestoredAt)
	assert.ErrorIs(t, r.RestoreEntity(ctx, "a-1", snap, time.Now()), apperrors.ErrConflict)
	child, err := r.FindArchive(ctx, "a-1-m0")
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveRestored, child.Status)

	st, err := r.ArchiveStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalArchived)
	assert.Equal(t, 3, st.TotalRestored)
	assert.Zero(t, st.CurrentArchivedCount)
}

func TestRegistry_RestoreMemberWithoutHousehold(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	hhID, err := r.Persist(ctx, household("HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("1234-5678-9012", "Ana", "HH-0001"))
	require.NoError(t, err)
	snap, err := r.LoadSnapshot(ctx, domain.EntityHousehold, hhID)
	require.NoError(t, err)

	cascade := memberArchives("a-1", snap.Household)
	require.NoError(t, r.ArchiveEntity(ctx, &domain.ArchivedRecord{
		ArchiveID: "a-1", EntityID: hhID, EntityType: domain.EntityHousehold, Status: domain.ArchiveActive,
	}, cascade...))

	m := snap.Household.Members[0]
	err = r.RestoreEntity(ctx, "a-1-m0", &domain.EntitySnapshot{EntityType: domain.EntityHouseholdMember, Member: &m}, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrParentMissing)
	got, err := r.FindArchive(ctx, "a-1-m0")
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveActive, got.Status)
}

func TestRegistry_RestoreConflictLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	hhID, err := r.Persist(ctx, household("HH-0001"))
	require.NoError(t, err)
	_, err = r.Persist(ctx, member("1234-5678-9012", "Ana", "HH-0001"))
	require.NoError(t, err)
	snap, err := r.LoadSnapshot(ctx, domain.EntityHousehold, hhID)
	require.NoError(t, err)

	require.NoError(t, r.ArchiveEntity(ctx, &domain.ArchivedRecord{
		ArchiveID: "a-1", EntityID: hhID, EntityType: domain.EntityHousehold, Status: domain.ArchiveActive,
	}, memberArchives("a-1", snap.Household)...))
	// The PSN was re-ingested while the household was archived.
	_, err = r.Persist(ctx, member("1234-5678-9012", "Ana", ""))
	require.NoError(t, err)

	err = r.RestoreEntity(ctx, "a-1", snap, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	h, m, _ := r.Counts()
	assert.Zero(t, h)
	assert.Equal(t, 1, m)

	got, err := r.FindArchive(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveActive, got.Status)
}

func TestRegistry_ListOlderThanPages(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	old := time.Now().AddDate(-10, 0, 0)
	var ids []string
	for _, n := range []string{"HH-1", "HH-2", "HH-3"} {
		id, err := r.Persist(ctx, household(n))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	r.SetCreatedAt(ids[0], old)
	r.SetCreatedAt(ids[2], old)

	cutoff := time.Now().AddDate(-7, 0, 0)
	first, err := r.ListOlderThan(ctx, domain.EntityHousehold, cutoff, "", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	rest, err := r.ListOlderThan(ctx, domain.EntityHousehold, cutoff, first[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, []string{first[0].ID, rest[0].ID})
}

func TestBatchStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewBatchStore()
	b := &domain.IngestionBatch{ID: "id-1", BatchID: "B1", SourceSystem: "LISTAHANAN", Status: domain.StatusReceived, TotalRecords: 100}
	require.NoError(t, s.Create(ctx, b))
	assert.ErrorIs(t, s.Create(ctx, b), apperrors.ErrAlreadyExists)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementCounters(ctx, "B1", domain.CounterDelta{Successful: 1}))
		}()
	}
	wg.Wait()
	require.NoError(t, s.IncrementCounters(ctx, "B1", domain.CounterDelta{Failed: 2, Duplicate: 1}))
	require.NoError(t, s.SetStatus(ctx, "B1", domain.StatusPersisting))

	done, err := s.Finalize(ctx, "B1", batch.Finalization{Status: domain.StatusPartial, ProcessingTimeMs: 40, CompletedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 52, done.TotalRecords)
	assert.Equal(t, 50, done.SuccessfulRecords)
	assert.Equal(t, 1, done.DuplicateRecords)

	_, err = s.Finalize(ctx, "B1", batch.Finalization{Status: domain.StatusSuccess})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.ErrorIs(t, s.IncrementCounters(ctx, "B1", domain.CounterDelta{Successful: 1}), apperrors.ErrConflict)

	byID, err := s.FindByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, byID.Status)
	_, err = s.FindByBatchID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBatchStore_AggregateAndList(t *testing.T) {
	ctx := context.Background()
	s := NewBatchStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, src := range []string{"LISTAHANAN", "I_REGISTRO", "LISTAHANAN"} {
		b := &domain.IngestionBatch{
			ID: src + string(rune('a'+i)), BatchID: string(rune('A' + i)), SourceSystem: src,
			Status: domain.StatusReceived, SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.Create(ctx, b))
		require.NoError(t, s.IncrementCounters(ctx, b.BatchID, domain.CounterDelta{Successful: 2, Failed: i}))
	}
	_, err := s.Finalize(ctx, "A", batch.Finalization{Status: domain.StatusSuccess, ProcessingTimeMs: 100, CompletedAt: base})
	require.NoError(t, err)
	_, err = s.Finalize(ctx, "B", batch.Finalization{Status: domain.StatusPartial, ProcessingTimeMs: 300, CompletedAt: base})
	require.NoError(t, err)

	st, err := s.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalBatches)
	assert.Equal(t, 6, st.SuccessfulRecords)
	assert.Equal(t, 3, st.FailedRecords)
	assert.Equal(t, 200.0, st.AverageProcessingTimeMs)
	assert.Equal(t, 1, st.ByStatus[domain.StatusReceived])

	list, err := s.List(ctx, domain.BatchFilter{SourceSystem: "LISTAHANAN"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C", list[0].BatchID)

	paged, err := s.List(ctx, domain.BatchFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "B", paged[0].BatchID)
}

func TestReviewQueue(t *testing.T) {
	ctx := context.Background()
	q := NewReviewQueue()
	it := &domain.ReviewItem{BatchID: "B1", Status: domain.ReviewPending, CreatedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, it))
	require.NotEmpty(t, it.ID)

	pending, err := q.ListReviews(ctx, domain.ReviewPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got, err := q.ResolveReview(ctx, it.ID, domain.ReviewAccepted, "reviewer", "e-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewAccepted, got.Status)
	assert.Equal(t, "e-1", got.EntityID)

	_, err = q.ResolveReview(ctx, it.ID, domain.ReviewRejected, "reviewer", "", time.Now())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = q.FindReview(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
