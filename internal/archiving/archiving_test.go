package archiving

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/worker"
	"dsr.gov.ph/registry/internal/repository"
	"dsr.gov.ph/registry/internal/repository/memory"
)

func init() {
	_ = logger.Init("error", "json")
}

func persistMember(t *testing.T, reg *memory.Registry, psn, first, last string) string {
	t.Helper()
	id, err := reg.Persist(context.Background(), repository.PersistRequest{
		DataType: domain.DataTypeIndividual,
		Payload: domain.Payload{
			{Name: "psn", Value: psn},
			{Name: "firstName", Value: first},
			{Name: "lastName", Value: last},
		},
	})
	require.NoError(t, err)
	return id
}

func newArchiver(t *testing.T, cfg Config, policies ...domain.RetentionPolicy) (*Archiver, *memory.Registry) {
	t.Helper()
	reg := memory.NewRegistry()
	store := NewPolicyStore(memory.NewPolicyRepository(policies...))
	require.NoError(t, store.Load(context.Background()))
	return NewService(Deps{Store: reg, Policies: store}, cfg), reg
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	a, reg := newArchiver(t, Config{})
	ctx := context.Background()
	id := persistMember(t, reg, "1234-5678-9012", "Juan", "Cruz")

	archived, err := a.IsEntityArchived(ctx, id, domain.EntityHouseholdMember)
	require.NoError(t, err)
	assert.False(t, archived)

	res := a.ArchiveEntity(ctx, id, domain.EntityHouseholdMember, "Deceased", "officer-7")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.ArchivedCount)
	assert.NotEmpty(t, res.ArchiveID)
	assert.Empty(t, res.Errors)

	archived, err = a.IsEntityArchived(ctx, id, domain.EntityHouseholdMember)
	require.NoError(t, err)
	assert.True(t, archived)
	_, members, _ := reg.Counts()
	assert.Zero(t, members)

	rec, err := reg.FindArchive(ctx, res.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, Checksum(rec.Snapshot), rec.Checksum)
	assert.Equal(t, "officer-7", rec.ArchivedBy)
	require.NotNil(t, rec.RetentionUntil)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 2555), *rec.RetentionUntil, time.Minute)

	again := a.ArchiveEntity(ctx, id, domain.EntityHouseholdMember, "", "")
	assert.False(t, again.Success)
	assert.Equal(t, "Entity is already archived", again.Message)

	restored := a.RestoreArchivedData(ctx, res.ArchiveID)
	require.True(t, restored.Success, restored.Message)
	assert.Equal(t, 1, restored.RestoredCount)

	archived, err = a.IsEntityArchived(ctx, id, domain.EntityHouseholdMember)
	require.NoError(t, err)
	assert.False(t, archived)
	m, err := reg.Member(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Juan", m.FirstName)

	twice := a.RestoreArchivedData(ctx, res.ArchiveID)
	assert.False(t, twice.Success)
	assert.Equal(t, "Archive already restored: "+res.ArchiveID, twice.Message)
}

func persistHousehold(t *testing.T, reg *memory.Registry, number string, memberNames ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	hh, err := reg.Persist(ctx, repository.PersistRequest{
		DataType: domain.DataTypeHousehold,
		Payload: domain.Payload{
			{Name: "householdNumber", Value: number},
			{Name: "headOfHouseholdName", Value: "Ana Reyes"},
		},
	})
	require.NoError(t, err)
	var members []string
	for _, first := range memberNames {
		id, err := reg.Persist(ctx, repository.PersistRequest{
			DataType: domain.DataTypeIndividual,
			Payload: domain.Payload{
				{Name: "firstName", Value: first},
				{Name: "lastName", Value: "Reyes"},
				{Name: "householdNumber", Value: number},
			},
		})
		require.NoError(t, err)
		members = append(members, id)
	}
	return hh, members
}

func TestArchiveHouseholdTakesMembers(t *testing.T) {
	a, reg := newArchiver(t, Config{})
	ctx := context.Background()
	hh, members := persistHousehold(t, reg, "HH-0001", "Ana")
	member := members[0]

	res := a.ArchiveEntity(ctx, hh, domain.EntityHousehold, "", "")
	require.True(t, res.Success, res.Message)
	households, memberCount, _ := reg.Counts()
	assert.Zero(t, households)
	assert.Zero(t, memberCount)

	archived, err := a.IsEntityArchived(ctx, member, domain.EntityHouseholdMember)
	require.NoError(t, err)
	assert.True(t, archived, "a member archived with its household reads as archived")

	memberType := domain.EntityHouseholdMember
	listed, err := a.GetArchivedData(ctx, domain.ArchiveFilter{EntityType: &memberType})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, member, listed[0].EntityID)
	assert.Equal(t, res.ArchiveID, listed[0].ParentArchiveID)
	assert.Equal(t, Checksum(listed[0].Snapshot), listed[0].Checksum)

	restored := a.RestoreArchivedData(ctx, res.ArchiveID)
	require.True(t, restored.Success, restored.Message)
	households, memberCount, _ = reg.Counts()
	assert.Equal(t, 1, households)
	assert.Equal(t, 1, memberCount)

	archived, err = a.IsEntityArchived(ctx, member, domain.EntityHouseholdMember)
	require.NoError(t, err)
	assert.False(t, archived)

	child, err := reg.FindArchive(ctx, listed[0].ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveRestored, child.Status)
	assert.NotNil(t, child.RestoredAt)

	again := a.RestoreArchivedData(ctx, child.ArchiveID)
	assert.False(t, again.Success)
	assert.Equal(t, "Archive already restored: "+child.ArchiveID, again.Message)

	st, err := a.GetArchivingStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalArchived)
	assert.Equal(t, 2, st.TotalRestored)
	assert.Zero(t, st.CurrentArchivedCount)
}

func TestRestoreMember_HouseholdInactive(t *testing.T) {
	ctx := context.Background()

	t.Run("archived with the household", func(t *testing.T) {
		a, reg := newArchiver(t, Config{})
		hh, _ := persistHousehold(t, reg, "HH-0003", "Ana", "Ben")
		require.True(t, a.ArchiveEntity(ctx, hh, domain.EntityHousehold, "", "").Success)

		memberType := domain.EntityHouseholdMember
		listed, err := a.GetArchivedData(ctx, domain.ArchiveFilter{EntityType: &memberType})
		require.NoError(t, err)
		require.Len(t, listed, 2)

		res := a.RestoreArchivedData(ctx, listed[0].ArchiveID)
		assert.False(t, res.Success)
		assert.Equal(t, "Household of member is archived or missing", res.Message)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "HOUSEHOLD_INACTIVE")

		rec, err := reg.FindArchive(ctx, listed[0].ArchiveID)
		require.NoError(t, err)
		assert.Equal(t, domain.ArchiveActive, rec.Status)
		_, members, _ := reg.Counts()
		assert.Zero(t, members)
	})

	t.Run("household archived after the member", func(t *testing.T) {
		a, reg := newArchiver(t, Config{})
		hh, members := persistHousehold(t, reg, "HH-0004", "Ana", "Ben")
		solo := a.ArchiveEntity(ctx, members[0], domain.EntityHouseholdMember, "", "")
		require.True(t, solo.Success)
		require.True(t, a.ArchiveEntity(ctx, hh, domain.EntityHousehold, "", "").Success)

		res := a.RestoreArchivedData(ctx, solo.ArchiveID)
		assert.False(t, res.Success)
		assert.Equal(t, "Household of member is archived or missing", res.Message)

		archived, err := a.IsEntityArchived(ctx, members[0], domain.EntityHouseholdMember)
		require.NoError(t, err)
		assert.True(t, archived)
	})
}

func TestArchiveEntity_Failures(t *testing.T) {
	a, _ := newArchiver(t, Config{})
	ctx := context.Background()

	missing := a.ArchiveEntity(ctx, "nope", domain.EntityHouseholdMember, "", "")
	assert.False(t, missing.Success)
	assert.Equal(t, "Entity not found or could not be archived", missing.Message)
	assert.Equal(t, []string{"Entity not found: nope"}, missing.Errors)

	unsupported := a.ArchiveEntity(ctx, "x", domain.EntityType("ECONOMIC_PROFILE"), "", "")
	assert.False(t, unsupported.Success)
	assert.Contains(t, unsupported.Message, "Unsupported entity type")
}

func TestRestoreArchivedData_UnknownID(t *testing.T) {
	a, _ := newArchiver(t, Config{})

	res := a.RestoreArchivedData(context.Background(), "8d6f3c1e-0000-0000-0000-000000000000")

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.RestoredCount)
	assert.Equal(t, "Archive not found", res.Message)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Archive ID not found")
}

// tamperedStore corrupts snapshots on read.
type tamperedStore struct {
	*memory.Registry
}

func (s tamperedStore) FindArchive(ctx context.Context, id string) (*domain.ArchivedRecord, error) {
	rec, err := s.Registry.FindArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Snapshot = append(rec.Snapshot, ' ')
	return rec, nil
}

func TestRestoreArchivedData_ChecksumMismatch(t *testing.T) {
	reg := memory.NewRegistry()
	ctx := context.Background()
	id := persistMember(t, reg, "1234-5678-9012", "Juan", "Cruz")

	res := NewService(Deps{Store: reg}, Config{}).ArchiveEntity(ctx, id, domain.EntityHouseholdMember, "", "")
	require.True(t, res.Success)

	restore := NewService(Deps{Store: tamperedStore{reg}}, Config{}).RestoreArchivedData(ctx, res.ArchiveID)
	assert.False(t, restore.Success)
	assert.Contains(t, restore.Message, "checksum mismatch")

	archived, err := reg.IsArchived(ctx, domain.EntityHouseholdMember, id)
	require.NoError(t, err)
	assert.True(t, archived)
}

func TestArchiveOldData(t *testing.T) {
	policy := domain.RetentionPolicy{EntityType: domain.EntityHouseholdMember, RetentionDays: 30}
	old := time.Now().AddDate(0, 0, -90)
	cutoff := time.Now().AddDate(0, 0, -30)

	t.Run("requires a policy", func(t *testing.T) {
		a, _ := newArchiver(t, Config{})
		res := a.ArchiveOldData(context.Background(), domain.EntityHousehold, cutoff)
		assert.False(t, res.Success)
		assert.Equal(t, "No active retention policy found for entity type: HOUSEHOLD", res.Message)
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		profile := domain.EntityType("ECONOMIC_PROFILE")
		a, _ := newArchiver(t, Config{}, domain.RetentionPolicy{EntityType: profile, RetentionDays: 10})
		res := a.ArchiveOldData(context.Background(), profile, cutoff)
		assert.False(t, res.Success)
		assert.Equal(t, "Unsupported entity type for archival: ECONOMIC_PROFILE", res.Message)
	})

	t.Run("pages through eligible entities", func(t *testing.T) {
		a, reg := newArchiver(t, Config{BatchSize: 2}, policy)
		for i, psn := range []string{"1111-1111-1111", "2222-2222-2222", "3333-3333-3333"} {
			id := persistMember(t, reg, psn, "Old", strings.Repeat("x", i+1))
			reg.SetCreatedAt(id, old)
		}
		fresh := persistMember(t, reg, "4444-4444-4444", "New", "Member")

		res := a.ArchiveOldData(context.Background(), domain.EntityHouseholdMember, cutoff)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 3, res.ArchivedCount)
		assert.Equal(t, "Successfully archived 3 HOUSEHOLD_MEMBER records", res.Message)

		archived, err := a.IsEntityArchived(context.Background(), fresh, domain.EntityHouseholdMember)
		require.NoError(t, err)
		assert.False(t, archived)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		a, reg := newArchiver(t, Config{}, policy)
		id := persistMember(t, reg, "1111-1111-1111", "Old", "Member")
		reg.SetCreatedAt(id, old)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := a.ArchiveOldData(ctx, domain.EntityHouseholdMember, cutoff)
		assert.False(t, res.Success)
		assert.Zero(t, res.ArchivedCount)
		assert.Contains(t, res.Message, "cancelled")
	})
}

func TestGetArchivedData(t *testing.T) {
	a, reg := newArchiver(t, Config{})
	ctx := context.Background()

	member := persistMember(t, reg, "1234-5678-9012", "Juan", "Cruz")
	hh, err := reg.Persist(ctx, repository.PersistRequest{
		DataType: domain.DataTypeHousehold,
		Payload:  domain.Payload{{Name: "householdNumber", Value: "HH-0002"}},
	})
	require.NoError(t, err)

	before := time.Now().Add(-time.Minute)
	require.True(t, a.ArchiveEntity(ctx, member, domain.EntityHouseholdMember, "", "").Success)
	require.True(t, a.ArchiveEntity(ctx, hh, domain.EntityHousehold, "", "").Success)
	after := time.Now().Add(time.Minute)

	memberType := domain.EntityHouseholdMember
	members, err := a.GetArchivedData(ctx, domain.ArchiveFilter{EntityType: &memberType, From: &before, To: &after})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, member, members[0].EntityID)

	all, err := a.GetArchivedData(ctx, domain.ArchiveFilter{From: &before, To: &after})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	past := before.Add(-time.Hour)
	none, err := a.GetArchivedData(ctx, domain.ArchiveFilter{To: &past})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = a.GetArchivedData(ctx, domain.ArchiveFilter{From: &after, To: &before})
	assert.Error(t, err)
}

func TestRetentionPoliciesAndStatistics(t *testing.T) {
	repo := memory.NewPolicyRepository()
	a := NewService(Deps{Store: memory.NewRegistry(), Policies: NewPolicyStore(repo)}, Config{})
	ctx := context.Background()

	_, err := a.ConfigureRetentionPolicy(ctx, domain.EntityHousehold, 0, true)
	assert.Error(t, err)

	p, err := a.ConfigureRetentionPolicy(ctx, domain.EntityHousehold, 365, true)
	require.NoError(t, err)
	assert.Equal(t, 365, p.RetentionDays)
	assert.False(t, p.UpdatedAt.IsZero())

	_, err = a.ConfigureRetentionPolicy(ctx, domain.EntityHouseholdMember, 730, false)
	require.NoError(t, err)

	stored, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	policies := a.GetRetentionPolicies(ctx)
	require.Len(t, policies, 2)
	assert.Equal(t, domain.EntityHousehold, policies[0].EntityType)

	st, err := a.GetArchivingStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.RetentionPoliciesCount)
	assert.Zero(t, st.TotalArchived)
	assert.Nil(t, st.LastArchiveDate)

	reloaded := NewPolicyStore(repo)
	require.NoError(t, reloaded.Load(ctx))
	got, ok := reloaded.Get(domain.EntityHouseholdMember)
	require.True(t, ok)
	assert.False(t, got.AutoArchiveEnabled)
}

func TestRunRetentionSweep(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{IngestPoolSize: 1, ArchivePoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	reg := memory.NewRegistry()
	policies := NewPolicyStore(memory.NewPolicyRepository(
		domain.RetentionPolicy{EntityType: domain.EntityHouseholdMember, RetentionDays: 30, AutoArchiveEnabled: true},
		domain.RetentionPolicy{EntityType: domain.EntityHousehold, RetentionDays: 30, AutoArchiveEnabled: false},
	))
	require.NoError(t, policies.Load(context.Background()))
	a := NewService(Deps{Store: reg, Policies: policies, Pools: pools}, Config{SweepRatePerSecond: 1000})

	old := persistMember(t, reg, "1111-1111-1111", "Old", "Member")
	reg.SetCreatedAt(old, time.Now().AddDate(-1, 0, 0))
	persistMember(t, reg, "2222-2222-2222", "New", "Member")

	reports, err := a.RunRetentionSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.EntityHouseholdMember, reports[0].EntityType)
	require.NotNil(t, reports[0].Result)
	assert.True(t, reports[0].Result.Success)
	assert.Equal(t, 1, reports[0].Result.ArchivedCount)

	st, err := a.GetArchivingStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentArchivedCount)
	assert.NotNil(t, st.LastArchiveDate)
}
