package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/repository/memory"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestDefaultPolicies(t *testing.T) {
	t.Parallel()

	policies := defaultPolicies(0)
	require.Len(t, policies, 2)
	for _, p := range policies {
		assert.Equal(t, 2555, p.RetentionDays)
		assert.True(t, p.AutoArchiveEnabled)
		assert.True(t, p.EntityType.Archivable())
	}
	assert.Equal(t, 30, defaultPolicies(30)[0].RetentionDays)
}

func TestSeedPolicies_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewPolicyRepository(domain.RetentionPolicy{
		EntityType:    domain.EntityHousehold,
		RetentionDays: 90,
	})

	n, err := seedPolicies(ctx, repo, defaultPolicies(2555))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = seedPolicies(ctx, repo, defaultPolicies(2555))
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, p := range all {
		if p.EntityType == domain.EntityHousehold {
			assert.Equal(t, 90, p.RetentionDays, "existing policy must not be overwritten")
		}
	}
}
