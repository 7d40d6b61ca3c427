// Package main seeds the default retention policies.
//
// Existing policies are left untouched, so the command is safe to run on
// every deploy.
//
// Import Path: dsr.gov.ph/registry/cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/infrastructure"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/repository/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := infrastructure.MigrateSchema(db.Pool); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("Starting retention policy seeding...")
	n, err := seedPolicies(ctx, postgres.NewPolicyRepository(db.Pool), defaultPolicies(cfg.Archiving.DefaultRetentionDays))
	if err != nil {
		return fmt.Errorf("seed retention policies: %w", err)
	}
	logger.Info("Retention policy seeding completed", zap.Int("created", n))
	return nil
}

// defaultPolicies are the retention rules every deployment starts with.
func defaultPolicies(days int) []domain.RetentionPolicy {
	if days <= 0 {
		days = archiving.DefaultConfig().DefaultRetentionDays
	}
	return []domain.RetentionPolicy{
		{EntityType: domain.EntityHousehold, RetentionDays: days, AutoArchiveEnabled: true},
		{EntityType: domain.EntityHouseholdMember, RetentionDays: days, AutoArchiveEnabled: true},
	}
}

// seedPolicies saves each policy whose entity type has none yet and returns
// how many were created.
func seedPolicies(ctx context.Context, repo archiving.PolicyRepository, policies []domain.RetentionPolicy) (int, error) {
	existing, err := repo.ListPolicies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list policies: %w", err)
	}
	have := make(map[domain.EntityType]bool, len(existing))
	for _, p := range existing {
		have[p.EntityType] = true
	}

	created := 0
	for _, p := range policies {
		if have[p.EntityType] {
			logger.Info("Retention policy already exists, skipping", zap.String("entity_type", string(p.EntityType)))
			continue
		}
		p.UpdatedAt = time.Now().UTC()
		if err := repo.SavePolicy(ctx, p); err != nil {
			return created, fmt.Errorf("save policy %s: %w", p.EntityType, err)
		}
		logger.Info("Seeded retention policy",
			zap.String("entity_type", string(p.EntityType)),
			zap.Int("retention_days", p.RetentionDays),
		)
		created++
	}
	return created, nil
}
