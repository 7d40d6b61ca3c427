package archiving

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// IsEntityArchived reports whether an ACTIVE archive holds the entity.
func (a *Archiver) IsEntityArchived(ctx context.Context, entityID string, entityType domain.EntityType) (bool, error) {
	archived, err := a.store.IsArchived(ctx, entityType, entityID)
	if err != nil {
		return false, fmt.Errorf("check archive state of %s %s: %w", entityType, entityID, err)
	}
	return archived, nil
}

// GetArchivedData lists ACTIVE archives, newest first. A nil entity type
// matches every type; the date bounds are inclusive.
func (a *Archiver) GetArchivedData(ctx context.Context, filter domain.ArchiveFilter) ([]*domain.ArchivedRecord, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "fromDate must not be after toDate")
	}
	out, err := a.store.ListArchives(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	if out == nil {
		out = []*domain.ArchivedRecord{}
	}
	return out, nil
}

// ConfigureRetentionPolicy creates or replaces the policy for entityType.
func (a *Archiver) ConfigureRetentionPolicy(ctx context.Context, entityType domain.EntityType, retentionDays int, autoArchive bool) (domain.RetentionPolicy, error) {
	if entityType == "" {
		return domain.RetentionPolicy{}, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "entityType is required")
	}
	if retentionDays <= 0 {
		return domain.RetentionPolicy{}, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "retentionDays must be positive")
	}

	logger.Info("Configuring retention policy",
		zap.String("entity_type", string(entityType)),
		zap.Int("retention_days", retentionDays),
		zap.Bool("auto_archive", autoArchive),
	)
	p, err := a.policies.Configure(ctx, domain.RetentionPolicy{
		EntityType:         entityType,
		RetentionDays:      retentionDays,
		AutoArchiveEnabled: autoArchive,
	})
	if err != nil {
		return domain.RetentionPolicy{}, err
	}
	a.publish(ctx, domain.NewEvent(domain.EventPolicyChanged, "retention_policy", string(entityType), domain.SubmittedBySystem, p))
	return p, nil
}

// GetRetentionPolicies returns the configured policies.
func (a *Archiver) GetRetentionPolicies(_ context.Context) []domain.RetentionPolicy {
	return a.policies.List()
}

// GetArchivingStatistics summarizes archive activity.
func (a *Archiver) GetArchivingStatistics(ctx context.Context) (domain.ArchivingStatistics, error) {
	st, err := a.store.ArchiveStatistics(ctx)
	if err != nil {
		return domain.ArchivingStatistics{}, fmt.Errorf("archiving statistics: %w", err)
	}
	st.RetentionPoliciesCount = a.policies.Len()
	return st, nil
}

// SweepReport is the outcome of one entity type in a retention sweep.
type SweepReport struct {
	EntityType domain.EntityType       `json:"entityType"`
	Cutoff     time.Time               `json:"cutoff"`
	Result     *domain.ArchivingResult `json:"result"`
}

// RunRetentionSweep archives, for every policy with auto-archive enabled,
// the entities older than the policy's retention period. Types run
// concurrently on the archive pool when one is configured.
func (a *Archiver) RunRetentionSweep(ctx context.Context) ([]SweepReport, error) {
	var due []domain.RetentionPolicy
	for _, p := range a.policies.List() {
		if p.AutoArchiveEnabled && p.EntityType.Archivable() {
			due = append(due, p)
		}
	}
	now := a.now().UTC()
	reports := make([]SweepReport, len(due))

	var wg sync.WaitGroup
	for i, p := range due {
		reports[i] = SweepReport{EntityType: p.EntityType, Cutoff: p.Cutoff(now)}
		run := func(context.Context) {
			defer wg.Done()
			reports[i].Result = a.ArchiveOldData(ctx, p.EntityType, reports[i].Cutoff)
		}

		wg.Add(1)
		if a.pools == nil {
			run(ctx)
			continue
		}
		// Submitted under a detached context so the task always runs and
		// releases wg; ArchiveOldData itself observes ctx.
		if err := a.pools.Archive.Submit(context.WithoutCancel(ctx), run); err != nil {
			wg.Done()
			reports[i].Result = a.archivingResult()
			reports[i].Result.Message = msgErrorPrefix + err.Error()
			reports[i].Result.Errors = append(reports[i].Result.Errors, err.Error())
		}
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Result.ArchivedCount
	}
	logger.Info("Retention sweep finished",
		zap.Int("entity_types", len(reports)),
		zap.Int("archived", total),
	)
	if ctx.Err() != nil {
		return reports, fmt.Errorf("retention sweep: %w", context.Cause(ctx))
	}
	return reports, nil
}
