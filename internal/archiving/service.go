// Package archiving moves canonical entities out of active storage into
// checksummed snapshots and back.
//
// An entity is archived exactly when an ACTIVE archive record exists for its
// id and type. Archive and restore each run in one store transaction, so the
// entity is never both active and archived, nor neither. Archiving a
// household writes one member record per cascaded member, pointing at the
// household archive; restoring the household restores them too.
//
// Import Path: dsr.gov.ph/registry/internal/archiving
package archiving

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/worker"
)

// Service is the archiving surface exposed to handlers and jobs.
type Service interface {
	ArchiveOldData(ctx context.Context, entityType domain.EntityType, cutoff time.Time) *domain.ArchivingResult
	ArchiveEntity(ctx context.Context, entityID string, entityType domain.EntityType, reason, archivedBy string) *domain.ArchivingResult
	RestoreArchivedData(ctx context.Context, archiveID string) *domain.RestoreResult
	IsEntityArchived(ctx context.Context, entityID string, entityType domain.EntityType) (bool, error)
	GetArchivedData(ctx context.Context, filter domain.ArchiveFilter) ([]*domain.ArchivedRecord, error)
	ConfigureRetentionPolicy(ctx context.Context, entityType domain.EntityType, retentionDays int, autoArchive bool) (domain.RetentionPolicy, error)
	GetRetentionPolicies(ctx context.Context) []domain.RetentionPolicy
	GetArchivingStatistics(ctx context.Context) (domain.ArchivingStatistics, error)
	RunRetentionSweep(ctx context.Context) ([]SweepReport, error)
}

// EntityStore is the slice of the canonical store archiving needs. Both the
// memory and postgres registries implement it.
type EntityStore interface {
	LoadSnapshot(ctx context.Context, t domain.EntityType, id string) (*domain.EntitySnapshot, error)
	ListOlderThan(ctx context.Context, t domain.EntityType, cutoff time.Time, afterID string, limit int) ([]domain.EntityRef, error)
	IsArchived(ctx context.Context, t domain.EntityType, id string) (bool, error)
	ArchiveEntity(ctx context.Context, rec *domain.ArchivedRecord, cascade ...*domain.ArchivedRecord) error
	FindArchive(ctx context.Context, archiveID string) (*domain.ArchivedRecord, error)
	RestoreEntity(ctx context.Context, archiveID string, snap *domain.EntitySnapshot, at time.Time) error
	ListArchives(ctx context.Context, f domain.ArchiveFilter) ([]*domain.ArchivedRecord, error)
	ArchiveStatistics(ctx context.Context) (domain.ArchivingStatistics, error)
}

// Config tunes bulk archiving.
type Config struct {
	// DefaultRetentionDays applies to single-entity archives of a type
	// without a policy.
	DefaultRetentionDays int
	// BatchSize is the page size used when walking eligible entities.
	BatchSize int
	// SweepRatePerSecond caps entity archives per second during bulk runs.
	// Zero means unlimited.
	SweepRatePerSecond float64
}

// DefaultConfig returns seven-year retention with 1000-entity pages.
func DefaultConfig() Config {
	return Config{
		DefaultRetentionDays: 2555,
		BatchSize:            1000,
	}
}

// Deps are the collaborators of the archiving service.
type Deps struct {
	Store    EntityStore
	Policies *PolicyStore
	Events   domain.EventPublisher
	// Pools runs per-type sweeps on the archive pool. Optional.
	Pools *worker.Pools
}

// Archiver is the production Service.
type Archiver struct {
	store    EntityStore
	policies *PolicyStore
	events   domain.EventPublisher
	pools    *worker.Pools
	limiter  *rate.Limiter
	cfg      Config
	now      func() time.Time
}

// NewService creates an Archiver. A nil policy store starts empty and is
// kept in memory only.
func NewService(d Deps, cfg Config) *Archiver {
	def := DefaultConfig()
	if cfg.DefaultRetentionDays <= 0 {
		cfg.DefaultRetentionDays = def.DefaultRetentionDays
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if d.Policies == nil {
		d.Policies = NewPolicyStore(nil)
	}

	limit := rate.Inf
	if cfg.SweepRatePerSecond > 0 {
		limit = rate.Limit(cfg.SweepRatePerSecond)
	}

	return &Archiver{
		store:    d.Store,
		policies: d.Policies,
		events:   d.Events,
		pools:    d.Pools,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		now:      time.Now,
	}
}

var _ Service = (*Archiver)(nil)
