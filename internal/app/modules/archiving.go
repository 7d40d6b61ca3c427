package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"dsr.gov.ph/registry/internal/api/handlers"
	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/jobs"
)

// ArchivingModule wires retention policies, the archiver and the periodic
// retention sweep.
type ArchivingModule struct {
	infra    *Infrastructure
	policies *archiving.PolicyStore
	archiver *archiving.Archiver
}

// NewArchivingModule loads the retention policies and creates the archiver.
func NewArchivingModule(ctx context.Context, infra *Infrastructure) (*ArchivingModule, error) {
	policies := archiving.NewPolicyStore(infra.Stores.Policies)
	if err := policies.Load(ctx); err != nil {
		return nil, fmt.Errorf("load retention policies: %w", err)
	}

	cfg := infra.Config.Archiving
	arc := archiving.NewService(archiving.Deps{
		Store:    infra.Stores.Registry,
		Policies: policies,
		Events:   infra.Events,
		Pools:    infra.Pools,
	}, archiving.Config{
		DefaultRetentionDays: cfg.DefaultRetentionDays,
		BatchSize:            cfg.BatchSize,
		SweepRatePerSecond:   cfg.SweepRatePerSecond,
	})

	return &ArchivingModule{infra: infra, policies: policies, archiver: arc}, nil
}

func (m *ArchivingModule) Name() string { return "archiving" }

// Service exposes the archiver to CLIs that bypass HTTP.
func (m *ArchivingModule) Service() *archiving.Archiver { return m.archiver }

func (m *ArchivingModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Archiving = m.archiver
}

func (m *ArchivingModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewRetentionSweepWorker(m.archiver))
}

// PeriodicJobs schedules the retention sweep.
func (m *ArchivingModule) PeriodicJobs() []*river.PeriodicJob {
	return jobs.PeriodicJobs(m.infra.Config.Archiving.SweepInterval)
}

func (m *ArchivingModule) Shutdown(context.Context) error { return nil }
