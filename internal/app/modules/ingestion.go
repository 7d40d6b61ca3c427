package modules

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"dsr.gov.ph/registry/internal/api/handlers"
	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/jobs"
	"dsr.gov.ph/registry/internal/parser"
	"dsr.gov.ph/registry/internal/pkg/retry"
	"dsr.gov.ph/registry/internal/validation"
)

// IngestionModule wires the validate, deduplicate, clean and persist
// pipeline and the legacy file worker.
type IngestionModule struct {
	infra        *Infrastructure
	orchestrator *ingestion.Orchestrator
}

// NewIngestionModule creates the ingestion module. Until AttachQueue is
// called async file batches run on the ingest worker pool.
func NewIngestionModule(infra *Infrastructure) *IngestionModule {
	cfg := infra.Config.Ingestion
	rc := cfg.Retry

	orch := ingestion.NewOrchestrator(ingestion.Deps{
		Validator: validation.NewRuleEngine(),
		Cleaner:   validation.NewCleaner(),
		Finder: dedup.NewEngine(infra.Stores.Registry, dedup.Config{
			RejectThreshold: cfg.Dedup.RejectThreshold,
			MergeThreshold:  cfg.Dedup.MergeThreshold,
			MaxCandidates:   cfg.Dedup.MaxCandidates,
		}),
		Locker:    infra.Locker(),
		Parser:    parser.New(),
		Tracker:   batch.NewTracker(infra.Stores.Batches, infra.Events),
		Persister: infra.Stores.Registry,
		Reviews:   infra.Stores.Reviews,
		Retry: retry.New(retry.Config{
			Name:             "canonical-store",
			MaxAttempts:      rc.MaxAttempts,
			InitialInterval:  rc.InitialInterval,
			MaxInterval:      rc.MaxInterval,
			FailureThreshold: rc.BreakerThreshold,
			OpenTimeout:      rc.BreakerTimeout,
		}),
		Events: infra.Events,
		Pools:  infra.Pools,
	}, ingestion.Config{
		Parallelism: cfg.Parallelism,
		FileTimeout: cfg.FileTimeout,
		UploadDir:   cfg.UploadDir,
	})

	return &IngestionModule{infra: infra, orchestrator: orch}
}

func (m *IngestionModule) Name() string { return "ingestion" }

// Service exposes the orchestrator to CLIs that bypass HTTP.
func (m *IngestionModule) Service() *ingestion.Orchestrator { return m.orchestrator }

func (m *IngestionModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Ingestion = m.orchestrator
}

func (m *IngestionModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewLegacyFileWorker(m.orchestrator, m.infra.Config.Ingestion.FileTimeout))
}

// AttachQueue routes async file batches through River so they survive a
// restart.
func (m *IngestionModule) AttachQueue(client *river.Client[pgx.Tx]) {
	if client == nil || m.infra.DB == nil || m.infra.Stores.PGBatches == nil {
		return
	}
	m.orchestrator.SetEnqueuer(jobs.NewRiverEnqueuer(m.infra.DB.Pool, m.infra.Stores.PGBatches, client))
}

func (m *IngestionModule) Shutdown(context.Context) error { return nil }
