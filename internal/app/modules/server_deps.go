package modules

import (
	"context"

	"dsr.gov.ph/registry/internal/api/handlers"
	"dsr.gov.ph/registry/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	checks := map[string]handlers.HealthCheck{}
	if infra.DB != nil {
		pool := infra.DB.Pool
		checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	if infra.Redis != nil {
		rdb := infra.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	deps := handlers.ServerDeps{
		Checks:         checks,
		UploadDir:      cfg.Ingestion.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
