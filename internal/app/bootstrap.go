// Package app is the composition root. Bootstrap only orchestrates; each
// domain's wiring lives in app/modules.
//
// Import Path: dsr.gov.ph/registry/internal/app
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"dsr.gov.ph/registry/internal/api/handlers"
	"dsr.gov.ph/registry/internal/app/modules"
	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/infrastructure"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *infrastructure.DatabaseClients
	Pools     *worker.Pools
	Modules   []modules.Module
	Ingestion ingestion.Service
	Archiving archiving.Service

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	ingestionModule := modules.NewIngestionModule(infra)
	archivingModule, err := modules.NewArchivingModule(ctx, infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init archiving module: %w", err)
	}
	allModules := []modules.Module{ingestionModule, archivingModule}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		if pc, ok := mod.(modules.PeriodicContributor); ok {
			periodic = append(periodic, pc.PeriodicJobs()...)
		}
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	if infra.RiverClient != nil {
		for _, mod := range allModules {
			if qa, ok := mod.(modules.QueueAttacher); ok {
				qa.AttachQueue(infra.RiverClient)
			}
		}
	}

	server := handlers.NewServer(modules.NewServerDeps(cfg, infra, allModules))

	return &Application{
		Config:    cfg,
		Router:    newRouter(cfg, server),
		DB:        infra.DB,
		Pools:     infra.Pools,
		Modules:   allModules,
		Ingestion: ingestionModule.Service(),
		Archiving: archivingModule.Service(),
		infra:     infra,
	}, nil
}
