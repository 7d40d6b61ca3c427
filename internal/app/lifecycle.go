package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// Start starts the River client, which consumes queued legacy-file jobs and
// schedules the periodic retention sweep. In-memory mode has no River.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		logger.Info("No job queue configured, async files run on the ingest pool")
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("River client started, jobs will now be consumed")
	return nil
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// Shutdown stops job consumption, then the modules, then shared
// infrastructure. River gets the configured shutdown timeout to finish
// running jobs; past it, remaining jobs are cancelled and left for retry.
func (a *Application) Shutdown() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if a.DB != nil && a.DB.RiverClient != nil {
		err := a.DB.RiverClient.Stop(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("River did not drain in time, cancelling running jobs")
			err = a.DB.RiverClient.StopAndCancel(context.Background())
		}
		if err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("River client stopped")
		}
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.infra != nil {
		a.infra.Close()
		return
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
