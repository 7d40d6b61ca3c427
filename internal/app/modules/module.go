// Package modules groups the composition root's wiring by domain.
//
// Infrastructure owns shared connections; each Module builds its services
// on top of it, contributes handler dependencies and registers River
// workers.
//
// Import Path: dsr.gov.ph/registry/internal/app/modules
package modules

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"dsr.gov.ph/registry/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// QueueAttacher is implemented by modules that enqueue River jobs. It is
// called once the River client exists.
type QueueAttacher interface {
	AttachQueue(client *river.Client[pgx.Tx])
}

// PeriodicContributor is implemented by modules with scheduled jobs.
type PeriodicContributor interface {
	PeriodicJobs() []*river.PeriodicJob
}
