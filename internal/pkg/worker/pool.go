// Package worker provides bounded goroutine pools.
//
// Naked goroutines are not used for pipeline work: batch-level tasks go
// through these pools so that a flood of uploads queues up (the pools block
// on Submit) instead of spawning unbounded goroutines.
//
// Import Path: dsr.gov.ph/registry/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by SubmitDetached.
const (
	PoolIngest  = "ingest"
	PoolArchive = "archive"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// Ingest runs one task per batch (file or multi-record submission).
	Ingest *Pool
	// Archive runs retention sweeps and bulk archive requests.
	Archive *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizes.
type PoolConfig struct {
	IngestPoolSize  int
	ArchivePoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		IngestPoolSize:  16,
		ArchivePoolSize: 4,
	}
}

// NewPools creates the worker pool collection. ctx bounds detached tasks:
// cancelling it (or calling Shutdown) stops queued detached work.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	ingestAnts, err := ants.NewPool(cfg.IngestPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	archiveAnts, err := ants.NewPool(cfg.ArchivePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(time.Minute),
	)
	if err != nil {
		ingestAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Ingest:        &Pool{pool: ingestAnts, name: PoolIngest},
		Archive:       &Pool{pool: archiveAnts, name: PoolArchive},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task. It blocks while the pool is saturated.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// ctx may have been cancelled while the task was queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// SubmitDetached submits a background task that outlives the request which
// started it. The task receives the service lifecycle context, so it still
// stops on graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.Ingest
	if poolName == PoolArchive {
		pool = p.Archive
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", pool.name),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels detached work then waits up to 30s for running tasks.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Ingest.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Ingest pool shutdown timeout", zap.Error(err))
	}
	if err := p.Archive.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Archive pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool occupancy for the readiness endpoint.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		PoolIngest: map[string]int{
			"running": p.Ingest.pool.Running(),
			"free":    p.Ingest.pool.Free(),
			"waiting": p.Ingest.pool.Waiting(),
			"cap":     p.Ingest.pool.Cap(),
		},
		PoolArchive: map[string]int{
			"running": p.Archive.pool.Running(),
			"free":    p.Archive.pool.Free(),
			"waiting": p.Archive.pool.Waiting(),
			"cap":     p.Archive.pool.Cap(),
		},
	}
}
