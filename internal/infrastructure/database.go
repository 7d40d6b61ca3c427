// Package infrastructure provides database, queue and broker connection setup.
//
// One pgxpool is shared by the stores and River, so a batch row and the job
// that processes it commit in the same transaction.
//
// Import Path: dsr.gov.ph/registry/internal/infrastructure
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// DatabaseClients contains all database-related clients.
// All clients share a single pgxpool connection pool.
type DatabaseClients struct {
	// Pool is the shared connection pool (stores + River).
	Pool *pgxpool.Pool

	// RiverClient is the River job queue client backed by the shared pool.
	// nil until InitRiverClient is called.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients creates the shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	// Timestamps are stored and compared in UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)

	return &DatabaseClients{Pool: pool}, nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. Called after migrations; workers come from bootstrap.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
		Logger:                      slog.New(zapslog.NewHandler(logger.Named("river").Core())),
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("max_workers", maxWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// Close closes the connection pool.
func (c *DatabaseClients) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
