package infrastructure

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrateLogger routes golang-migrate output to zap.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	logger.Debug("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return false }

// Migrate applies the embedded schema migrations and the River queue
// tables. It is safe to call on every start.
func (c *DatabaseClients) Migrate(ctx context.Context) error {
	if err := MigrateSchema(c.Pool); err != nil {
		return err
	}
	return migrateRiver(ctx, c.Pool)
}

// MigrateSchema applies the registry schema migrations to pool's database.
// The search_path of pool decides the target schema.
func MigrateSchema(pool *pgxpool.Pool) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	m.Log = migrateLogger{}

	logger.Info("Running schema migrations...")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Schema migrations: already up-to-date")
			return nil
		}
		version, dirty, _ := m.Version()
		logger.Error("Schema migration failed",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
			zap.Error(err),
		)
		return fmt.Errorf("schema migrate up: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Schema migrations completed", zap.Uint("version", version))
	return nil
}

func migrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}
