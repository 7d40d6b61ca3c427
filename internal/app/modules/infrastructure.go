package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/infrastructure"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/notification"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/worker"
	"dsr.gov.ph/registry/internal/repository/memory"
	"dsr.gov.ph/registry/internal/repository/postgres"
)

// eventPublishTimeout bounds one broker write so a slow Kafka cannot stall a
// batch.
const eventPublishTimeout = 5 * time.Second

// Registry is the canonical store as seen by the pipeline, dedup and
// archiving.
type Registry interface {
	ingestion.Persister
	dedup.CandidateSource
	archiving.EntityStore
}

// Stores are the repositories backing the modules.
type Stores struct {
	Registry Registry
	Batches  batch.Store
	Reviews  ingestion.ReviewQueue
	Policies archiving.PolicyRepository

	// PGBatches is set when the stores are PostgreSQL-backed. Batches queued
	// through River are inserted with it inside the job's transaction.
	PGBatches *postgres.BatchStore
}

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil in in-memory mode.
	DB          *infrastructure.DatabaseClients
	RiverClient *river.Client[pgx.Tx]
	Pools       *worker.Pools
	Stores      Stores
	Redis       *redis.Client
	Kafka       *kafka.Writer
	Events      *domain.EventDispatcher
}

// NewInfrastructure connects storage, pools and brokers.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg, Events: domain.NewEventDispatcher()}

	if cfg.Database.InMemory {
		logger.Warn("Using in-memory stores; data is lost on restart")
		reg := memory.NewRegistry()
		infra.Stores = Stores{
			Registry: reg,
			Batches:  memory.NewBatchStore(),
			Reviews:  memory.NewReviewQueue(),
			Policies: memory.NewPolicyRepository(),
		}
	} else {
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		infra.DB = db
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				infra.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		batches := postgres.NewBatchStore(db.Pool)
		infra.Stores = Stores{
			Registry:  postgres.NewRegistry(db.Pool),
			Batches:   batches,
			Reviews:   postgres.NewReviewQueue(db.Pool),
			Policies:  postgres.NewPolicyRepository(db.Pool),
			PGBatches: batches,
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		IngestPoolSize:  cfg.Worker.IngestPoolSize,
		ArchivePoolSize: cfg.Worker.ArchivePoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools

	rdb, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}
	infra.Redis = rdb

	var pub notification.Publisher = notification.LogPublisher{}
	if w := infrastructure.NewKafkaWriter(cfg.Kafka); w != nil {
		infra.Kafka = w
		pub = notification.NewKafkaPublisher(w, eventPublishTimeout)
	}
	notification.Register(infra.Events, pub)

	return infra, nil
}

// Locker returns the Redis blocking-key locker when Redis is configured,
// otherwise the in-process one.
func (i *Infrastructure) Locker() dedup.Locker {
	if i.Redis == nil {
		return dedup.NewMemoryLocker()
	}
	d := i.Config.Ingestion.Dedup
	return dedup.NewRedisLocker(i.Redis, i.Config.Redis.KeyPrefix, d.LockTTL, d.LockWait)
}

// InitRiver initializes River client on top of a prepared worker registry.
// In in-memory mode there is no River and this is a no-op.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Kafka != nil {
		if err := i.Kafka.Close(); err != nil {
			logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
