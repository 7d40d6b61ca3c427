// Package config provides configuration management for the registry
// ingestion service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (DATABASE_URL, INGESTION_DEDUP_REJECT_THRESHOLD, ...)
// 3. Default values
//
// Import Path: dsr.gov.ph/registry/internal/config
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Archiving ArchivingConfig `mapstructure:"archiving"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AllowCredentials is ignored when all origins are allowed.
	AllowCredentials      bool `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings. One pgxpool is
// shared by the stores and River so a batch row and its job commit together.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`

	// InMemory replaces PostgreSQL with process-local stores. Async file
	// jobs then run on the ingest worker pool instead of River.
	InMemory bool `mapstructure:"in_memory"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	IngestPoolSize  int `mapstructure:"ingest_pool_size"`
	ArchivePoolSize int `mapstructure:"archive_pool_size"`
}

// RedisConfig configures the distributed blocking-key lock. Empty Addr
// disables Redis and the in-process locker is used.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig configures pipeline event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// IngestionConfig contains pipeline tuning.
type IngestionConfig struct {
	// Parallelism bounds concurrent records within one batch.
	Parallelism int           `mapstructure:"parallelism"`
	FileTimeout time.Duration `mapstructure:"file_timeout"`
	UploadDir   string        `mapstructure:"upload_dir"`
	Dedup       DedupConfig   `mapstructure:"dedup"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// DedupConfig holds the match thresholds. Scores at or above RejectThreshold
// are duplicates; at or above MergeThreshold they go to human review.
type DedupConfig struct {
	RejectThreshold float64       `mapstructure:"reject_threshold"`
	MergeThreshold  float64       `mapstructure:"merge_threshold"`
	MaxCandidates   int           `mapstructure:"max_candidates"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
}

// RetryConfig bounds retries of transient persistence failures.
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialInterval  time.Duration `mapstructure:"initial_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// ArchivingConfig contains retention sweep settings.
type ArchivingConfig struct {
	DefaultRetentionDays int           `mapstructure:"default_retention_days"`
	BatchSize            int           `mapstructure:"batch_size"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepRatePerSecond   float64       `mapstructure:"sweep_rate_per_second"`
}

// SecurityConfig contains the bearer-token settings. When AuthEnabled is
// false every request is attributed to "anonymous".
type SecurityConfig struct {
	AuthEnabled   bool   `mapstructure:"auth_enabled"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/registry")

	// database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	d := c.Ingestion.Dedup
	if d.RejectThreshold <= 0 || d.RejectThreshold > 1 {
		return fmt.Errorf("ingestion.dedup.reject_threshold must be in (0, 1], got %v", d.RejectThreshold)
	}
	if d.MergeThreshold <= 0 || d.MergeThreshold > 1 {
		return fmt.Errorf("ingestion.dedup.merge_threshold must be in (0, 1], got %v", d.MergeThreshold)
	}
	if d.RejectThreshold <= d.MergeThreshold {
		return fmt.Errorf("ingestion.dedup.reject_threshold (%v) must be greater than merge_threshold (%v)",
			d.RejectThreshold, d.MergeThreshold)
	}
	if c.Ingestion.Parallelism <= 0 {
		return fmt.Errorf("ingestion.parallelism must be positive")
	}
	if c.Archiving.DefaultRetentionDays <= 0 {
		return fmt.Errorf("archiving.default_retention_days must be positive")
	}
	if c.Archiving.BatchSize <= 0 {
		return fmt.Errorf("archiving.batch_size must be positive")
	}
	if c.Security.AuthEnabled && len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters when auth is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)
	v.SetDefault("server.max_upload_bytes", 512<<20)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "registry")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.in_memory", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.ingest_pool_size", 16)
	v.SetDefault("worker.archive_pool_size", 4)

	// Redis (empty addr = in-process locks)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "registry:lock:")

	// Kafka (no brokers = events stay in-process)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "registry.pipeline.events")
	v.SetDefault("kafka.batch_timeout", "50ms")
	v.SetDefault("kafka.required_acks", 1)

	// Ingestion
	v.SetDefault("ingestion.parallelism", 8)
	v.SetDefault("ingestion.file_timeout", "30m")
	v.SetDefault("ingestion.upload_dir", "/var/lib/registry/uploads")
	v.SetDefault("ingestion.dedup.reject_threshold", 0.90)
	v.SetDefault("ingestion.dedup.merge_threshold", 0.75)
	v.SetDefault("ingestion.dedup.max_candidates", 50)
	v.SetDefault("ingestion.dedup.lock_ttl", "30s")
	v.SetDefault("ingestion.dedup.lock_wait", "10s")
	v.SetDefault("ingestion.retry.max_attempts", 3)
	v.SetDefault("ingestion.retry.initial_interval", "100ms")
	v.SetDefault("ingestion.retry.max_interval", "2s")
	v.SetDefault("ingestion.retry.breaker_threshold", 5)
	v.SetDefault("ingestion.retry.breaker_timeout", "30s")

	// Archiving (seven-year default retention)
	v.SetDefault("archiving.default_retention_days", 2555)
	v.SetDefault("archiving.batch_size", 1000)
	v.SetDefault("archiving.sweep_interval", "24h")
	v.SetDefault("archiving.sweep_rate_per_second", 200.0)

	// Security
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_issuer", "dsr-registry")
}
