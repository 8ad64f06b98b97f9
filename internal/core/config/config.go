package config

import (
	"time"

	redisclient "github.com/vietddude/courier/internal/infra/redis"
	"github.com/vietddude/courier/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig   `yaml:"server"`
	Logging     LoggingConfig  `yaml:"logging"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	Store       StoreConfig    `yaml:"store"`
	Memory      MemoryConfig   `yaml:"memory"`
	Source      SourceConfig   `yaml:"source"`
	Sink        SinkConfig     `yaml:"sink"`
	FailuresDir string         `yaml:"failures_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds queue, batching and circuit breaker settings.
type PipelineConfig struct {
	Categories       []string      `yaml:"categories"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	ProcessInterval  time.Duration `yaml:"process_interval"`
	CategoryPause    time.Duration `yaml:"category_pause"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// StoreConfig holds dedup store persistence settings.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	BackupDir     string        `yaml:"backup_dir"`
	SaveInterval  time.Duration `yaml:"save_interval"`
	MaxBackups    int           `yaml:"max_backups"`
	EncryptionKey string        `yaml:"encryption_key"`
}

// MemoryConfig holds memory guard settings.
type MemoryConfig struct {
	LimitMB       int           `yaml:"limit_mb"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// SourceConfig holds record source settings.
type SourceConfig struct {
	Redis        redisclient.Config `yaml:"redis"`
	Key          string             `yaml:"key"`
	PollInterval time.Duration      `yaml:"poll_interval"`
}

// SinkConfig selects and configures the delivery target.
type SinkConfig struct {
	Type     string          `yaml:"type"` // postgres, log
	Postgres postgres.Config `yaml:"postgres"`
	Retry    RetryConfig     `yaml:"retry"`
}

// RetryConfig bounds the sink's internal retry budget.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}
