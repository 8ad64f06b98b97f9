package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Pipeline.MaxQueueSize == 0 {
		cfg.Pipeline.MaxQueueSize = 1000
	}
	if cfg.Pipeline.MaxBatchSize == 0 {
		cfg.Pipeline.MaxBatchSize = 50
	}
	if cfg.Pipeline.ProcessInterval == 0 {
		cfg.Pipeline.ProcessInterval = 30 * time.Second
	}
	if cfg.Pipeline.CategoryPause == 0 {
		cfg.Pipeline.CategoryPause = 100 * time.Millisecond
	}
	if cfg.Pipeline.BreakerThreshold == 0 {
		cfg.Pipeline.BreakerThreshold = 10
	}
	if cfg.Pipeline.BreakerTimeout == 0 {
		cfg.Pipeline.BreakerTimeout = 60 * time.Second
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/processed_ids.bin"
	}
	if cfg.Store.SaveInterval == 0 {
		cfg.Store.SaveInterval = 5 * time.Minute
	}
	if cfg.Store.MaxBackups == 0 {
		cfg.Store.MaxBackups = 5
	}

	if cfg.Memory.LimitMB == 0 {
		cfg.Memory.LimitMB = 500
	}
	if cfg.Memory.CheckInterval == 0 {
		cfg.Memory.CheckInterval = 60 * time.Second
	}

	if cfg.Source.Key == "" {
		cfg.Source.Key = "courier:records"
	}
	if cfg.Source.PollInterval == 0 {
		cfg.Source.PollInterval = time.Second
	}

	if cfg.Sink.Type == "" {
		cfg.Sink.Type = "log"
	}
	if cfg.Sink.Retry.MaxAttempts == 0 {
		cfg.Sink.Retry.MaxAttempts = 3
	}
	if cfg.Sink.Retry.InitialDelay == 0 {
		cfg.Sink.Retry.InitialDelay = time.Second
	}

	if cfg.FailuresDir == "" {
		cfg.FailuresDir = "data/failures"
	}
}

func validate(cfg *AppConfig) error {
	if len(cfg.Pipeline.Categories) == 0 {
		return fmt.Errorf("pipeline.categories must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Pipeline.Categories))
	for _, c := range cfg.Pipeline.Categories {
		if c == "" {
			return fmt.Errorf("pipeline.categories contains an empty name")
		}
		if seen[c] {
			return fmt.Errorf("duplicate category %q", c)
		}
		seen[c] = true
	}

	if cfg.Pipeline.MaxBatchSize > cfg.Pipeline.MaxQueueSize {
		return fmt.Errorf("pipeline.max_batch_size (%d) exceeds max_queue_size (%d)",
			cfg.Pipeline.MaxBatchSize, cfg.Pipeline.MaxQueueSize)
	}

	switch cfg.Sink.Type {
	case "log":
	case "postgres":
		if cfg.Sink.Postgres.URL == "" {
			return fmt.Errorf("sink.postgres.url is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}

	if cfg.Source.Redis.URL == "" {
		return fmt.Errorf("source.redis.url is required")
	}

	return nil
}
