package main

import (
	"time"
)

// Config holds the resolved settings after merging defaults, the config
// file, environment variables and command-line flags
type Config struct {
	// Server configuration
	BaseURL       string        `yaml:"base_url"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	Timeout       time.Duration `yaml:"timeout"`

	// Circuit breaker
	Breaker         bool          `yaml:"breaker"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// Stream handling
	ChunkSize int    `yaml:"chunk_size"`
	RecordDir string `yaml:"record_dir"`

	// Output configuration
	Quiet   bool   `yaml:"quiet"`
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	// Per-invocation values, never read from the file
	Prompt     string `yaml:"-"`
	ConfigPath string `yaml:"-"`
}
