package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/alexschlessinger/pollychat/stream"
	"github.com/alexschlessinger/pollychat/transport"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "POLLYCHAT_"

// defaultConfig returns the built-in settings
func defaultConfig() *Config {
	t := transport.DefaultConfig()
	return &Config{
		BaseURL:       t.BaseURL,
		MaxRetries:    t.MaxRetries,
		RetryDelay:    t.BaseDelay,
		MaxRetryDelay: t.MaxDelay,
		Timeout:       t.Timeout,
		ChunkSize:     stream.DefaultChunkSize,
	}
}

// defaultConfigPath returns ~/.pollychat/config.yaml, or "" without a home dir
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pollychat", "config.yaml")
}

// Environment variable parsing functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfigFile reads a YAML config file. A missing file is not an error
// unless required is set.
func loadConfigFile(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig overlays the non-zero values of file onto cfg
func mergeConfig(cfg, file *Config) error {
	if file == nil {
		return nil
	}
	return mergo.Merge(cfg, file, mergo.WithOverride)
}

// applyEnvOverrides applies POLLYCHAT_* environment variables
func applyEnvOverrides(cfg *Config) {
	cfg.BaseURL = getEnvOrDefault(envPrefix+"BASEURL", cfg.BaseURL)
	cfg.MaxRetries = getEnvInt(envPrefix+"RETRIES", cfg.MaxRetries)
	cfg.RetryDelay = getEnvDuration(envPrefix+"RETRY_DELAY", cfg.RetryDelay)
	cfg.MaxRetryDelay = getEnvDuration(envPrefix+"MAX_RETRY_DELAY", cfg.MaxRetryDelay)
	cfg.Timeout = getEnvDuration(envPrefix+"TIMEOUT", cfg.Timeout)
	cfg.Breaker = getEnvBool(envPrefix+"BREAKER", cfg.Breaker)
	cfg.RecordDir = getEnvOrDefault(envPrefix+"RECORD", cfg.RecordDir)
	cfg.Debug = getEnvBool(envPrefix+"DEBUG", cfg.Debug)
	cfg.LogFile = getEnvOrDefault(envPrefix+"LOGFILE", cfg.LogFile)
}

// applyFlags applies the flags given explicitly on the command line
func applyFlags(cmd *cli.Command, cfg *Config) {
	if cmd.IsSet("baseurl") {
		cfg.BaseURL = cmd.String("baseurl")
	}
	if cmd.IsSet("retries") {
		cfg.MaxRetries = cmd.Int("retries")
	}
	if cmd.IsSet("retry-delay") {
		cfg.RetryDelay = cmd.Duration("retry-delay")
	}
	if cmd.IsSet("max-retry-delay") {
		cfg.MaxRetryDelay = cmd.Duration("max-retry-delay")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("breaker") {
		cfg.Breaker = cmd.Bool("breaker")
	}
	if cmd.IsSet("record") {
		cfg.RecordDir = cmd.String("record")
	}
	if cmd.IsSet("quiet") {
		cfg.Quiet = cmd.Bool("quiet")
	}
	if cmd.IsSet("json") {
		cfg.JSON = cmd.Bool("json")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("logfile") {
		cfg.LogFile = cmd.String("logfile")
	}
}

// parseConfig resolves configuration: defaults, then the config file, then
// the environment, then explicit flags
func parseConfig(cmd *cli.Command) (*Config, error) {
	cfg := defaultConfig()

	path := cmd.String("config")
	required := path != ""
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		file, err := loadConfigFile(path, required)
		if err != nil {
			return nil, err
		}
		if err := mergeConfig(cfg, file); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyFlags(cmd, cfg)
	cfg.ConfigPath = path
	cfg.Prompt = cmd.String("prompt")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 || c.MaxRetryDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must not be negative, got %d", c.ChunkSize)
	}
	return nil
}

// transportConfig converts the CLI settings into transport settings
func (c *Config) transportConfig() transport.Config {
	tc := transport.Config{
		BaseURL:    c.BaseURL,
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryDelay,
		MaxDelay:   c.MaxRetryDelay,
		Timeout:    c.Timeout,
	}
	if c.Breaker {
		tc.Breaker = &transport.BreakerConfig{
			MaxFailures: c.BreakerFailures,
			Timeout:     c.BreakerCooldown,
		}
	}
	return tc
}
