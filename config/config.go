// Package config loads and validates pyrite service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Zero values mean "use default";
// Load fills defaults after parsing so callers always see concrete values.
type Config struct {
	// Runtime is the path to the interpreter WASM module.
	Runtime string `yaml:"runtime"`
	// Workers is the interpreter pool size. 0 runs a single in-process
	// instance without the pool dispatcher.
	Workers int `yaml:"workers"`
	// TimeoutMS bounds each pooled request, in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`
	// ResetNamespace is the default applied when a request does not say.
	// With more than one worker every request is forced to reset
	// regardless of this value or the caller's.
	ResetNamespace bool `yaml:"reset_namespace"`
	// QueueDepth is each worker's request buffer.
	QueueDepth int `yaml:"queue_depth"`
	// Listen is the HTTP listen address for serve.
	Listen string `yaml:"listen"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
	// MemoryLimitPages caps each instance's memory in 64KB pages.
	// 0 means the runtime default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	// DiskCache enables the compilation cache between restarts.
	DiskCache bool `yaml:"disk_cache"`
	// CacheDir overrides the compilation cache location.
	CacheDir string `yaml:"cache_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workers:    4,
		TimeoutMS:  30000,
		QueueDepth: 64,
		Listen:     ":8080",
		LogLevel:   "INFO",
		DiskCache:  true,
	}
}

// Load reads a YAML config file, fills defaults and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMS)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must be >= 0, got %d", c.QueueDepth)
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ForceReset reports whether the multi-worker reset policy applies.
func (c *Config) ForceReset() bool {
	return c.Workers > 1
}
