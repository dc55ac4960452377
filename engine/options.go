package engine

import (
	"io"
	"time"
)

// Option configures an Engine at creation time.
type Option func(*engineConfig)

type engineConfig struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // each page = 64KB, 0 = wazero default (4GB)
}

func defaultEngineConfig() engineConfig {
	return engineConfig{}
}

// WithDiskCache enables a persistent compilation cache for faster startup.
// Optionally provide a custom directory; otherwise ~/.cache/pyrite or
// XDG_CACHE_HOME/pyrite is used.
func WithDiskCache(dir ...string) Option {
	return func(c *engineConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to each interpreter
// instance, in 64KB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *engineConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

// InstanceOption configures a single interpreter instance.
type InstanceOption func(*instanceConfig)

type instanceConfig struct {
	startTimeout time.Duration
	stdout       io.Writer
	env          map[string]string
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		startTimeout: 30 * time.Second,
		stdout:       io.Discard,
		env:          make(map[string]string),
	}
}

// WithStartTimeout bounds how long NewInstance waits for the interpreter to
// report ready.
func WithStartTimeout(d time.Duration) InstanceOption {
	return func(c *instanceConfig) {
		c.startTimeout = d
	}
}

// WithStdout directs anything the executed code prints to w. By default
// interpreter stdout is discarded; the evaluation result travels over the
// event protocol, not stdout.
func WithStdout(w io.Writer) InstanceOption {
	return func(c *instanceConfig) {
		c.stdout = w
	}
}

// WithEnv sets an environment variable inside the interpreter.
func WithEnv(key, value string) InstanceOption {
	return func(c *instanceConfig) {
		c.env[key] = value
	}
}
