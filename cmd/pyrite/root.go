package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyrite/config"
	"github.com/caffeineduck/pyrite/engine"
	"github.com/caffeineduck/pyrite/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pyrite",
	Short: "Pooled embedded-Python execution service",
	Long: `pyrite - Keep a pool of embedded Python interpreters warm and run
code against them with stateful or isolated namespaces.

Run one-shot code with 'run', explore interactively with 'repl', or start
the HTTP execution service with 'serve'. The interpreter WASM module is
loaded from --runtime (or the config file).`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("runtime", "", "Path to interpreter WASM module")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
}

// loadConfig merges the config file (if any) with persistent flag overrides
// and initializes logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	if runtime, _ := cmd.Root().PersistentFlags().GetString("runtime"); runtime != "" {
		cfg.Runtime = runtime
	}
	if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if noCache, _ := cmd.Root().PersistentFlags().GetBool("no-cache"); noCache {
		cfg.DiskCache = false
	}

	if cfg.Runtime == "" {
		return config.Config{}, fmt.Errorf("interpreter runtime required: use --runtime or set 'runtime' in the config file")
	}

	logging.Setup(cfg.LogLevel)
	return cfg, nil
}

// newEngine builds the shared Engine from configuration.
func newEngine(cfg config.Config) (*engine.Engine, error) {
	var opts []engine.Option
	if cfg.DiskCache {
		opts = append(opts, engine.WithDiskCache(cfg.CacheDir))
	}
	if cfg.MemoryLimitPages > 0 {
		opts = append(opts, engine.WithMemoryLimit(cfg.MemoryLimitPages))
	}
	return engine.New(cfg.Runtime, opts...)
}
