package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyrite/config"
	"github.com/caffeineduck/pyrite/engine"
	"github.com/caffeineduck/pyrite/internal/logging"
	"github.com/caffeineduck/pyrite/pool"
	"github.com/caffeineduck/pyrite/runner"
	"github.com/caffeineduck/pyrite/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution service",
	Long: `Start an HTTP server backed by a pool of embedded interpreters.

Endpoints:
  POST /execute   Execute code, returns {status, result, execution_time_ms}
  GET  /health    Readiness and execution count
  GET  /metrics   Prometheus metrics

With --workers 0 a single in-process interpreter serves all requests and
namespace state persists across them. With more than one worker every
request runs in a fresh namespace regardless of reset_namespace.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (default :8080)")
	serveCmd.Flags().Int("workers", -1, "Interpreter pool size, 0 for a single shared instance")
	serveCmd.Flags().Duration("timeout", 0, "Per-request execution timeout")
	serveCmd.Flags().Bool("reset-namespace", false, "Default to fresh namespaces when requests do not say")
	rootCmd.AddCommand(serveCmd)
}

// singleExecutor adapts one Runner to the server.Executor surface for the
// zero-worker deployment.
type singleExecutor struct {
	run     *runner.Runner
	timeout time.Duration
}

func (s *singleExecutor) Execute(ctx context.Context, code string, reset bool) (runner.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.run.Execute(ctx, code, reset)
}

func (s *singleExecutor) Ready() bool { return true }

func (s *singleExecutor) ExecutionCount() uint64 { return s.run.ExecutionCount() }

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers >= 0 {
		cfg.Workers = workers
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.TimeoutMS = int(timeout.Milliseconds())
	}
	if cmd.Flags().Changed("reset-namespace") {
		cfg.ResetNamespace, _ = cmd.Flags().GetBool("reset-namespace")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := logging.WithComponent("serve")

	eng, err := newEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	exec, cleanup, err := buildExecutor(cfg, eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := server.New(exec, server.Config{
		Listen:       cfg.Listen,
		DefaultReset: cfg.ResetNamespace,
		Logger:       logging.WithComponent("http"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func buildExecutor(cfg config.Config, eng *engine.Engine) (server.Executor, func(), error) {
	log := logging.WithComponent("pool")

	if cfg.Workers == 0 {
		inst, err := eng.NewInstance()
		if err != nil {
			return nil, nil, fmt.Errorf("start interpreter: %w", err)
		}
		log.Info("single-instance mode, namespace state persists across requests")
		exec := &singleExecutor{run: runner.New(inst), timeout: cfg.Timeout()}
		return exec, func() { inst.Close() }, nil
	}

	p, err := pool.New(pool.Config{
		Workers:    cfg.Workers,
		Timeout:    cfg.Timeout(),
		QueueDepth: cfg.QueueDepth,
		Logger:     log,
	}, func(unitID int) (pool.Instance, error) {
		return eng.NewInstance()
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("pool started", "workers", cfg.Workers, "force_reset", cfg.ForceReset())
	return p, p.Close, nil
}
