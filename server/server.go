// Package server exposes the execution service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caffeineduck/pyrite/pool"
	"github.com/caffeineduck/pyrite/runner"
)

// Executor is the execution surface the HTTP layer needs. Both pool.Pool
// and the single-instance adapter satisfy it.
type Executor interface {
	Execute(ctx context.Context, code string, reset bool) (runner.Result, error)
	Ready() bool
	ExecutionCount() uint64
}

// Config holds HTTP server configuration.
type Config struct {
	Listen string
	// DefaultReset is applied when a request omits reset_namespace.
	DefaultReset bool
	Logger       *slog.Logger
}

// Server routes HTTP requests to an Executor.
type Server struct {
	exec Executor
	cfg  Config
	log  *slog.Logger
	http *http.Server
}

// New builds a Server. It does not start listening; call ListenAndServe.
func New(exec Executor, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		exec: exec,
		cfg:  cfg,
		log:  cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Post("/execute", s.handleExecute)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.cfg.Listen)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type executeRequest struct {
	Code           string `json:"code"`
	ResetNamespace *bool  `json:"reset_namespace,omitempty"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Ready          bool   `json:"ready"`
	ExecutionCount uint64 `json:"execution_count"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: string(runner.StatusError), Error: "invalid json"})
		return
	}
	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: string(runner.StatusError), Error: "code required"})
		return
	}

	reset := s.cfg.DefaultReset
	if req.ResetNamespace != nil {
		reset = *req.ResetNamespace
	}

	result, err := s.exec.Execute(r.Context(), req.Code, reset)
	if err != nil {
		writeJSON(w, errorStatusCode(err), errorResponse{Status: string(runner.StatusError), Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Ready:          s.exec.Ready(),
		ExecutionCount: s.exec.ExecutionCount(),
	}
	code := http.StatusOK
	if !resp.Ready {
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func errorStatusCode(err error) int {
	switch {
	// the single-instance path reports timeouts as a deadline error rather
	// than the pool's sentinel
	case errors.Is(err, pool.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pool.ErrNoWorkers),
		errors.Is(err, pool.ErrQueueFull),
		errors.Is(err, pool.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		s.log.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
