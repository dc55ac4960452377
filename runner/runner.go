// Package runner serializes executions against a single interpreter
// instance and normalizes outcomes into a result envelope.
package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/pyrite/engine"
)

// Status classifies an execution outcome.
type Status string

const (
	// StatusSuccess means the code ran to completion.
	StatusSuccess Status = "success"
	// StatusException means the executed code raised; the interpreter
	// itself stayed usable. The result carries the error description.
	StatusException Status = "exception"
	// StatusError marks coordination-layer failures. It is produced by
	// callers above this package (pool, server) when mapping hard errors
	// into a response; Execute itself returns those as plain errors.
	StatusError Status = "error"
)

// ErrNotInitialized is returned when the runner has no interpreter.
var ErrNotInitialized = errors.New("interpreter not initialized")

// Result is the normalized execution envelope.
type Result struct {
	Status          Status `json:"status"`
	Result          string `json:"result,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Interpreter is the one operation the runner needs from an interpreter
// instance. engine.Instance satisfies it.
type Interpreter interface {
	Eval(ctx context.Context, code string, reset bool) (string, error)
}

// Runner guards one Interpreter with at-most-one in-flight execution.
// Concurrent callers block until the current execution fully completes,
// including cleanup; ordering among waiters is not guaranteed.
type Runner struct {
	interp     Interpreter
	gate       chan struct{}
	executions atomic.Uint64
}

// New wraps interp in a Runner.
func New(interp Interpreter) *Runner {
	return &Runner{
		interp: interp,
		gate:   make(chan struct{}, 1),
	}
}

// Execute runs code against the interpreter. When reset is true the code
// executes in a fresh namespace that is released on every exit path.
//
// A failure raised by the code itself never escapes as an error: it becomes
// a StatusException result. A returned error means the coordination layer or
// the interpreter infrastructure failed.
//
// ExecutionTimeMs measures from exclusivity acquisition to result
// availability; time spent waiting for the gate is excluded.
func (r *Runner) Execute(ctx context.Context, code string, reset bool) (Result, error) {
	if r.interp == nil {
		return Result{}, ErrNotInitialized
	}

	select {
	case r.gate <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-r.gate }()

	start := time.Now()
	defer r.executions.Add(1)

	repr, err := r.interp.Eval(ctx, code, reset)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		var execErr *engine.ExecError
		if errors.As(err, &execErr) {
			return Result{
				Status:          StatusException,
				Result:          execErr.Message,
				ExecutionTimeMs: elapsed,
			}, nil
		}
		return Result{}, err
	}

	return Result{
		Status:          StatusSuccess,
		Result:          repr,
		ExecutionTimeMs: elapsed,
	}, nil
}

// ExecutionCount reports how many executions completed, on any path.
func (r *Runner) ExecutionCount() uint64 {
	return r.executions.Load()
}
