package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
)

var (
	ErrInstanceClosed = errors.New("instance closed")
	ErrNotStarted     = errors.New("instance not started")
)

// ExecError reports a failure raised by the executed code itself. The
// interpreter stays usable after one; callers should treat it as a normal
// outcome, not an infrastructure fault.
type ExecError struct {
	Type    string // Python exception type, e.g. "NameError"
	Message string // full description, e.g. "NameError: name 'x' is not defined"
}

func (e *ExecError) Error() string {
	return e.Message
}

// Instance is one long-lived interpreter session. Commands go in over stdin
// as newline-delimited JSON; results come back as framed events on stderr.
//
// Eval is not safe for concurrent use; callers must serialize (see the
// runner package).
type Instance struct {
	eng *Engine
	cfg instanceConfig

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	events      *eventScanner

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}

	// evalSeq numbers commands so replies can be matched to the Eval that
	// issued them. Eval is serialized by callers, so no atomics.
	evalSeq uint64

	mu      sync.Mutex
	closed  bool
	exitErr error
}

// NewInstance starts a fresh interpreter session and blocks until it reports
// ready or the start timeout elapses.
func (e *Engine) NewInstance(opts ...InstanceOption) (*Instance, error) {
	cfg := defaultInstanceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	in := &Instance{
		eng:    e,
		cfg:    cfg,
		events: newEventScanner(),
		exited: make(chan struct{}),
	}
	in.stdinReader, in.stdin = io.Pipe()
	in.ctx, in.cancel = context.WithCancel(context.Background())

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(cfg.stdout).
		WithStderr(in.events).
		WithStdin(in.stdinReader).
		WithArgs("python", "-c", bootstrapSource).
		WithName("")

	for k, v := range cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		_, err := e.runtime.InstantiateModule(in.ctx, e.compiled, moduleConfig)
		in.mu.Lock()
		in.exitErr = err
		in.mu.Unlock()
		close(in.exited)
	}()

	select {
	case <-in.events.Ready():
		return in, nil
	case <-in.exited:
		in.Close()
		in.mu.Lock()
		err := in.exitErr
		in.mu.Unlock()
		if err == nil {
			err = errors.New("interpreter exited before ready")
		}
		return nil, fmt.Errorf("start instance: %w", err)
	case <-in.ctx.Done():
		in.Close()
		return nil, ErrInstanceClosed
	case <-time.After(cfg.startTimeout):
		in.Close()
		return nil, errors.New("instance start timeout")
	}
}

type command struct {
	Seq   uint64 `json:"seq"`
	Code  string `json:"code"`
	Reset bool   `json:"reset,omitempty"`
}

// Eval runs code in the interpreter and returns the repr of its trailing
// expression ("" when the code produces no value). A failure raised by the
// code comes back as *ExecError; any other error means the instance itself
// is unusable or the caller gave up.
//
// Cancelling ctx abandons the wait but does not interrupt the interpreter:
// the eventual reply carries the abandoned command's sequence number and is
// discarded on arrival, so it can never be mistaken for a later Eval's
// result.
func (in *Instance) Eval(ctx context.Context, code string, reset bool) (string, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return "", ErrInstanceClosed
	}
	in.mu.Unlock()

	in.evalSeq++
	in.events.BeginEval(in.evalSeq)

	data, err := json.Marshal(command{Seq: in.evalSeq, Code: code, Reset: reset})
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	data = append(data, '\n')

	if _, err := in.stdin.Write(data); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}

	select {
	case reply := <-in.events.Done():
		if reply.err != nil {
			return "", reply.err
		}
		return reply.repr, nil
	case <-in.exited:
		in.mu.Lock()
		exitErr := in.exitErr
		in.mu.Unlock()
		if exitErr != nil {
			return "", fmt.Errorf("interpreter terminated: %w", exitErr)
		}
		return "", errors.New("interpreter terminated")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stderr returns anything the interpreter wrote to stderr outside the event
// protocol since the last Eval began.
func (in *Instance) Stderr() string {
	return in.events.Stderr()
}

// Close tears the instance down unconditionally. Any in-flight execution is
// aborted via the instance context; the interpreter sees EOF on stdin.
func (in *Instance) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.mu.Unlock()

	// EOF first so a blocked read exits cleanly, then cancel to kill a
	// compute-bound module.
	if in.stdinReader != nil {
		in.stdinReader.Close()
	}
	if in.stdin != nil {
		in.stdin.Close()
	}
	in.cancel()

	return nil
}
