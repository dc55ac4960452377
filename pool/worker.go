package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/caffeineduck/pyrite/runner"
)

// Instance is what a worker needs from an interpreter: evaluation plus
// teardown. engine.Instance satisfies it.
type Instance interface {
	runner.Interpreter
	Close() error
}

// Factory creates the interpreter owned by one worker. It runs inside the
// worker's goroutine; a returned error marks the worker permanently failed.
type Factory func(unitID int) (Instance, error)

type request struct {
	id    uint64
	code  string
	reset bool
}

type msgKind int

const (
	msgReady msgKind = iota
	msgInitError
	msgResult
	msgExecError
	msgDown
)

// message is the only thing a worker shares with the dispatcher.
type message struct {
	kind   msgKind
	unitID int
	id     uint64
	result runner.Result
	err    error
}

// worker hosts one interpreter instance and its runner in a dedicated
// goroutine. Requests arrive on a buffered channel; every request produces
// exactly one result or error message. Requests queued before initialization
// completes are served after it (or rejected if it fails).
type worker struct {
	id       int
	requests chan request
	out      chan<- message
	factory  Factory

	mu       sync.Mutex
	inst     Instance
	stopOnce sync.Once
}

func newWorker(id, queueDepth int, out chan<- message, factory Factory) *worker {
	w := &worker{
		id:       id,
		requests: make(chan request, queueDepth),
		out:      out,
		factory:  factory,
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer func() {
		if rec := recover(); rec != nil {
			w.out <- message{kind: msgDown, unitID: w.id, err: fmt.Errorf("worker %d panic: %v", w.id, rec)}
		}
	}()

	inst, err := w.factory(w.id)
	if err != nil {
		w.out <- message{kind: msgInitError, unitID: w.id, err: err}
		for req := range w.requests {
			w.out <- message{
				kind:   msgExecError,
				unitID: w.id,
				id:     req.id,
				err:    fmt.Errorf("worker %d not initialized: %w", w.id, err),
			}
		}
		return
	}

	w.mu.Lock()
	w.inst = inst
	w.mu.Unlock()
	defer inst.Close()

	r := runner.New(inst)
	w.out <- message{kind: msgReady, unitID: w.id}

	for req := range w.requests {
		res, err := r.Execute(context.Background(), req.code, req.reset)
		if err != nil {
			w.out <- message{kind: msgExecError, unitID: w.id, id: req.id, err: err}
			continue
		}
		w.out <- message{kind: msgResult, unitID: w.id, id: req.id, result: res}
	}
}

// terminate shuts the worker down unconditionally: no more requests, and the
// interpreter is closed out from under any in-flight execution.
func (w *worker) terminate() {
	w.stopOnce.Do(func() { close(w.requests) })

	w.mu.Lock()
	inst := w.inst
	w.mu.Unlock()
	if inst != nil {
		inst.Close()
	}
}
