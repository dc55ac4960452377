// Package pool fans code execution out across a fixed set of interpreter
// workers. Each worker owns one interpreter instance in its own goroutine;
// the dispatcher routes requests to ready workers, correlates responses by
// id, and enforces per-request timeouts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/pyrite/metrics"
	"github.com/caffeineduck/pyrite/runner"
)

var (
	// ErrNoWorkers means no worker is currently ready to take a request.
	ErrNoWorkers = errors.New("no workers available")
	// ErrQueueFull means the selected worker's request queue is saturated.
	ErrQueueFull = errors.New("worker queue full")
	// ErrTimeout means the caller's wait expired; the underlying execution
	// is not cancelled and its eventual result is discarded.
	ErrTimeout = errors.New("execution timed out")
	// ErrClosed means the pool was terminated while the request was
	// pending or before it was accepted.
	ErrClosed = errors.New("pool terminated")
)

// Config controls pool construction.
type Config struct {
	// Workers is the number of interpreter instances. Must be >= 1; a
	// zero-worker deployment should use a runner.Runner directly.
	Workers int
	// Timeout bounds each request from dispatch to response.
	Timeout time.Duration
	// QueueDepth is each worker's request buffer.
	QueueDepth int
	// StartTimeout bounds how long New waits for all workers to report
	// ready.
	StartTimeout time.Duration
	// Logger receives dispatcher events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type outcome struct {
	res runner.Result
	err error
}

type submit struct {
	code  string
	reset bool
	reply chan outcome
}

type pendingRequest struct {
	reply chan outcome
	timer *time.Timer
}

// Pool is the dispatcher. All routing state (worker readiness, the pending
// table, id allocation) is owned by a single event loop goroutine; workers
// and callers communicate with it exclusively through channels.
type Pool struct {
	cfg        Config
	forceReset bool
	workers    []*worker

	submits  chan submit
	msgs     chan message
	timeouts chan uint64
	closeReq chan chan struct{}
	done     chan struct{}

	fullyReady atomic.Bool
	executions atomic.Uint64
	closeOnce  sync.Once
}

// New spawns all workers concurrently and waits until every one reports
// ready. Any worker failing to initialize fails the whole pool.
//
// With more than one worker, every request executes in a fresh namespace
// regardless of what the caller asked for: state cannot be consistent
// across instances, so cross-request state is not offered at all.
func New(cfg Config, factory Factory) (*Pool, error) {
	cfg.applyDefaults()
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pool requires at least one worker, got %d", cfg.Workers)
	}

	p := &Pool{
		cfg:        cfg,
		forceReset: cfg.Workers > 1,
		submits:    make(chan submit),
		msgs:       make(chan message, cfg.Workers*(cfg.QueueDepth+2)),
		timeouts:   make(chan uint64),
		closeReq:   make(chan chan struct{}),
		done:       make(chan struct{}),
	}

	p.workers = make([]*worker, cfg.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, cfg.QueueDepth, p.msgs, factory)
	}

	startCh := make(chan error, 1)
	go p.loop(startCh)

	select {
	case err := <-startCh:
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start pool: %w", err)
		}
		return p, nil
	case <-time.After(cfg.StartTimeout):
		p.Close()
		return nil, errors.New("start pool: timeout waiting for workers")
	}
}

// Execute routes code to a ready worker and waits for the correlated
// response, a timeout, or pool termination; exactly one of the three.
//
// Cancelling ctx detaches the caller; the request itself still runs to
// resolution under its own timer.
func (p *Pool) Execute(ctx context.Context, code string, reset bool) (runner.Result, error) {
	if p.forceReset {
		reset = true
	}

	reply := make(chan outcome, 1)
	select {
	case p.submits <- submit{code: code, reset: reset, reply: reply}:
	case <-p.done:
		return runner.Result{}, ErrClosed
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}

	select {
	case o := <-reply:
		return o.res, o.err
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}
}

// Ready reports whether every worker is currently ready. A pool that lost a
// worker reports false even though it may still serve requests on the rest.
func (p *Pool) Ready() bool {
	return p.fullyReady.Load()
}

// ExecutionCount reports requests accepted for dispatch since startup.
func (p *Pool) ExecutionCount() uint64 {
	return p.executions.Load()
}

// Close terminates every worker unconditionally and rejects all pending
// requests with ErrClosed. In-flight work is discarded, never drained.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		ack := make(chan struct{})
		p.closeReq <- ack
		<-ack
	})
}

func (p *Pool) loop(startCh chan<- error) {
	log := p.cfg.Logger

	n := len(p.workers)
	ready := make([]bool, n)
	readyCount := 0
	started := false

	pendings := make(map[uint64]pendingRequest)
	var nextID uint64

	setReady := func(i int, ok bool) {
		if ready[i] == ok {
			return
		}
		ready[i] = ok
		if ok {
			readyCount++
		} else {
			readyCount--
		}
		p.fullyReady.Store(readyCount == n)
		metrics.WorkersReady.Set(float64(readyCount))
	}

	resolve := func(id uint64, o outcome, status string) {
		pr, ok := pendings[id]
		if !ok {
			// late response for an abandoned request
			log.Debug("dropping orphaned response", "request_id", id)
			return
		}
		delete(pendings, id)
		pr.timer.Stop()
		metrics.ExecutionsTotal.WithLabelValues(status).Inc()
		pr.reply <- o
	}

	for {
		select {
		case sub := <-p.submits:
			var candidates []int
			for i := range ready {
				if ready[i] {
					candidates = append(candidates, i)
				}
			}
			if len(candidates) == 0 {
				metrics.ExecutionsTotal.WithLabelValues(string(runner.StatusError)).Inc()
				sub.reply <- outcome{err: ErrNoWorkers}
				continue
			}

			target := p.workers[candidates[rand.Intn(len(candidates))]]

			id := nextID
			nextID++

			select {
			case target.requests <- request{id: id, code: sub.code, reset: sub.reset}:
			default:
				metrics.ExecutionsTotal.WithLabelValues(string(runner.StatusError)).Inc()
				sub.reply <- outcome{err: ErrQueueFull}
				continue
			}

			p.executions.Add(1)
			timer := time.AfterFunc(p.cfg.Timeout, func() {
				select {
				case p.timeouts <- id:
				case <-p.done:
				}
			})
			pendings[id] = pendingRequest{reply: sub.reply, timer: timer}

		case msg := <-p.msgs:
			switch msg.kind {
			case msgReady:
				setReady(msg.unitID, true)
				log.Info("worker ready", "worker", msg.unitID)
				if !started && readyCount == n {
					started = true
					startCh <- nil
				}

			case msgInitError:
				log.Error("worker failed to initialize", "worker", msg.unitID, "error", msg.err)
				if !started {
					started = true
					startCh <- msg.err
				}

			case msgDown:
				setReady(msg.unitID, false)
				log.Error("worker down", "worker", msg.unitID, "error", msg.err)
				if !started {
					started = true
					startCh <- msg.err
				}

			case msgResult:
				metrics.ExecutionSeconds.Observe(float64(msg.result.ExecutionTimeMs) / 1000)
				resolve(msg.id, outcome{res: msg.result}, string(msg.result.Status))

			case msgExecError:
				resolve(msg.id, outcome{err: msg.err}, string(runner.StatusError))
			}

		case id := <-p.timeouts:
			resolve(id, outcome{err: fmt.Errorf("%w after %v", ErrTimeout, p.cfg.Timeout)}, string(runner.StatusError))

		case ack := <-p.closeReq:
			for id, pr := range pendings {
				pr.timer.Stop()
				metrics.ExecutionsTotal.WithLabelValues(string(runner.StatusError)).Inc()
				pr.reply <- outcome{err: ErrClosed}
				delete(pendings, id)
			}
			for _, w := range p.workers {
				w.terminate()
			}
			p.fullyReady.Store(false)
			metrics.WorkersReady.Set(0)
			close(p.done)
			ack <- struct{}{}
			return
		}
	}
}
