package pool_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/pyrite/engine"
	"github.com/caffeineduck/pyrite/pool"
	"github.com/caffeineduck/pyrite/runner"
)

// fakeInstance stands in for an interpreter and records per-instance
// overlap and reset flags.
type fakeInstance struct {
	id     int
	delay  time.Duration
	evalFn func(code string, reset bool) (string, error)

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	resets      []bool
}

func (f *fakeInstance) Eval(ctx context.Context, code string, reset bool) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.resets = append(f.resets, reset)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if code == "panic" {
		panic("deliberate fault")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.evalFn != nil {
		return f.evalFn(code, reset)
	}
	return "ok", nil
}

func (f *fakeInstance) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFakePool builds a pool whose workers all share the given eval behavior
// and returns the instances for inspection.
func newFakePool(t *testing.T, cfg pool.Config, delay time.Duration, evalFn func(string, bool) (string, error)) (*pool.Pool, []*fakeInstance) {
	t.Helper()

	cfg.Logger = quietLogger()

	var mu sync.Mutex
	var instances []*fakeInstance

	p, err := pool.New(cfg, func(unitID int) (pool.Instance, error) {
		inst := &fakeInstance{id: unitID, delay: delay, evalFn: evalFn}
		mu.Lock()
		instances = append(instances, inst)
		mu.Unlock()
		return inst, nil
	})
	if err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(p.Close)

	mu.Lock()
	defer mu.Unlock()
	return p, instances
}

func TestPoolStartsAllWorkers(t *testing.T) {
	p, instances := newFakePool(t, pool.Config{Workers: 3}, 0, nil)

	if !p.Ready() {
		t.Error("expected pool to be fully ready after New")
	}
	if len(instances) != 3 {
		t.Errorf("expected 3 instances, got %d", len(instances))
	}

	p.Close()
	if p.Ready() {
		t.Error("expected pool not ready after Close")
	}
}

func TestPoolInitFailureFailsFast(t *testing.T) {
	initErr := errors.New("no interpreter for you")

	_, err := pool.New(pool.Config{Workers: 3, Logger: quietLogger()}, func(unitID int) (pool.Instance, error) {
		if unitID == 1 {
			return nil, initErr
		}
		return &fakeInstance{id: unitID}, nil
	})
	if err == nil {
		t.Fatal("expected pool construction to fail")
	}
	if !errors.Is(err, initErr) {
		t.Errorf("expected init error to surface, got %v", err)
	}
}

func TestPoolExecute(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1}, 0, func(code string, reset bool) (string, error) {
		return "2", nil
	})

	result, err := p.Execute(context.Background(), "x = 1 + 1; x", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != runner.StatusSuccess {
		t.Errorf("expected success, got %q", result.Status)
	}
	if result.Result != "2" {
		t.Errorf("expected '2', got %q", result.Result)
	}
}

func TestPoolExceptionIsResultNotError(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1}, 0, func(code string, reset bool) (string, error) {
		return "", &engine.ExecError{Type: "NameError", Message: "NameError: name 'x' is not defined"}
	})

	result, err := p.Execute(context.Background(), "x", false)
	if err != nil {
		t.Fatalf("code failure must not surface as error, got: %v", err)
	}
	if result.Status != runner.StatusException {
		t.Errorf("expected exception, got %q", result.Status)
	}
	if result.Result != "NameError: name 'x' is not defined" {
		t.Errorf("unexpected result: %q", result.Result)
	}
}

func TestPoolConcurrentLoad(t *testing.T) {
	const requests = 50

	p, instances := newFakePool(t, pool.Config{Workers: 3, QueueDepth: requests}, time.Millisecond, nil)

	var wg sync.WaitGroup
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			defer wg.Done()
			result, err := p.Execute(context.Background(), "1", i%2 == 0)
			if err != nil {
				t.Errorf("request %d failed: %v", i, err)
				return
			}
			if result.Status != runner.StatusSuccess {
				t.Errorf("request %d: expected success, got %q", i, result.Status)
			}
		}(i)
	}
	wg.Wait()

	if got := p.ExecutionCount(); got != requests {
		t.Errorf("expected execution count %d, got %d", requests, got)
	}

	total := 0
	for _, inst := range instances {
		inst.mu.Lock()
		if inst.maxInFlight > 1 {
			t.Errorf("instance %d observed %d overlapping evals", inst.id, inst.maxInFlight)
		}
		total += len(inst.resets)
		inst.mu.Unlock()
	}
	if total != requests {
		t.Errorf("expected %d evals across instances, got %d", requests, total)
	}
}

func TestPoolForcesResetWithMultipleWorkers(t *testing.T) {
	p, instances := newFakePool(t, pool.Config{Workers: 2}, 0, nil)

	for i := 0; i < 4; i++ {
		if _, err := p.Execute(context.Background(), "1", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for _, inst := range instances {
		inst.mu.Lock()
		for _, reset := range inst.resets {
			if !reset {
				t.Error("expected every request on a multi-worker pool to reset")
			}
		}
		inst.mu.Unlock()
	}
}

func TestPoolSingleWorkerKeepsCallerReset(t *testing.T) {
	p, instances := newFakePool(t, pool.Config{Workers: 1}, 0, nil)

	p.Execute(context.Background(), "1", false)
	p.Execute(context.Background(), "1", true)

	inst := instances[0]
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if len(inst.resets) != 2 || inst.resets[0] != false || inst.resets[1] != true {
		t.Errorf("expected caller reset flags preserved, got %v", inst.resets)
	}
}

func TestPoolTimeout(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1, Timeout: 50 * time.Millisecond}, 300*time.Millisecond, nil)

	start := time.Now()
	_, err := p.Execute(context.Background(), "slow", false)
	elapsed := time.Since(start)

	if !errors.Is(err, pool.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v, expected roughly the configured 50ms", elapsed)
	}
}

func TestPoolOrphanedResultDiscarded(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1, Timeout: 50 * time.Millisecond}, 0, func(code string, reset bool) (string, error) {
		if code == "slow" {
			time.Sleep(150 * time.Millisecond)
			return "stale", nil
		}
		return "fresh", nil
	})

	if _, err := p.Execute(context.Background(), "slow", false); !errors.Is(err, pool.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// let the abandoned execution finish and its result be dropped
	time.Sleep(200 * time.Millisecond)

	result, err := p.Execute(context.Background(), "fast", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Result != "fresh" {
		t.Errorf("expected fresh result, got %q (stale leak?)", result.Result)
	}
}

func TestPoolCloseRejectsPending(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1, Timeout: 5 * time.Second}, 500*time.Millisecond, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), "slow", false)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the request reach the worker
	p.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, pool.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected on close")
	}

	if _, err := p.Execute(context.Background(), "1", false); !errors.Is(err, pool.ErrClosed) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestPoolWorkerCrashDegradesReadiness(t *testing.T) {
	p, _ := newFakePool(t, pool.Config{Workers: 1, Timeout: 100 * time.Millisecond}, 0, nil)

	if _, err := p.Execute(context.Background(), "panic", false); !errors.Is(err, pool.ErrTimeout) {
		t.Fatalf("expected the crashed request to orphan into a timeout, got %v", err)
	}

	// give the dispatcher a moment to process the down message
	deadline := time.Now().Add(time.Second)
	for p.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Ready() {
		t.Fatal("expected readiness to degrade after worker crash")
	}

	if _, err := p.Execute(context.Background(), "1", false); !errors.Is(err, pool.ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers with no ready units, got %v", err)
	}
}

func TestPoolRequiresWorkers(t *testing.T) {
	_, err := pool.New(pool.Config{Workers: 0, Logger: quietLogger()}, func(int) (pool.Instance, error) {
		return &fakeInstance{}, nil
	})
	if err == nil {
		t.Fatal("expected error for zero workers")
	}
}
