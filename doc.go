// Package pyrite coordinates code execution against a pool of long-lived
// embedded Python interpreters.
//
// # Overview
//
// pyrite keeps stateful WASM-hosted interpreter instances warm and routes
// concurrent execution requests across them. Each instance runs at most one
// program at a time; the pool dispatcher handles routing, response
// correlation, and per-request timeouts.
//
// # Basic Usage
//
//	eng, _ := engine.New("python.wasm")
//	defer eng.Close()
//
//	// Single instance, state persists across calls
//	inst, _ := eng.NewInstance()
//	defer inst.Close()
//	run := runner.New(inst)
//	run.Execute(ctx, `x = 42`, false)
//	result, _ := run.Execute(ctx, `x`, false)  // result.Result == "42"
//
//	// Pool of isolated instances
//	p, _ := pool.New(pool.Config{Workers: 4}, func(int) (pool.Instance, error) {
//	    return eng.NewInstance()
//	})
//	defer p.Close()
//	result, _ = p.Execute(ctx, `1 + 1`, true)  // result.Result == "2"
//
// See the [engine], [runner], [pool], and [server] packages for detailed
// API documentation.
package pyrite
