package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/pyrite/pool"
	"github.com/caffeineduck/pyrite/runner"
	"github.com/caffeineduck/pyrite/server"
)

type fakeExecutor struct {
	result    runner.Result
	err       error
	ready     bool
	count     uint64
	lastCode  string
	lastReset bool
}

func (f *fakeExecutor) Execute(ctx context.Context, code string, reset bool) (runner.Result, error) {
	f.lastCode = code
	f.lastReset = reset
	return f.result, f.err
}

func (f *fakeExecutor) Ready() bool            { return f.ready }
func (f *fakeExecutor) ExecutionCount() uint64 { return f.count }

func newTestServer(exec *fakeExecutor, defaultReset bool) http.Handler {
	srv := server.New(exec, server.Config{
		DefaultReset: defaultReset,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return srv.Handler()
}

func postExecute(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestExecuteSuccess(t *testing.T) {
	exec := &fakeExecutor{
		ready:  true,
		result: runner.Result{Status: runner.StatusSuccess, Result: "2", ExecutionTimeMs: 3},
	}
	h := newTestServer(exec, false)

	rec := postExecute(t, h, `{"code": "1 + 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result runner.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, runner.StatusSuccess, result.Status)
	assert.Equal(t, "2", result.Result)
	assert.Equal(t, int64(3), result.ExecutionTimeMs)
	assert.Equal(t, "1 + 1", exec.lastCode)
}

func TestExecuteExceptionIsStillOK(t *testing.T) {
	exec := &fakeExecutor{
		ready:  true,
		result: runner.Result{Status: runner.StatusException, Result: "NameError: name 'x' is not defined"},
	}
	h := newTestServer(exec, false)

	rec := postExecute(t, h, `{"code": "x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result runner.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, runner.StatusException, result.Status)
}

func TestExecuteErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", pool.ErrTimeout, http.StatusGatewayTimeout},
		{"single-instance timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"no workers", pool.ErrNoWorkers, http.StatusServiceUnavailable},
		{"queue full", pool.ErrQueueFull, http.StatusServiceUnavailable},
		{"closed", pool.ErrClosed, http.StatusServiceUnavailable},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeExecutor{ready: true, err: tt.err}, false)

			rec := postExecute(t, h, `{"code": "1"}`)
			assert.Equal(t, tt.want, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(runner.StatusError), resp["status"])
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestExecuteBadRequest(t *testing.T) {
	h := newTestServer(&fakeExecutor{ready: true}, false)

	rec := postExecute(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postExecute(t, h, `{"code": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteResetDefaulting(t *testing.T) {
	exec := &fakeExecutor{ready: true, result: runner.Result{Status: runner.StatusSuccess}}
	h := newTestServer(exec, true)

	// omitted -> server default
	postExecute(t, h, `{"code": "1"}`)
	assert.True(t, exec.lastReset)

	// explicit false overrides the default
	postExecute(t, h, `{"code": "1", "reset_namespace": false}`)
	assert.False(t, exec.lastReset)

	// explicit true
	postExecute(t, h, `{"code": "1", "reset_namespace": true}`)
	assert.True(t, exec.lastReset)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeExecutor{ready: true, count: 12}, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["ready"])
	assert.Equal(t, float64(12), resp["execution_count"])
}

func TestHealthNotReady(t *testing.T) {
	h := newTestServer(&fakeExecutor{ready: false}, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "starting", resp["status"])
}
