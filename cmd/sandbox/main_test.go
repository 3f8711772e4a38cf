package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moduly/engine/internal/sandbox"
)

type fakeExecutor struct {
	output []byte
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, job *sandbox.Job) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Output: f.output}, f.err
}

func newTestScheduler(t *testing.T, exec sandbox.Executor) (*sandbox.Scheduler, context.CancelFunc) {
	t.Helper()
	adv := sandbox.NewAdvisor(100, 50*time.Millisecond, time.Second)
	sched := sandbox.New(sandbox.Config{
		MaxQueueSize:         10,
		MinWorkers:           1,
		MaxWorkers:           2,
		PerTenantConcurrency: 3,
		ScaleDownCooldown:    time.Second,
	}, exec, adv)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return sched, cancel
}

func TestExecuteHandler_ReturnsSchedulerOutput(t *testing.T) {
	sched, cancel := newTestScheduler(t, &fakeExecutor{output: []byte(`{"success":true,"result":7}`)})
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/execute", strings.NewReader(`{"code":"return 1+1","inputs":{},"timeout":5}`))
	rec := httptest.NewRecorder()
	executeHandler(sched).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestExecuteHandler_ExecutorError_ReturnsUnprocessable(t *testing.T) {
	sched, cancel := newTestScheduler(t, &fakeExecutor{err: assert.AnError})
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/execute", strings.NewReader(`{"code":"raise","inputs":{}}`))
	rec := httptest.NewRecorder()
	executeHandler(sched).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteHandler_InvalidBody_ReturnsBadRequest(t *testing.T) {
	sched, cancel := newTestScheduler(t, &fakeExecutor{})
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/execute", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	executeHandler(sched).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type slowExecutor struct{ delay time.Duration }

func (s *slowExecutor) Execute(ctx context.Context, job *sandbox.Job) (sandbox.ExecResult, error) {
	time.Sleep(s.delay)
	return sandbox.ExecResult{Output: []byte(`{}`)}, nil
}

func TestExecuteHandler_RequestCancelled_Returns408(t *testing.T) {
	sched, cancel := newTestScheduler(t, &slowExecutor{delay: 100 * time.Millisecond})
	defer cancel()

	ctx, reqCancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/execute", strings.NewReader(`{"code":"x","inputs":{}}`)).WithContext(ctx)
	reqCancel()
	rec := httptest.NewRecorder()
	executeHandler(sched).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
}
