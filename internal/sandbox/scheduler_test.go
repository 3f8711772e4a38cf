package sandbox

import (
	"context"
	"testing"
	"time"
)

type fakeExecutor struct {
	delay func(job *Job) time.Duration
}

func (f fakeExecutor) Execute(ctx context.Context, job *Job) (ExecResult, error) {
	if f.delay != nil {
		select {
		case <-time.After(f.delay(job)):
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		}
	}
	return ExecResult{Output: []byte(`{"ok":true}`)}, nil
}

func newTestScheduler() *Scheduler {
	cfg := Config{MaxQueueSize: 100, MinWorkers: 2, MaxWorkers: 4, PerTenantConcurrency: 2, ScaleDownCooldown: time.Second}
	return New(cfg, fakeExecutor{}, nil)
}

func TestScheduler_SubmitAndRun_DeliversResult(t *testing.T) {
	s := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	job := &Job{ID: "j1", TenantID: "t1", Code: "print(1)", Result: make(chan Result, 1)}
	if err := s.Submit(job); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-job.Result:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
}

func TestScheduler_QueueFull_RejectsSubmit(t *testing.T) {
	cfg := Config{MaxQueueSize: 1, MinWorkers: 1, MaxWorkers: 1, PerTenantConcurrency: 1, ScaleDownCooldown: time.Second}
	s := New(cfg, fakeExecutor{delay: func(*Job) time.Duration { return 200 * time.Millisecond }}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	first := &Job{ID: "first", TenantID: "t1", Result: make(chan Result, 1)}
	if err := s.Submit(first); err != nil {
		t.Fatal(err)
	}
	// Wait for the worker to take "first" off the queue so that "second"
	// fills the single queue slot while "first" is still executing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.queuedMu.Lock()
		n := s.queued
		s.queuedMu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first job to start")
		}
		time.Sleep(time.Millisecond)
	}
	second := &Job{ID: "second", TenantID: "t1", Result: make(chan Result, 1)}
	if err := s.Submit(second); err != nil {
		t.Fatal(err)
	}
	third := &Job{ID: "third", TenantID: "t1", Result: make(chan Result, 1)}
	if err := s.Submit(third); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestScheduler_Aging_PromotesStaleJob(t *testing.T) {
	s := newTestScheduler()
	job := &Job{ID: "old", TenantID: "t1", EnqueuedAt: time.Now().Add(-20 * time.Second)}
	s.low.push(job)

	s.age()

	if s.low.len() != 0 {
		t.Error("expected job to be promoted out of the low bucket")
	}
	if s.normal.len() != 1 {
		t.Error("expected job to land in the normal bucket after aging past 15s")
	}
}

func TestScheduler_PerTenantConcurrency_DoesNotStarveOtherTenants(t *testing.T) {
	cfg := Config{MaxQueueSize: 100, MinWorkers: 2, MaxWorkers: 4, PerTenantConcurrency: 1, ScaleDownCooldown: time.Second}
	release := make(chan struct{})
	exec := fakeExecutor{delay: func(j *Job) time.Duration {
		if j.TenantID == "busy" {
			<-release
		}
		return 0
	}}
	s := New(cfg, exec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	busy1 := &Job{ID: "busy-1", TenantID: "busy", Result: make(chan Result, 1)}
	busy2 := &Job{ID: "busy-2", TenantID: "busy", Result: make(chan Result, 1)}
	other := &Job{ID: "other-1", TenantID: "other", Result: make(chan Result, 1)}
	_ = s.Submit(busy1)
	_ = s.Submit(busy2)
	_ = s.Submit(other)

	select {
	case res := <-other.Result:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tenant 'other' was starved by tenant 'busy' holding its concurrency slot")
	}
	close(release)
}
