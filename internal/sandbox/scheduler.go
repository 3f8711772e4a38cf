package sandbox

import (
	"context"
	"sync"
	"time"
)

// Executor runs one job's code in isolation (process-per-job; see exec.go).
type Executor interface {
	Execute(ctx context.Context, job *Job) (ExecResult, error)
}

// Config bounds the scheduler's resource usage (spec.md §4.3).
type Config struct {
	MaxQueueSize        int
	MinWorkers          int
	MaxWorkers          int
	PerTenantConcurrency int
	ScaleDownCooldown   time.Duration
}

// DefaultConfig mirrors spec.md §4.3's defaults.
var DefaultConfig = Config{
	MaxQueueSize:         1000,
	MinWorkers:           2,
	MaxWorkers:           32,
	PerTenantConcurrency: 3,
	ScaleDownCooldown:    30 * time.Second,
}

// ErrQueueFull is returned by Submit when MaxQueueSize would be exceeded.
type queueFullErr struct{}

func (queueFullErr) Error() string { return "sandbox: queue full" }

var ErrQueueFull = queueFullErr{}

// Scheduler is the three-bucket MLFQ job scheduler.
type Scheduler struct {
	cfg      Config
	exec     Executor
	advisor  *Advisor
	high     *bucket
	normal   *bucket
	low      *bucket
	wakeup   chan struct{}
	queued   int
	queuedMu sync.Mutex

	tenantInFlight   map[string]int
	tenantInFlightMu sync.Mutex

	pool *workerPool
}

// New builds a Scheduler backed by exec for job execution and adv for
// priority suggestions on new jobs.
func New(cfg Config, exec Executor, adv *Advisor) *Scheduler {
	s := &Scheduler{
		cfg:            cfg,
		exec:           exec,
		advisor:        adv,
		high:           newBucket(),
		normal:         newBucket(),
		low:            newBucket(),
		wakeup:         make(chan struct{}, 1),
		tenantInFlight: make(map[string]int),
	}
	s.pool = newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.ScaleDownCooldown, s.runOne)
	return s
}

// Run starts the aging ticker and worker pool; blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.pool.run(ctx)
	ticker := time.NewTicker(AgingTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.age()
		case <-s.wakeup:
			s.pool.recordArrival()
		}
	}
}

// Submit enqueues job into the bucket suggested by the execution-history
// advisor (or PriorityNormal absent history), subject to MaxQueueSize
// backpressure.
func (s *Scheduler) Submit(job *Job) error {
	s.queuedMu.Lock()
	if s.queued >= s.cfg.MaxQueueSize {
		s.queuedMu.Unlock()
		return ErrQueueFull
	}
	s.queued++
	s.queuedMu.Unlock()

	job.EnqueuedAt = time.Now()
	switch {
	case job.RequestedPriority != nil:
		job.Priority = *job.RequestedPriority
	case s.advisor != nil:
		job.Priority = s.advisor.Suggest(job.Code)
	default:
		job.Priority = PriorityNormal
	}
	s.bucketFor(job.Priority).push(job)

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return nil
}

func (s *Scheduler) bucketFor(p Priority) *bucket {
	switch p {
	case PriorityHigh:
		return s.high
	case PriorityLow:
		return s.low
	default:
		return s.normal
	}
}

// next pops the highest-priority, tenant-concurrency-eligible job across
// all three buckets, or nil if none is runnable right now.
func (s *Scheduler) next() *Job {
	for _, b := range []*bucket{s.high, s.normal, s.low} {
		if j := s.popEligible(b); j != nil {
			return j
		}
	}
	return nil
}

func (s *Scheduler) popEligible(b *bucket) *Job {
	// A bucket may contain jobs from tenants already at their concurrency
	// cap; skip those without blocking other tenants' jobs behind them.
	var deferred []*Job
	defer func() {
		for _, j := range deferred {
			b.push(j)
		}
	}()
	attempts := b.len()
	for i := 0; i < attempts; i++ {
		j := b.pop()
		if j == nil {
			return nil
		}
		if s.tryAcquireTenant(j.TenantID) {
			return j
		}
		deferred = append(deferred, j)
	}
	return nil
}

func (s *Scheduler) tryAcquireTenant(tenantID string) bool {
	s.tenantInFlightMu.Lock()
	defer s.tenantInFlightMu.Unlock()
	if s.tenantInFlight[tenantID] >= s.cfg.PerTenantConcurrency {
		return false
	}
	s.tenantInFlight[tenantID]++
	return true
}

func (s *Scheduler) releaseTenant(tenantID string) {
	s.tenantInFlightMu.Lock()
	defer s.tenantInFlightMu.Unlock()
	s.tenantInFlight[tenantID]--
}

// age promotes tenants whose oldest queued job has waited past the
// threshold: LOW -> NORMAL at 15s, NORMAL -> HIGH at 30s.
func (s *Scheduler) age() {
	now := time.Now()
	for tenantID, wait := range s.low.oldestWaitByTenant(now) {
		if wait >= AgeLowToNormal {
			for _, j := range s.low.drainTenant(tenantID) {
				j.Priority = PriorityNormal
				s.normal.push(j)
			}
		}
	}
	for tenantID, wait := range s.normal.oldestWaitByTenant(now) {
		if wait >= AgeNormalToHigh {
			for _, j := range s.normal.drainTenant(tenantID) {
				j.Priority = PriorityHigh
				s.high.push(j)
			}
		}
	}
}

// runOne executes a single job end to end: pop, run, release, record.
func (s *Scheduler) runOne(ctx context.Context) bool {
	job := s.next()
	if job == nil {
		return false
	}
	s.queuedMu.Lock()
	s.queued--
	s.queuedMu.Unlock()

	start := time.Now()
	jobCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	execRes, err := s.exec.Execute(jobCtx, job)
	elapsed := time.Since(start)
	s.releaseTenant(job.TenantID)

	if s.advisor != nil {
		s.advisor.Record(job.Code, elapsed)
	}
	if job.Result != nil {
		job.Result <- Result{
			Output:        execRes.Output,
			MemoryUsedMB:  execRes.MemoryUsedMB,
			ExecutionTime: elapsed,
			Err:           err,
		}
	}
	return true
}

// QueueDepth reports the total jobs waiting across all buckets, for
// /v1/sandbox/metrics.
func (s *Scheduler) QueueDepth() int {
	return s.high.len() + s.normal.len() + s.low.len()
}
