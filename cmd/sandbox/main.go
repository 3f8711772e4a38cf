// Command sandbox runs the MLFQ job scheduler as an HTTP service, exposing
// code execution to the engine's codeNode and a Prometheus metrics
// endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moduly/engine/internal/config"
	"github.com/moduly/engine/internal/engineerr"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/sandbox"
)

var queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "moduly_sandbox_queue_depth",
	Help: "Number of jobs queued across all priority buckets.",
})

func main() {
	logger := obs.InitLogging("sandbox")
	prometheus.MustRegister(queueDepthGauge)

	var cfg config.Sandbox
	if err := config.Load(&cfg); err != nil {
		logger.Error("loading sandbox config", "error", err)
		os.Exit(1)
	}

	harnessPath := os.Getenv("MODULY_SANDBOX_HARNESS_PATH")
	if harnessPath == "" {
		harnessPath = "./sandbox-harness"
	}
	exec := sandbox.NewProcessExecutor(harnessPath)
	exec.Limits = sandbox.Limits{
		MemoryBytes: uint64(cfg.MemoryLimitMB) << 20,
		CPUSeconds:  uint64(cfg.CPUTimeLimitSeconds),
	}
	exec.Bypass = cfg.BypassJail

	advisor := sandbox.NewAdvisor(cfg.HistoryCap, 200*time.Millisecond, 5*time.Second)
	schedulerCfg := sandbox.Config{
		MaxQueueSize:         cfg.MaxQueueSize,
		MinWorkers:           cfg.MinWorkers,
		MaxWorkers:           cfg.MaxWorkers,
		PerTenantConcurrency: cfg.PerTenantCap,
		ScaleDownCooldown:    time.Duration(cfg.ScaleDownCooldownSec) * time.Second,
	}
	sched := sandbox.New(schedulerCfg, exec, advisor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sched.Run(ctx)

	r := chi.NewRouter()
	r.Post("/v1/sandbox/execute", executeHandler(sched))
	r.Handle("/v1/sandbox/metrics", promhttp.Handler())

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queueDepthGauge.Set(float64(sched.QueueDepth()))
			}
		}
	}()

	srv := &http.Server{Addr: ":8082", Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("sandbox service starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// executeRequest/executeResponse are the `POST /v1/sandbox/execute` wire
// shape (spec.md §6): `{code, inputs, timeout, priority?, enable_network?,
// tenant_id?} -> {success, result?, error?, error_type?, execution_time_ms,
// memory_used_mb}`.
type executeRequest struct {
	TenantID      string          `json:"tenant_id,omitempty"`
	Code          string          `json:"code"`
	Input         json.RawMessage `json:"inputs"`
	TimeoutS      int             `json:"timeout"`
	Priority      string          `json:"priority,omitempty"`
	EnableNetwork bool            `json:"enable_network,omitempty"`
}

type executeResponse struct {
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorType       string          `json:"error_type,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	MemoryUsedMB    float64         `json:"memory_used_mb"`
}

func executeHandler(sched *sandbox.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		timeout := 10 * time.Second
		if req.TimeoutS > 0 {
			timeout = time.Duration(req.TimeoutS) * time.Second
		}
		job := &sandbox.Job{
			TenantID:      req.TenantID,
			Code:          req.Code,
			Input:         req.Input,
			Timeout:       timeout,
			EnableNetwork: req.EnableNetwork,
			Result:        make(chan sandbox.Result, 1),
		}
		if req.Priority != "" {
			if p, ok := sandbox.ParsePriority(req.Priority); ok {
				job.RequestedPriority = &p
			}
		}
		if err := sched.Submit(job); err != nil {
			if errors.Is(err, sandbox.ErrQueueFull) {
				writeJSON(w, engineerr.HTTPStatus(engineerr.ErrOverloaded), executeResponse{
					Success: false, Error: err.Error(), ErrorType: "Overloaded",
				})
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case res := <-job.Result:
			resp := executeResponse{
				Success:         res.Err == nil,
				ExecutionTimeMs: res.ExecutionTime.Milliseconds(),
				MemoryUsedMB:    res.MemoryUsedMB,
			}
			if res.Err != nil {
				resp.Error = res.Err.Error()
				resp.ErrorType = errorType(res.Err)
				writeJSON(w, http.StatusUnprocessableEntity, resp)
				return
			}
			resp.Result = res.Output
			writeJSON(w, http.StatusOK, resp)
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
	}
}

// errorType maps a sandbox execution error to spec.md §6's `error_type`
// enum, distinguishing the three typed failure modes exec.go returns.
func errorType(err error) string {
	var runtimeErr *sandbox.RuntimeError
	var timeoutErr *sandbox.TimeoutError
	var sandboxErr *sandbox.SandboxError
	switch {
	case errors.As(err, &runtimeErr):
		return "Runtime"
	case errors.As(err, &timeoutErr):
		return "Timeout"
	case errors.As(err, &sandboxErr):
		return "Sandbox"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
