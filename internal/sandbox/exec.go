package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RuntimeError, SandboxError, and TimeoutError are the three typed failure
// modes a codeNode execution can surface (spec.md §4.3), distinguished so
// callers can decide whether a retry is worthwhile.
type RuntimeError struct{ Stderr string }

func (e *RuntimeError) Error() string { return "sandbox: runtime error: " + e.Stderr }

type SandboxError struct{ Cause error }

func (e *SandboxError) Error() string { return fmt.Sprintf("sandbox: harness error: %v", e.Cause) }
func (e *SandboxError) Unwrap() error { return e.Cause }

type TimeoutError struct{ Limit time.Duration }

func (e *TimeoutError) Error() string { return fmt.Sprintf("sandbox: execution timed out after %s", e.Limit) }

// Limits bounds one job's resource consumption (spec.md §4.3 defaults).
type Limits struct {
	MemoryBytes uint64
	CPUSeconds  uint64
}

var DefaultLimits = Limits{MemoryBytes: 128 << 20, CPUSeconds: 10}

// ProcessExecutor runs each job as a child process of HarnessPath, passing
// the job's code+input via a read-only temp file and reading a JSON result
// from stdout. Bypass skips rlimit enforcement for local development where
// the harness binary may not have CAP_SYS_RESOURCE.
type ProcessExecutor struct {
	HarnessPath string
	Limits      Limits
	Bypass      bool
}

func NewProcessExecutor(harnessPath string) *ProcessExecutor {
	return &ProcessExecutor{HarnessPath: harnessPath, Limits: DefaultLimits}
}

type harnessInput struct {
	Code  string          `json:"code"`
	Input json.RawMessage `json:"input"`
}

func (e *ProcessExecutor) Execute(ctx context.Context, job *Job) (ExecResult, error) {
	inFile, err := os.CreateTemp("", "sandbox-input-*.json")
	if err != nil {
		return ExecResult{}, &SandboxError{Cause: err}
	}
	defer os.Remove(inFile.Name())

	payload, err := json.Marshal(harnessInput{Code: job.Code, Input: job.Input})
	if err != nil {
		return ExecResult{}, &SandboxError{Cause: err}
	}
	if _, err := inFile.Write(payload); err != nil {
		_ = inFile.Close()
		return ExecResult{}, &SandboxError{Cause: err}
	}
	if err := inFile.Close(); err != nil {
		return ExecResult{}, &SandboxError{Cause: err}
	}
	if err := os.Chmod(inFile.Name(), 0o400); err != nil {
		return ExecResult{}, &SandboxError{Cause: err}
	}

	cmd := exec.CommandContext(ctx, e.HarnessPath, inFile.Name())
	if !e.Bypass {
		attr := &syscall.SysProcAttr{}
		if !job.EnableNetwork {
			// Network allowed only on explicit request (spec.md §4.3).
			// Same privilege envelope as the rlimit enforcement below: a
			// harness without CAP_SYS_ADMIN fails this clone, which is why
			// it's skipped under Bypass just like the rlimits are.
			attr.Cloneflags = syscall.CLONE_NEWNET
		}
		cmd.SysProcAttr = attr
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if !e.Bypass {
		// The harness applies RLIMIT_AS/RLIMIT_CPU to itself on startup
		// (golang.org/x/sys/unix.Setrlimit only affects the calling
		// process, so the limits must be self-applied inside the child
		// before it execs the submitted code, not set by this parent).
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("SANDBOX_LIMIT_MEM=%d", e.Limits.MemoryBytes),
			fmt.Sprintf("SANDBOX_LIMIT_CPU=%d", e.Limits.CPUSeconds),
		)
	}

	runErr := cmd.Run()
	memMB := peakRSSMB(cmd.ProcessState)

	if ctx.Err() == context.DeadlineExceeded {
		limit := job.Timeout
		if limit == 0 {
			limit = time.Duration(e.Limits.CPUSeconds) * time.Second
		}
		return ExecResult{MemoryUsedMB: memMB}, &TimeoutError{Limit: limit}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return ExecResult{MemoryUsedMB: memMB}, &RuntimeError{Stderr: stderr.String()}
		}
		return ExecResult{MemoryUsedMB: memMB}, &SandboxError{Cause: runErr}
	}
	return ExecResult{Output: stdout.Bytes(), MemoryUsedMB: memMB}, nil
}

// peakRSSMB reads the child's peak resident set size off its rusage, for
// spec.md §6's `memory_used_mb`. Returns 0 if state is nil or the platform
// doesn't expose Rusage as *syscall.Rusage (ProcessState.SysUsage's
// documented type on linux/darwin).
func peakRSSMB(state *os.ProcessState) float64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	// Maxrss is KB on Linux, bytes on Darwin; this harness targets Linux
	// deployment (the jailer/rlimit mechanism above is Linux-specific too).
	return float64(ru.Maxrss) / 1024
}

// ApplySelfRlimits is called by the harness binary's own main(), before it
// executes untrusted code, reading SANDBOX_LIMIT_MEM/SANDBOX_LIMIT_CPU from
// its environment and applying them to itself via unix.Setrlimit.
func ApplySelfRlimits(memBytes, cpuSeconds uint64) error {
	rlimAs := unix.Rlimit{Cur: memBytes, Max: memBytes}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &rlimAs); err != nil {
		return fmt.Errorf("setting RLIMIT_AS: %w", err)
	}
	rlimCPU := unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &rlimCPU); err != nil {
		return fmt.Errorf("setting RLIMIT_CPU: %w", err)
	}
	return nil
}
