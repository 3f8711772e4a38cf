// Command sandbox-harness is the child process ProcessExecutor execs for
// every sandboxed job. It applies the resource limits requested by its
// parent to itself (unix.Setrlimit only ever affects the calling process),
// writes the submitted code to a scratch script, execs an interpreter
// against it with the bound input file as its only argument, and relays
// the interpreter's stdout verbatim — the interpreter itself is
// responsible for emitting the `{"success":...}` result object spec.md
// describes.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/moduly/engine/internal/sandbox"
)

type harnessInput struct {
	Code  string          `json:"code"`
	Input json.RawMessage `json:"input"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: sandbox-harness <input-file>")
	}

	if err := applyLimitsFromEnv(); err != nil {
		return fmt.Errorf("applying resource limits: %w", err)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		return fmt.Errorf("reading input file: %w", err)
	}
	var in harnessInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding input file: %w", err)
	}

	scriptFile, err := os.CreateTemp("", "sandbox-script-*.py")
	if err != nil {
		return fmt.Errorf("creating scratch script: %w", err)
	}
	defer os.Remove(scriptFile.Name())
	if _, err := scriptFile.WriteString(in.Code); err != nil {
		_ = scriptFile.Close()
		return fmt.Errorf("writing scratch script: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		return fmt.Errorf("closing scratch script: %w", err)
	}

	inputFile, err := os.CreateTemp("", "sandbox-args-*.json")
	if err != nil {
		return fmt.Errorf("creating scratch input: %w", err)
	}
	defer os.Remove(inputFile.Name())
	if _, err := inputFile.Write(in.Input); err != nil {
		_ = inputFile.Close()
		return fmt.Errorf("writing scratch input: %w", err)
	}
	if err := inputFile.Close(); err != nil {
		return fmt.Errorf("closing scratch input: %w", err)
	}

	interpreter := os.Getenv("SANDBOX_INTERPRETER")
	if interpreter == "" {
		interpreter = "python3"
	}

	cmd := exec.Command(interpreter, scriptFile.Name(), inputFile.Name())
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting interpreter: %w", err)
	}
	if _, err := io.Copy(os.Stdout, stdout); err != nil {
		return fmt.Errorf("relaying stdout: %w", err)
	}
	return cmd.Wait()
}

// applyLimitsFromEnv reads SANDBOX_LIMIT_MEM/SANDBOX_LIMIT_CPU, set by
// ProcessExecutor.Execute, and applies them to this process before the
// interpreter is started so the submitted code inherits them.
func applyLimitsFromEnv() error {
	memStr := os.Getenv("SANDBOX_LIMIT_MEM")
	cpuStr := os.Getenv("SANDBOX_LIMIT_CPU")
	if memStr == "" && cpuStr == "" {
		return nil
	}
	mem, err := strconv.ParseUint(memStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing SANDBOX_LIMIT_MEM: %w", err)
	}
	cpu, err := strconv.ParseUint(cpuStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing SANDBOX_LIMIT_CPU: %w", err)
	}
	return sandbox.ApplySelfRlimits(mem, cpu)
}
