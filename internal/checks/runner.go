// Package checks executes verification commands (lint, type-check, test)
// inside a workspace and parses their output into structured results.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Kind identifies what a check verifies. The orchestrator keys its retry
// feedback off the kind.
type Kind string

const (
	KindLint      Kind = "lint"
	KindTypecheck Kind = "typecheck"
	KindTest      Kind = "test"
	KindOther     Kind = "other"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped" // not executed (fail-fast stop)
)

// Check configures one verification command.
type Check struct {
	Name    string
	Kind    Kind
	Command string
	Parser  string
	Timeout time.Duration
}

// Result holds the structured output of a check run.
type Result struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Status     Status `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Passed reports whether the check succeeded.
func (r *Result) Passed() bool { return r.Status == StatusPassed }

// GateResult is the outcome of a full check run.
type GateResult struct {
	Passed  bool      `json:"passed"`
	Results []*Result `json:"results"`
}

// FailedNames returns the names of checks with status failed, in order.
func (g *GateResult) FailedNames() []string {
	var names []string
	for _, r := range g.Results {
		if r.Status == StatusFailed {
			names = append(names, r.Name)
		}
	}
	return names
}

// ByKind returns the result for the first check of the given kind, or nil.
func (g *GateResult) ByKind(kind Kind) *Result {
	for _, r := range g.Results {
		if r.Kind == kind {
			return r
		}
	}
	return nil
}

// AnyExecuted reports whether at least one check actually ran.
func (g *GateResult) AnyExecuted() bool {
	for _, r := range g.Results {
		if r.Status != StatusSkipped {
			return true
		}
	}
	return false
}

// killGrace is how long a timed-out subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out. On context
// cancellation the subprocess receives SIGTERM, then SIGKILL after a grace
// period if it is still alive.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["eslint"] = &ESLintParser{}
	r.parsers["typescript"] = &TypeScriptParser{}
	r.parsers["vitest"] = &VitestParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// Run executes a single check in the given directory.
func (r *Runner) Run(ctx context.Context, dir string, chk Check) (*Result, error) {
	timeout := chk.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, chk.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{
				Name:       chk.Name,
				Kind:       chk.Kind,
				Status:     StatusTimeout,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", chk.Name, err)
	}

	parser, ok := r.parsers[chk.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	status := StatusFailed
	if exitCode == 0 && parsed.Passed {
		status = StatusPassed
	}

	findings := ""
	if s, ok := parsed.Findings.(string); ok {
		findings = s
	} else if parsed.Findings != nil {
		data, _ := json.Marshal(parsed.Findings)
		findings = string(data)
	}

	return &Result{
		Name:       chk.Name,
		Kind:       chk.Kind,
		Status:     status,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

// RunAll executes checks in order. With failFast, checks after the first
// failure are recorded as skipped rather than executed.
func (r *Runner) RunAll(ctx context.Context, dir string, cks []Check, failFast bool) (*GateResult, error) {
	gate := &GateResult{Passed: true}

	stopped := false
	for _, chk := range cks {
		if stopped {
			gate.Results = append(gate.Results, &Result{
				Name:    chk.Name,
				Kind:    chk.Kind,
				Status:  StatusSkipped,
				Summary: "skipped (earlier check failed)",
			})
			continue
		}

		result, err := r.Run(ctx, dir, chk)
		if err != nil {
			return gate, fmt.Errorf("check %q: %w", chk.Name, err)
		}
		gate.Results = append(gate.Results, result)

		if !result.Passed() {
			gate.Passed = false
			if failFast {
				stopped = true
			}
		}
	}

	return gate, nil
}
