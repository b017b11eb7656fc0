package checks

import (
	"context"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	idx     int
	// when set, Run blocks until the context expires and reports its error
	hang bool
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.hang {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	if m.idx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRun_Passed(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "ok", ExitCode: 0}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/w", Check{
		Name:    "lint",
		Kind:    KindLint,
		Command: "npm run lint",
		Parser:  "generic",
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusPassed {
		t.Errorf("expected passed, got %s", result.Status)
	}
	if result.Name != "lint" || result.Kind != KindLint {
		t.Errorf("unexpected identity: %+v", result)
	}
	if mock.calls[0].Dir != "/w" || mock.calls[0].Command != "npm run lint" {
		t.Errorf("unexpected invocation: %+v", mock.calls[0])
	}
}

func TestRun_Failed(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "errors", ExitCode: 1}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/w", Check{Name: "lint", Kind: KindLint, Command: "lint", Parser: "generic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
}

func TestRun_Timeout(t *testing.T) {
	mock := &mockCmd{hang: true}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/w", Check{
		Name:    "test",
		Kind:    KindTest,
		Command: "npm test",
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", result.Status)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}
}

func TestRunAll_FailFastSkipsRemaining(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{ExitCode: 0},
		{Stdout: "bad", ExitCode: 1},
		{ExitCode: 0}, // must not be consumed
	}}
	runner := NewRunner(mock)

	cks := []Check{
		{Name: "lint", Kind: KindLint, Parser: "generic", Command: "lint"},
		{Name: "typecheck", Kind: KindTypecheck, Parser: "generic", Command: "tsc"},
		{Name: "test", Kind: KindTest, Parser: "generic", Command: "vitest"},
	}

	gate, err := runner.RunAll(context.Background(), "/w", cks, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate.Passed {
		t.Error("expected gate failure")
	}
	if len(gate.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(gate.Results))
	}
	if gate.Results[0].Status != StatusPassed {
		t.Errorf("lint: expected passed, got %s", gate.Results[0].Status)
	}
	if gate.Results[1].Status != StatusFailed {
		t.Errorf("typecheck: expected failed, got %s", gate.Results[1].Status)
	}
	if gate.Results[2].Status != StatusSkipped {
		t.Errorf("test: expected skipped, got %s", gate.Results[2].Status)
	}
	if len(mock.calls) != 2 {
		t.Errorf("expected 2 executed commands, got %d", len(mock.calls))
	}

	failed := gate.FailedNames()
	if len(failed) != 1 || failed[0] != "typecheck" {
		t.Errorf("expected failed=[typecheck], got %v", failed)
	}
}

func TestRunAll_ContinueWithoutFailFast(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{ExitCode: 1},
		{ExitCode: 0},
	}}
	runner := NewRunner(mock)

	cks := []Check{
		{Name: "lint", Kind: KindLint, Parser: "generic", Command: "lint"},
		{Name: "test", Kind: KindTest, Parser: "generic", Command: "vitest"},
	}

	gate, err := runner.RunAll(context.Background(), "/w", cks, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate.Passed {
		t.Error("expected gate failure")
	}
	if len(mock.calls) != 2 {
		t.Errorf("expected both checks executed, got %d", len(mock.calls))
	}
	if !gate.AnyExecuted() {
		t.Error("expected AnyExecuted=true")
	}
}

func TestGateResult_ByKind(t *testing.T) {
	gate := &GateResult{Results: []*Result{
		{Name: "lint", Kind: KindLint, Status: StatusPassed},
		{Name: "test", Kind: KindTest, Status: StatusFailed},
	}}
	if r := gate.ByKind(KindTest); r == nil || r.Name != "test" {
		t.Errorf("ByKind(test) = %+v", r)
	}
	if r := gate.ByKind(KindTypecheck); r != nil {
		t.Errorf("expected nil for missing kind, got %+v", r)
	}
}
