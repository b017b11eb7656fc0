package ai

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/example/forgeq/internal/group"
)

type mockRunner struct {
	calls  []mockCall
	stdout string
	stderr string
	err    error
}

type mockCall struct {
	Dir   string
	Name  string
	Args  []string
	Stdin string
}

func (m *mockRunner) Run(ctx context.Context, dir, name string, args []string, stdin string) (string, string, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Name: name, Args: args, Stdin: stdin})
	return m.stdout, m.stderr, m.err
}

func testGroup() *group.IssueGroup {
	return group.New("grp-1", "fix/crash", []group.Issue{
		{Number: 7, Title: "Crash on empty input", Body: "Steps: submit an empty form."},
	}, []string{"src/form.ts"}, nil)
}

func TestAnalyzeGroup(t *testing.T) {
	mock := &mockRunner{stdout: `Here is my assessment:
{"can_handle": true, "complexity": "low", "approach": "guard against empty input", "relevant_files": ["src/form.ts"]}`}
	a := NewCLIAdapter(mock, Opts{})

	an, err := a.AnalyzeGroup(context.Background(), testGroup(), "/w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !an.CanHandle || an.Complexity != "low" {
		t.Errorf("unexpected analysis: %+v", an)
	}
	if len(an.RelevantFiles) != 1 || an.RelevantFiles[0] != "src/form.ts" {
		t.Errorf("unexpected files: %v", an.RelevantFiles)
	}

	call := mock.calls[0]
	if call.Name != "claude" {
		t.Errorf("expected default command claude, got %q", call.Name)
	}
	if call.Dir != "/w" {
		t.Errorf("expected workDir passed through, got %q", call.Dir)
	}
	if !strings.Contains(call.Stdin, "Issue #7") || !strings.Contains(call.Stdin, "Crash on empty input") {
		t.Errorf("prompt missing issue content:\n%s", call.Stdin)
	}
}

func TestAnalyzeGroup_ParseError(t *testing.T) {
	mock := &mockRunner{stdout: "I cannot produce JSON right now."}
	a := NewCLIAdapter(mock, Opts{})

	_, err := a.AnalyzeGroup(context.Background(), testGroup(), "/w")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Code != CodeParseError {
		t.Fatalf("expected parse_error, got %v", err)
	}
}

func TestApplyFix_PromptIncludesFeedback(t *testing.T) {
	mock := &mockRunner{stdout: "Guarded the submit handler.\ndetails follow"}
	a := NewCLIAdapter(mock, Opts{Command: "mymodel", Flags: []string{"-p"}})

	res, err := a.ApplyFix(context.Background(), FixRequest{
		Group:    testGroup(),
		WorkDir:  "/w",
		Approach: "guard against empty input",
		Feedback: "typecheck: TS2345 in src/form.ts",
		Round:    2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "Guarded the submit handler." {
		t.Errorf("unexpected summary %q", res.Summary)
	}

	call := mock.calls[0]
	if call.Name != "mymodel" || len(call.Args) != 1 || call.Args[0] != "-p" {
		t.Errorf("configured command not used: %+v", call)
	}
	if !strings.Contains(call.Stdin, "TS2345") {
		t.Error("expected feedback in prompt")
	}
	if !strings.Contains(call.Stdin, "previous attempt failed") {
		t.Error("expected retry framing in prompt")
	}
}

func TestApplyFix_FirstRoundHasNoFeedback(t *testing.T) {
	mock := &mockRunner{stdout: "done"}
	a := NewCLIAdapter(mock, Opts{})

	if _, err := a.ApplyFix(context.Background(), FixRequest{Group: testGroup(), WorkDir: "/w", Round: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(mock.calls[0].Stdin, "previous attempt") {
		t.Error("first round prompt must not mention a previous attempt")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		output string
		want   ErrorCode
		retry  bool
	}{
		{"not found", exec.ErrNotFound, "", CodeToolNotFound, false},
		{"deadline", context.DeadlineExceeded, "", CodeTimeout, true},
		{"context too large", errors.New("exit 1"), "Error: context window too large for request", CodeContextTooLarge, false},
		{"rate limit", errors.New("exit 1"), "429 rate limit exceeded", CodeRateLimited, true},
		{"budget", errors.New("exit 1"), "monthly budget exhausted", CodeBudgetExceeded, false},
		{"generic", errors.New("exit 1"), "internal server error", CodeAPIError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify(tt.err, tt.output)
			if e.Code != tt.want {
				t.Errorf("code = %s, want %s", e.Code, tt.want)
			}
			if e.Retryable() != tt.retry {
				t.Errorf("retryable = %v, want %v", e.Retryable(), tt.retry)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"prose {\"a\": {\"b\": 2}} trailing", `{"a": {"b": 2}}`},
		{`{"s":"brace } inside"}`, `{"s":"brace } inside"}`},
		{"no json here", ""},
		{"{unclosed", ""},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
