// Package ai adapts a model CLI (claude by default) for analysis and fix
// application inside a workspace.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/forgeq/internal/group"
)

// Analysis is the model's assessment of an issue group before any fix is
// attempted.
type Analysis struct {
	CanHandle     bool     `json:"can_handle"`
	Reason        string   `json:"reason,omitempty"`
	Complexity    string   `json:"complexity"` // low, medium, high
	Approach      string   `json:"approach"`
	RelevantFiles []string `json:"relevant_files,omitempty"`
}

// FixRequest asks the adapter to apply a fix inside a workspace.
type FixRequest struct {
	Group    *group.IssueGroup
	WorkDir  string
	Approach string
	// Feedback carries check failures from the previous round, empty on
	// the first round.
	Feedback string
	Round    int
}

// FixResult reports what the adapter did.
type FixResult struct {
	Summary string
	Output  string
}

// Adapter is the model integration the pipeline depends on.
type Adapter interface {
	AnalyzeGroup(ctx context.Context, g *group.IssueGroup, workDir string) (*Analysis, error)
	ApplyFix(ctx context.Context, req FixRequest) (*FixResult, error)
}

// CommandRunner executes the model CLI. Interface for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args []string, stdin string) (stdout string, stderr string, err error)
}

// Opts configures the CLI adapter.
type Opts struct {
	// Command is the model CLI binary. Defaults to "claude".
	Command string
	// Flags are prepended to every invocation. Defaults to
	// ["--print", "--dangerously-skip-permissions"].
	Flags []string
	// AnalyzeTimeout bounds AnalyzeGroup. Defaults to 5 minutes.
	AnalyzeTimeout time.Duration
	// FixTimeout bounds ApplyFix. Defaults to 30 minutes.
	FixTimeout time.Duration
}

// CLIAdapter drives the model through its command-line interface, one
// subprocess per operation, prompt on stdin.
type CLIAdapter struct {
	runner CommandRunner
	opts   Opts
}

// NewCLIAdapter creates an adapter. A nil runner uses exec.
func NewCLIAdapter(runner CommandRunner, opts Opts) *CLIAdapter {
	if runner == nil {
		runner = &ExecCommandRunner{}
	}
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Flags == nil {
		opts.Flags = []string{"--print", "--dangerously-skip-permissions"}
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = 5 * time.Minute
	}
	if opts.FixTimeout <= 0 {
		opts.FixTimeout = 30 * time.Minute
	}
	return &CLIAdapter{runner: runner, opts: opts}
}

// AnalyzeGroup asks the model whether it can handle the group and how.
// The model must answer with a single JSON object; anything else is a
// parse error.
func (a *CLIAdapter) AnalyzeGroup(ctx context.Context, g *group.IssueGroup, workDir string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.AnalyzeTimeout)
	defer cancel()

	stdout, stderr, err := a.runner.Run(ctx, workDir, a.opts.Command, a.opts.Flags, analyzePrompt(g))
	if err != nil {
		return nil, classify(err, stdout+stderr)
	}

	raw := extractJSON(stdout)
	if raw == "" {
		return nil, &Error{Code: CodeParseError, Err: fmt.Errorf("no JSON object in analysis output")}
	}
	var an Analysis
	if err := json.Unmarshal([]byte(raw), &an); err != nil {
		return nil, &Error{Code: CodeParseError, Err: fmt.Errorf("decode analysis: %w", err)}
	}
	return &an, nil
}

// ApplyFix asks the model to edit files in the workspace.
func (a *CLIAdapter) ApplyFix(ctx context.Context, req FixRequest) (*FixResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.FixTimeout)
	defer cancel()

	stdout, stderr, err := a.runner.Run(ctx, req.WorkDir, a.opts.Command, a.opts.Flags, fixPrompt(req))
	if err != nil {
		return nil, classify(err, stdout+stderr)
	}
	return &FixResult{Summary: firstLine(stdout), Output: stdout}, nil
}

func analyzePrompt(g *group.IssueGroup) string {
	var b strings.Builder
	b.WriteString("You are assessing whether the following issues can be fixed automatically.\n\n")
	writeIssues(&b, g)
	b.WriteString(`
Respond with a single JSON object and nothing else:
{"can_handle": bool, "reason": "why not, if can_handle is false", "complexity": "low|medium|high", "approach": "short fix plan", "relevant_files": ["paths"]}
Do not modify any files.
`)
	return b.String()
}

func fixPrompt(req FixRequest) string {
	var b strings.Builder
	b.WriteString("Fix the following issues by editing files in the current directory.\n\n")
	writeIssues(&b, req.Group)
	if req.Approach != "" {
		fmt.Fprintf(&b, "\nPlanned approach:\n%s\n", req.Approach)
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nA previous attempt failed validation. Address this feedback:\n%s\n", req.Feedback)
	}
	b.WriteString("\nMake the smallest change that resolves the issues. Do not commit.\n")
	return b.String()
}

func writeIssues(b *strings.Builder, g *group.IssueGroup) {
	for _, is := range g.Issues {
		fmt.Fprintf(b, "Issue #%d: %s\n", is.Number, is.Title)
		if is.Body != "" {
			fmt.Fprintf(b, "%s\n", is.Body)
		}
		b.WriteString("\n")
	}
	if len(g.Files) > 0 {
		fmt.Fprintf(b, "Files likely involved: %s\n", strings.Join(g.Files, ", "))
	}
}

// extractJSON returns the first top-level {...} object in s, tolerating
// prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
