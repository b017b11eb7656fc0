// Package orchestrator drives one issue group through the fix pipeline:
// workspace, analysis, then a bounded fix/guard/check loop, then commit and
// publish. Retries carry per-check-kind feedback back into the next fix
// round.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/forgeq/internal/ai"
	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/group"
	"github.com/example/forgeq/internal/guard"
	"github.com/example/forgeq/internal/stage"
	"github.com/example/forgeq/internal/workspace"
)

// State is where a group currently sits in the pipeline.
type State string

const (
	StatePending    State = "pending"
	StateAnalyzing  State = "analyzing"
	StateFixing     State = "fixing"
	StateValidating State = "validating"
	StateChecking   State = "checking"
	StatePublished  State = "published"
	StateRetry      State = "retry"
	StateFailed     State = "failed"
)

// FixAttempt records one round of the fix loop.
type FixAttempt struct {
	Round      int
	Summary    string
	Files      []workspace.ChangedFile
	Success    bool
	Gate       *checks.GateResult
	GuardError string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// GroupResult is the outcome of processing one group.
type GroupResult struct {
	GroupID        string
	State          State
	Success        bool
	PublishURL     string
	Attempts       []FixAttempt
	FailureSummary string
}

// Interrupter exposes the shutdown flag checked between pipeline steps.
type Interrupter interface {
	Interrupted() bool
}

// ErrInterrupted is returned when processing stops at an interrupt
// checkpoint.
var ErrInterrupted = errors.New("processing interrupted")

// Opts configures an Orchestrator.
type Opts struct {
	// MaxFixRounds bounds the fix loop. Defaults to 3.
	MaxFixRounds int
	// BaseBranch is the branch fixes are cut from. Defaults to "main".
	BaseBranch string
}

// Orchestrator owns the per-group pipeline.
type Orchestrator struct {
	workspaceStage *stage.WorkspaceStage
	analysisStage  *stage.AnalysisStage
	fixStage       *stage.FixStage
	checkStage     *stage.CheckStage
	commitStage    *stage.CommitStage
	publishStage   *stage.PublishStage

	guard     *guard.Evaluator
	tracker   stage.Tracker
	interrupt Interrupter
	opts      Opts

	progress io.Writer
	// loadChanges reads changed-file contents for guardrail evaluation.
	// Replaced in tests.
	loadChanges func(root string, files []workspace.ChangedFile) []guard.FileChange
	now         func() time.Time
}

// New wires an orchestrator from its stages.
func New(
	ws *stage.WorkspaceStage,
	an *stage.AnalysisStage,
	fx *stage.FixStage,
	ck *stage.CheckStage,
	cm *stage.CommitStage,
	pb *stage.PublishStage,
	ev *guard.Evaluator,
	tr stage.Tracker,
	intr Interrupter,
	opts Opts,
) *Orchestrator {
	if opts.MaxFixRounds <= 0 {
		opts.MaxFixRounds = 3
	}
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	return &Orchestrator{
		workspaceStage: ws,
		analysisStage:  an,
		fixStage:       fx,
		checkStage:     ck,
		commitStage:    cm,
		publishStage:   pb,
		guard:          ev,
		tracker:        tr,
		interrupt:      intr,
		opts:           opts,
		loadChanges:    readChanges,
		now:            time.Now,
	}
}

// SetProgress sets the writer for progress logging.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// ProcessGroup runs the full pipeline for one group. The workspace is
// released on every exit path; the branch survives only when a fix was
// published. The returned result is non-nil even on error.
func (o *Orchestrator) ProcessGroup(ctx context.Context, g *group.IssueGroup) (*GroupResult, error) {
	result := &GroupResult{GroupID: g.ID, State: StatePending}
	o.logf("[%s] processing %s", g.ID, g.Summary())

	pc := &stage.Context{Group: g, BaseBranch: o.opts.BaseBranch}
	if err := o.workspaceStage.Execute(ctx, pc); err != nil {
		return o.fail(result, fmt.Sprintf("workspace setup failed: %v", err)), err
	}
	defer func() {
		keepBranch := result.Success
		if err := o.workspaceStage.Cleanup(pc, keepBranch); err != nil {
			o.logf("[%s] workspace cleanup: %v", g.ID, err)
		}
	}()

	for _, n := range g.IssueNumbers() {
		if err := o.tracker.MarkIssueInProgress(n); err != nil {
			o.logf("[%s] mark issue %d in progress: %v", g.ID, n, err)
		}
	}

	result.State = StateAnalyzing
	if err := o.analysisStage.Execute(ctx, pc); err != nil {
		o.markFailed(g, fmt.Sprintf("analysis failed: %v", err))
		return o.fail(result, fmt.Sprintf("analysis failed: %v", err)), err
	}
	o.logf("[%s] analysis: complexity=%s", g.ID, pc.Analysis.Complexity)

	feedback := ""
	for round := 1; round <= o.opts.MaxFixRounds; round++ {
		if o.interrupted() {
			return o.fail(result, "interrupted before fix round"), ErrInterrupted
		}

		attempt := FixAttempt{Round: round, StartedAt: o.now()}
		pc.Round = round
		pc.Feedback = feedback
		pc.Fix = nil
		pc.Check = nil

		result.State = StateFixing
		o.logf("[%s] fix round %d/%d", g.ID, round, o.opts.MaxFixRounds)
		if err := o.fixStage.Execute(ctx, pc); err != nil {
			attempt.Error = err.Error()
			attempt.FinishedAt = o.now()
			result.Attempts = append(result.Attempts, attempt)

			if !retryableFixError(err) {
				o.markFailed(g, fmt.Sprintf("fix failed: %v", err))
				return o.fail(result, fmt.Sprintf("fix failed: %v", err)), err
			}
			result.State = StateRetry
			continue
		}
		attempt.Summary = pc.Fix.Summary
		attempt.Files = pc.Fix.Files

		result.State = StateValidating
		if _, gerr := o.guard.Evaluate(o.loadChanges(pc.Workspace.Path, pc.Fix.Files)); gerr != nil {
			// A guardrail violation aborts the whole group: no checks, no
			// retry.
			attempt.GuardError = gerr.Error()
			attempt.FinishedAt = o.now()
			result.Attempts = append(result.Attempts, attempt)
			o.markFailed(g, fmt.Sprintf("guardrail violation: %v", gerr))
			return o.fail(result, fmt.Sprintf("guardrail violation: %v", gerr)), gerr
		}

		result.State = StateChecking
		checkErr := o.checkStage.Execute(ctx, pc)
		attempt.Gate = pc.Check
		attempt.FinishedAt = o.now()
		if checkErr != nil {
			attempt.Error = checkErr.Error()
		}
		attempt.Success = checkErr == nil
		result.Attempts = append(result.Attempts, attempt)

		if checkErr == nil {
			return o.publishFix(ctx, pc, result)
		}

		if pc.Check == nil || !shouldRetry(pc.Check) {
			break
		}
		feedback = SynthesizeFeedback(pc.Check)
		result.State = StateRetry
		o.logf("[%s] checks failed, retrying with feedback", g.ID)

		if o.interrupted() {
			return o.fail(result, "interrupted after fix round"), ErrInterrupted
		}
	}

	summary := FailureSummary(result.Attempts)
	o.markFailed(g, summary)
	return o.fail(result, summary), fmt.Errorf("fix rounds exhausted for group %s", g.ID)
}

func (o *Orchestrator) publishFix(ctx context.Context, pc *stage.Context, result *GroupResult) (*GroupResult, error) {
	if err := o.commitStage.Execute(ctx, pc); err != nil {
		o.markFailed(pc.Group, fmt.Sprintf("commit failed: %v", err))
		return o.fail(result, fmt.Sprintf("commit failed: %v", err)), err
	}
	if err := o.publishStage.Execute(ctx, pc); err != nil {
		o.markFailed(pc.Group, fmt.Sprintf("publish failed: %v", err))
		return o.fail(result, fmt.Sprintf("publish failed: %v", err)), err
	}

	result.State = StatePublished
	result.Success = true
	result.PublishURL = pc.Publish.URL
	o.logf("[%s] published %s", pc.Group.ID, pc.Publish.URL)
	return result, nil
}

func (o *Orchestrator) fail(result *GroupResult, summary string) *GroupResult {
	result.State = StateFailed
	result.FailureSummary = summary
	return result
}

func (o *Orchestrator) markFailed(g *group.IssueGroup, summary string) {
	for _, n := range g.IssueNumbers() {
		if err := o.tracker.MarkIssueFailed(n, summary); err != nil {
			o.logf("[%s] mark issue %d failed: %v", g.ID, n, err)
		}
	}
}

func (o *Orchestrator) interrupted() bool {
	return o.interrupt != nil && o.interrupt.Interrupted()
}

// retryableFixError reports whether another fix round could help. A missing
// model binary or an over-large context fails identically every time.
func retryableFixError(err error) bool {
	var aerr *ai.Error
	if errors.As(err, &aerr) {
		return aerr.Retryable()
	}
	return true
}

// shouldRetry decides whether a failed gate is worth another fix round:
// only an actually-failed check is actionable. Timeouts and skips carry no
// feedback the model can act on.
func shouldRetry(gate *checks.GateResult) bool {
	if gate.Passed {
		return false
	}
	if !gate.AnyExecuted() {
		return false
	}
	for _, r := range gate.Results {
		if r.Status == checks.StatusFailed {
			return true
		}
	}
	return false
}

// SynthesizeFeedback turns a failed gate into per-check-kind guidance for
// the next fix round.
func SynthesizeFeedback(gate *checks.GateResult) string {
	var b strings.Builder
	for _, r := range gate.Results {
		if r.Status != checks.StatusFailed {
			continue
		}
		switch r.Kind {
		case checks.KindTest:
			fmt.Fprintf(&b, "Tests failed (%s): the change breaks expected behavior. Re-read the failing tests and adjust the fix, not the tests.\n", r.Name)
		case checks.KindTypecheck:
			fmt.Fprintf(&b, "Type check failed (%s): fix the type annotations and signatures the change touched.\n", r.Name)
		case checks.KindLint:
			fmt.Fprintf(&b, "Lint failed (%s): fix the style and correctness findings without changing behavior.\n", r.Name)
		default:
			fmt.Fprintf(&b, "Check %s failed: address the reported problems.\n", r.Name)
		}
		if r.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", r.Summary)
		}
		if excerpt := tailLines(r.Stderr, 10); excerpt != "" {
			fmt.Fprintf(&b, "%s\n", excerpt)
		}
	}
	return b.String()
}

// FailureSummary builds the terminal report after the fix budget is spent.
func FailureSummary(attempts []FixAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix failed after %d attempt(s).\n", len(attempts))

	last := lastGate(attempts)
	if last != nil {
		failed := last.FailedNames()
		if len(failed) > 0 {
			fmt.Fprintf(&b, "Failing checks: %s\n", strings.Join(failed, ", "))
		}
		for _, r := range last.Results {
			if r.Status == checks.StatusFailed && r.Stderr != "" {
				fmt.Fprintf(&b, "\n%s stderr:\n%s\n", r.Name, tailLines(r.Stderr, 15))
			}
		}
	}

	b.WriteString("\nSuggested next steps: review the branch diff manually")
	if last != nil && last.ByKind(checks.KindTest) != nil && last.ByKind(checks.KindTest).Status == checks.StatusFailed {
		b.WriteString(", run the failing tests locally")
	}
	b.WriteString(".")
	return b.String()
}

func lastGate(attempts []FixAttempt) *checks.GateResult {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Gate != nil {
			return attempts[i].Gate
		}
	}
	return nil
}

func tailLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// readChanges loads changed-file contents from the worktree for guardrail
// evaluation. Deleted files keep an empty body.
func readChanges(root string, files []workspace.ChangedFile) []guard.FileChange {
	out := make([]guard.FileChange, 0, len(files))
	for _, f := range files {
		fc := guard.FileChange{Path: f.Path, Deleted: f.Deleted}
		if !f.Deleted {
			if data, err := os.ReadFile(filepath.Join(root, f.Path)); err == nil {
				fc.Content = string(data)
			}
		}
		out = append(out, fc)
	}
	return out
}
