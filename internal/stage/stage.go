// Package stage defines the six pipeline stages an issue group moves
// through: workspace, analysis, fix, check, commit, publish. Each stage
// reads and extends a shared Context; the orchestrator decides ordering
// and retries.
package stage

import (
	"context"
	"fmt"

	"github.com/example/forgeq/internal/ai"
	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/group"
	"github.com/example/forgeq/internal/tracker"
	"github.com/example/forgeq/internal/workspace"
)

// Stage failure codes.
const (
	CodeWorkspaceFailed = "workspace_failed"
	CodeAnalysisFailed  = "analysis_failed"
	CodeCannotHandle    = "cannot_handle"
	CodeFixFailed       = "fix_failed"
	CodeNoChanges       = "no_changes"
	CodeInstallFailed   = "install_failed"
	CodeChecksFailed    = "checks_failed"
	CodeCommitFailed    = "commit_failed"
	CodePushFailed      = "push_failed"
	CodePublishFailed   = "publish_failed"
)

// Error is a stage failure with a stable code callers can branch on.
type Error struct {
	Stage string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FixOutcome records what the fix stage produced.
type FixOutcome struct {
	Summary string
	Round   int
	Files   []workspace.ChangedFile
}

// Context is the state threaded through one fix attempt. The orchestrator
// creates a fresh Context per attempt; stages fill in their section.
type Context struct {
	Group      *group.IssueGroup
	BaseBranch string

	// Feedback and Round are set by the orchestrator before the fix stage
	// on retry rounds.
	Feedback string
	Round    int

	Workspace *workspace.Worktree
	Analysis  *ai.Analysis
	Fix       *FixOutcome
	Check     *checks.GateResult
	Publish   *tracker.PublishRequest
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pc *Context) error
}

// WorkspaceManager is the worktree surface stages depend on.
type WorkspaceManager interface {
	Create(branch, base string) (*workspace.Worktree, error)
	Remove(wt *workspace.Worktree, opts workspace.RemoveOpts) error
	HasUncommittedChanges(path string) (bool, error)
	ChangedFiles(path string) ([]workspace.ChangedFile, error)
	Exec(path string, args ...string) (string, error)
}

// Tracker is the issue-tracker surface the publish stage depends on.
type Tracker interface {
	CreatePublishRequest(g *group.IssueGroup, branch, base string) (*tracker.PublishRequest, error)
	MarkIssueFixed(number int, prURL string) error
	MarkIssueFailed(number int, summary string) error
	MarkIssueInProgress(number int) error
}

// CheckRunner is the check surface the check stage depends on.
type CheckRunner interface {
	InstallDeps(ctx context.Context, dir string, opts checks.InstallOpts) error
	RunAll(ctx context.Context, dir string, cks []checks.Check, failFast bool) (*checks.GateResult, error)
}
