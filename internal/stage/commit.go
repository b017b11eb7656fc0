package stage

import (
	"context"
	"fmt"
	"strings"
)

// CommitStage commits the fix and pushes the branch. Commit and push
// failures carry distinct codes so callers can tell a local problem from a
// remote one.
type CommitStage struct {
	ws WorkspaceManager
}

func NewCommitStage(ws WorkspaceManager) *CommitStage {
	return &CommitStage{ws: ws}
}

func (s *CommitStage) Name() string { return "commit" }

func (s *CommitStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Workspace == nil || pc.Fix == nil {
		return &Error{Stage: s.Name(), Code: CodeCommitFailed, Err: fmt.Errorf("fix stage has not run")}
	}
	path := pc.Workspace.Path

	if _, err := s.ws.Exec(path, "add", "-A"); err != nil {
		return &Error{Stage: s.Name(), Code: CodeCommitFailed, Err: fmt.Errorf("stage changes: %w", err)}
	}
	if _, err := s.ws.Exec(path, "commit", "-m", commitMessage(pc)); err != nil {
		return &Error{Stage: s.Name(), Code: CodeCommitFailed, Err: fmt.Errorf("commit: %w", err)}
	}
	if _, err := s.ws.Exec(path, "push", "-u", "origin", pc.Workspace.Branch); err != nil {
		return &Error{Stage: s.Name(), Code: CodePushFailed, Err: fmt.Errorf("push branch %s: %w", pc.Workspace.Branch, err)}
	}
	return nil
}

func commitMessage(pc *Context) string {
	var b strings.Builder
	summary := pc.Fix.Summary
	if summary == "" {
		summary = pc.Group.Summary()
	}
	b.WriteString(summary)
	b.WriteString("\n\n")
	for _, n := range pc.Group.IssueNumbers() {
		fmt.Fprintf(&b, "Fixes #%d\n", n)
	}
	return b.String()
}
