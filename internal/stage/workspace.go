package stage

import (
	"context"
	"fmt"

	"github.com/example/forgeq/internal/workspace"
)

// WorkspaceStage allocates an isolated worktree on the group's branch.
type WorkspaceStage struct {
	ws WorkspaceManager
}

func NewWorkspaceStage(ws WorkspaceManager) *WorkspaceStage {
	return &WorkspaceStage{ws: ws}
}

func (s *WorkspaceStage) Name() string { return "workspace" }

func (s *WorkspaceStage) Execute(ctx context.Context, pc *Context) error {
	wt, err := s.ws.Create(pc.Group.Branch, pc.BaseBranch)
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodeWorkspaceFailed, Err: err}
	}
	pc.Workspace = wt
	return nil
}

// Cleanup releases the workspace. Safe to call when no workspace was
// created; clears pc.Workspace on success.
func (s *WorkspaceStage) Cleanup(pc *Context, keepBranch bool) error {
	if pc.Workspace == nil {
		return nil
	}
	err := s.ws.Remove(pc.Workspace, workspace.RemoveOpts{
		Force:        true,
		DeleteBranch: !keepBranch,
	})
	if err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	pc.Workspace = nil
	return nil
}

// HasUncommittedChanges reports pending modifications in the workspace.
func (s *WorkspaceStage) HasUncommittedChanges(pc *Context) (bool, error) {
	if pc.Workspace == nil {
		return false, fmt.Errorf("no workspace")
	}
	return s.ws.HasUncommittedChanges(pc.Workspace.Path)
}

// ExecInWorkspace runs a git command inside the workspace.
func (s *WorkspaceStage) ExecInWorkspace(pc *Context, args ...string) (string, error) {
	if pc.Workspace == nil {
		return "", fmt.Errorf("no workspace")
	}
	return s.ws.Exec(pc.Workspace.Path, args...)
}
