package stage

import (
	"context"
	"fmt"

	"github.com/example/forgeq/internal/ai"
)

// FixStage asks the model to apply a fix and verifies it actually changed
// something.
type FixStage struct {
	ai ai.Adapter
	ws WorkspaceManager
}

func NewFixStage(adapter ai.Adapter, ws WorkspaceManager) *FixStage {
	return &FixStage{ai: adapter, ws: ws}
}

func (s *FixStage) Name() string { return "fix" }

func (s *FixStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Analysis == nil {
		return &Error{Stage: s.Name(), Code: CodeFixFailed, Err: fmt.Errorf("analysis stage has not run")}
	}

	res, err := s.ai.ApplyFix(ctx, ai.FixRequest{
		Group:    pc.Group,
		WorkDir:  pc.Workspace.Path,
		Approach: pc.Analysis.Approach,
		Feedback: pc.Feedback,
		Round:    pc.Round,
	})
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodeFixFailed, Err: err}
	}
	pc.Fix = &FixOutcome{Summary: res.Summary, Round: pc.Round}

	return s.VerifyChanges(pc)
}

// VerifyChanges confirms the fix modified the workspace and records the
// changed files. A fix that wrote nothing is a failure.
func (s *FixStage) VerifyChanges(pc *Context) error {
	files, err := s.ws.ChangedFiles(pc.Workspace.Path)
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodeFixFailed, Err: fmt.Errorf("list changes: %w", err)}
	}
	if len(files) == 0 {
		return &Error{Stage: s.Name(), Code: CodeNoChanges, Err: fmt.Errorf("fix reported success but changed no files")}
	}
	pc.Fix.Files = files
	return nil
}
