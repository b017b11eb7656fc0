package stage

import (
	"context"
	"fmt"

	"github.com/example/forgeq/internal/ai"
	"github.com/example/forgeq/internal/group"
)

// AnalysisStage asks the model whether it can handle the group and records
// the plan.
type AnalysisStage struct {
	ai ai.Adapter
}

func NewAnalysisStage(adapter ai.Adapter) *AnalysisStage {
	return &AnalysisStage{ai: adapter}
}

func (s *AnalysisStage) Name() string { return "analysis" }

func (s *AnalysisStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Workspace == nil {
		return &Error{Stage: s.Name(), Code: CodeAnalysisFailed, Err: fmt.Errorf("workspace stage has not run")}
	}

	an, err := s.ai.AnalyzeGroup(ctx, pc.Group, pc.Workspace.Path)
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodeAnalysisFailed, Err: err}
	}
	if !an.CanHandle {
		return &Error{Stage: s.Name(), Code: CodeCannotHandle, Err: fmt.Errorf("group cannot be handled: %s", an.Reason)}
	}
	pc.Analysis = an
	return nil
}

// CanHandle runs a standalone analysis and reports handleability plus the
// model's reason.
func (s *AnalysisStage) CanHandle(ctx context.Context, g *group.IssueGroup, workDir string) (bool, string, error) {
	an, err := s.ai.AnalyzeGroup(ctx, g, workDir)
	if err != nil {
		return false, "", err
	}
	return an.CanHandle, an.Reason, nil
}

// EstimateComplexity returns the model's complexity estimate for the group.
func (s *AnalysisStage) EstimateComplexity(ctx context.Context, g *group.IssueGroup, workDir string) (string, error) {
	an, err := s.ai.AnalyzeGroup(ctx, g, workDir)
	if err != nil {
		return "", err
	}
	return an.Complexity, nil
}
