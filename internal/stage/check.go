package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/forgeq/internal/checks"
)

// CheckStage installs dependencies and runs the check gate in fixed order:
// lint, then type-check, then tests, failing fast.
type CheckStage struct {
	runner  CheckRunner
	checks  []checks.Check
	install checks.InstallOpts
}

func NewCheckStage(runner CheckRunner, cks []checks.Check, install checks.InstallOpts) *CheckStage {
	return &CheckStage{runner: runner, checks: orderChecks(cks), install: install}
}

func (s *CheckStage) Name() string { return "check" }

func (s *CheckStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Workspace == nil || pc.Fix == nil {
		return &Error{Stage: s.Name(), Code: CodeChecksFailed, Err: fmt.Errorf("fix stage has not run")}
	}

	if err := s.runner.InstallDeps(ctx, pc.Workspace.Path, s.install); err != nil {
		return &Error{Stage: s.Name(), Code: CodeInstallFailed, Err: fmt.Errorf("install dependencies: %w", err)}
	}

	gate, err := s.runner.RunAll(ctx, pc.Workspace.Path, s.checks, true)
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodeChecksFailed, Err: err}
	}
	pc.Check = gate
	if !gate.Passed {
		return &Error{Stage: s.Name(), Code: CodeChecksFailed, Err: fmt.Errorf("checks failed: %v", gate.FailedNames())}
	}
	return nil
}

var kindOrder = map[checks.Kind]int{
	checks.KindLint:      0,
	checks.KindTypecheck: 1,
	checks.KindTest:      2,
	checks.KindOther:     3,
}

func orderChecks(cks []checks.Check) []checks.Check {
	out := make([]checks.Check, len(cks))
	copy(out, cks)
	sort.SliceStable(out, func(i, j int) bool {
		return kindOrder[out[i].Kind] < kindOrder[out[j].Kind]
	})
	return out
}
