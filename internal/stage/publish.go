package stage

import (
	"context"
	"errors"
	"fmt"
)

// PublishStage opens the pull request and marks the source issues fixed.
type PublishStage struct {
	tracker Tracker
}

func NewPublishStage(t Tracker) *PublishStage {
	return &PublishStage{tracker: t}
}

func (s *PublishStage) Name() string { return "publish" }

func (s *PublishStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Workspace == nil {
		return &Error{Stage: s.Name(), Code: CodePublishFailed, Err: fmt.Errorf("no workspace")}
	}

	pr, err := s.tracker.CreatePublishRequest(pc.Group, pc.Workspace.Branch, pc.BaseBranch)
	if err != nil {
		return &Error{Stage: s.Name(), Code: CodePublishFailed, Err: err}
	}
	pc.Publish = pr

	// Mark every issue even if one update fails; the PR already exists.
	var errs []error
	for _, n := range pc.Group.IssueNumbers() {
		if err := s.tracker.MarkIssueFixed(n, pr.URL); err != nil {
			errs = append(errs, fmt.Errorf("issue %d: %w", n, err))
		}
	}
	if len(errs) > 0 {
		return &Error{Stage: s.Name(), Code: CodePublishFailed, Err: errors.Join(errs...)}
	}
	return nil
}
