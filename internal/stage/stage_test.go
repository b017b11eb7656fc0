package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/example/forgeq/internal/ai"
	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/group"
	"github.com/example/forgeq/internal/tracker"
	"github.com/example/forgeq/internal/workspace"
)

// mockWS implements WorkspaceManager.
type mockWS struct {
	createErr  error
	removeErr  error
	removed    []workspace.RemoveOpts
	changed    []workspace.ChangedFile
	changedErr error
	execCalls  [][]string
	execErr    error
	execFailOn string // git subcommand that execErr applies to; empty fails all
	dirty      bool
}

func (m *mockWS) Create(branch, base string) (*workspace.Worktree, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &workspace.Worktree{Path: "/wt/" + branch, Branch: branch, Status: workspace.StatusActive}, nil
}

func (m *mockWS) Remove(wt *workspace.Worktree, opts workspace.RemoveOpts) error {
	m.removed = append(m.removed, opts)
	return m.removeErr
}

func (m *mockWS) HasUncommittedChanges(path string) (bool, error) { return m.dirty, nil }

func (m *mockWS) ChangedFiles(path string) ([]workspace.ChangedFile, error) {
	return m.changed, m.changedErr
}

func (m *mockWS) Exec(path string, args ...string) (string, error) {
	m.execCalls = append(m.execCalls, args)
	if m.execErr != nil && (m.execFailOn == "" || (len(args) > 0 && args[0] == m.execFailOn)) {
		return "", m.execErr
	}
	return "", nil
}

type mockAI struct {
	analysis   *ai.Analysis
	analyzeErr error
	fix        *ai.FixResult
	fixErr     error
	fixReqs    []ai.FixRequest
}

func (m *mockAI) AnalyzeGroup(ctx context.Context, g *group.IssueGroup, dir string) (*ai.Analysis, error) {
	return m.analysis, m.analyzeErr
}

func (m *mockAI) ApplyFix(ctx context.Context, req ai.FixRequest) (*ai.FixResult, error) {
	m.fixReqs = append(m.fixReqs, req)
	return m.fix, m.fixErr
}

func newCtx() *Context {
	return &Context{
		Group: group.New("g1", "fix/bugs", []group.Issue{
			{Number: 1, Title: "bug one"},
			{Number: 2, Title: "bug two"},
		}, []string{"src/a.ts"}, nil),
		BaseBranch: "main",
		Round:      1,
	}
}

func TestWorkspaceStage(t *testing.T) {
	ws := &mockWS{}
	st := NewWorkspaceStage(ws)
	pc := newCtx()

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Workspace == nil || pc.Workspace.Branch != "fix/bugs" {
		t.Errorf("workspace not recorded: %+v", pc.Workspace)
	}
}

func TestWorkspaceStage_CreateError(t *testing.T) {
	ws := &mockWS{createErr: &workspace.Error{Code: workspace.ErrBranchExists, Err: errors.New("exists")}}
	st := NewWorkspaceStage(ws)
	pc := newCtx()

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeWorkspaceFailed {
		t.Fatalf("expected workspace_failed, got %v", err)
	}
	var werr *workspace.Error
	if !errors.As(err, &werr) || werr.Code != workspace.ErrBranchExists {
		t.Errorf("expected wrapped branch_exists, got %v", err)
	}
}

func TestWorkspaceStage_Cleanup(t *testing.T) {
	ws := &mockWS{}
	st := NewWorkspaceStage(ws)
	pc := newCtx()
	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatal(err)
	}

	if err := st.Cleanup(pc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws.removed) != 1 || !ws.removed[0].Force || !ws.removed[0].DeleteBranch {
		t.Errorf("unexpected remove opts: %+v", ws.removed)
	}
	if pc.Workspace != nil {
		t.Error("expected workspace cleared")
	}

	// second cleanup is a noop
	if err := st.Cleanup(pc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws.removed) != 1 {
		t.Errorf("expected no second remove, got %d", len(ws.removed))
	}
}

func TestWorkspaceStage_CleanupKeepBranch(t *testing.T) {
	ws := &mockWS{}
	st := NewWorkspaceStage(ws)
	pc := newCtx()
	_ = st.Execute(context.Background(), pc)

	if err := st.Cleanup(pc, true); err != nil {
		t.Fatal(err)
	}
	if ws.removed[0].DeleteBranch {
		t.Error("expected branch kept")
	}
}

func TestAnalysisStage(t *testing.T) {
	adapter := &mockAI{analysis: &ai.Analysis{CanHandle: true, Complexity: "low", Approach: "patch it"}}
	st := NewAnalysisStage(adapter)
	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt/fix-bugs", Branch: "fix/bugs"}

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Analysis == nil || pc.Analysis.Approach != "patch it" {
		t.Errorf("analysis not recorded: %+v", pc.Analysis)
	}
}

func TestAnalysisStage_CannotHandle(t *testing.T) {
	adapter := &mockAI{analysis: &ai.Analysis{CanHandle: false, Reason: "needs design input"}}
	st := NewAnalysisStage(adapter)
	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeCannotHandle {
		t.Fatalf("expected cannot_handle, got %v", err)
	}
	if !strings.Contains(serr.Err.Error(), "needs design input") {
		t.Errorf("expected reason in error, got %v", serr.Err)
	}
}

func TestAnalysisStage_RequiresWorkspace(t *testing.T) {
	st := NewAnalysisStage(&mockAI{})
	err := st.Execute(context.Background(), newCtx())
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeAnalysisFailed {
		t.Fatalf("expected analysis_failed, got %v", err)
	}
}

func TestFixStage(t *testing.T) {
	ws := &mockWS{changed: []workspace.ChangedFile{{Path: "src/a.ts"}}}
	adapter := &mockAI{fix: &ai.FixResult{Summary: "patched"}}
	st := NewFixStage(adapter, ws)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}
	pc.Analysis = &ai.Analysis{CanHandle: true, Approach: "patch it"}
	pc.Feedback = "tests failed last round"
	pc.Round = 2

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Fix == nil || pc.Fix.Summary != "patched" || len(pc.Fix.Files) != 1 {
		t.Errorf("fix not recorded: %+v", pc.Fix)
	}

	req := adapter.fixReqs[0]
	if req.Approach != "patch it" || req.Feedback != "tests failed last round" || req.Round != 2 {
		t.Errorf("request missing context: %+v", req)
	}
}

func TestFixStage_NoChanges(t *testing.T) {
	ws := &mockWS{} // no changed files
	adapter := &mockAI{fix: &ai.FixResult{Summary: "claimed a fix"}}
	st := NewFixStage(adapter, ws)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}
	pc.Analysis = &ai.Analysis{CanHandle: true}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeNoChanges {
		t.Fatalf("expected no_changes, got %v", err)
	}
}

// mockChecks implements CheckRunner.
type mockChecks struct {
	installErr   error
	installCalls int
	gate         *checks.GateResult
	gateErr      error
	ran          []checks.Check
}

func (m *mockChecks) InstallDeps(ctx context.Context, dir string, opts checks.InstallOpts) error {
	m.installCalls++
	return m.installErr
}

func (m *mockChecks) RunAll(ctx context.Context, dir string, cks []checks.Check, failFast bool) (*checks.GateResult, error) {
	m.ran = cks
	return m.gate, m.gateErr
}

func TestCheckStage_OrdersChecks(t *testing.T) {
	mc := &mockChecks{gate: &checks.GateResult{Passed: true}}
	st := NewCheckStage(mc, []checks.Check{
		{Name: "test", Kind: checks.KindTest},
		{Name: "lint", Kind: checks.KindLint},
		{Name: "typecheck", Kind: checks.KindTypecheck},
	}, checks.InstallOpts{})

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt"}
	pc.Fix = &FixOutcome{}

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.installCalls != 1 {
		t.Errorf("expected install, got %d calls", mc.installCalls)
	}
	got := []string{mc.ran[0].Name, mc.ran[1].Name, mc.ran[2].Name}
	want := []string{"lint", "typecheck", "test"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("check order = %v, want %v", got, want)
		}
	}
}

func TestCheckStage_InstallFailure(t *testing.T) {
	mc := &mockChecks{installErr: errors.New("registry unreachable")}
	st := NewCheckStage(mc, nil, checks.InstallOpts{})

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt"}
	pc.Fix = &FixOutcome{}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeInstallFailed {
		t.Fatalf("expected install_failed, got %v", err)
	}
}

func TestCheckStage_GateFailure(t *testing.T) {
	mc := &mockChecks{gate: &checks.GateResult{
		Passed:  false,
		Results: []*checks.Result{{Name: "test", Kind: checks.KindTest, Status: checks.StatusFailed}},
	}}
	st := NewCheckStage(mc, nil, checks.InstallOpts{})

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt"}
	pc.Fix = &FixOutcome{}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeChecksFailed {
		t.Fatalf("expected checks_failed, got %v", err)
	}
	// gate result still recorded for feedback synthesis
	if pc.Check == nil || pc.Check.Passed {
		t.Errorf("expected failed gate recorded, got %+v", pc.Check)
	}
}

func TestCommitStage(t *testing.T) {
	ws := &mockWS{}
	st := NewCommitStage(ws)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "fix/bugs"}
	pc.Fix = &FixOutcome{Summary: "patched the bugs"}

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws.execCalls) != 3 {
		t.Fatalf("expected add/commit/push, got %v", ws.execCalls)
	}
	if ws.execCalls[0][0] != "add" || ws.execCalls[1][0] != "commit" || ws.execCalls[2][0] != "push" {
		t.Errorf("unexpected command order: %v", ws.execCalls)
	}
	msg := ws.execCalls[1][2]
	if !strings.Contains(msg, "patched the bugs") || !strings.Contains(msg, "Fixes #1") || !strings.Contains(msg, "Fixes #2") {
		t.Errorf("commit message missing content:\n%s", msg)
	}
}

func TestCommitStage_DistinguishesPushFailure(t *testing.T) {
	ws := &mockWS{execErr: errors.New("remote rejected"), execFailOn: "push"}
	st := NewCommitStage(ws)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}
	pc.Fix = &FixOutcome{}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodePushFailed {
		t.Fatalf("expected push_failed, got %v", err)
	}
}

func TestCommitStage_CommitFailure(t *testing.T) {
	ws := &mockWS{execErr: errors.New("nothing to commit"), execFailOn: "commit"}
	st := NewCommitStage(ws)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}
	pc.Fix = &FixOutcome{}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeCommitFailed {
		t.Fatalf("expected commit_failed, got %v", err)
	}
}

// mockTracker implements Tracker.
type mockTracker struct {
	pr        *tracker.PublishRequest
	prErr     error
	fixed     []int
	fixedErr  map[int]error
	failed    []int
	inflight  []int
}

func (m *mockTracker) CreatePublishRequest(g *group.IssueGroup, branch, base string) (*tracker.PublishRequest, error) {
	if m.prErr != nil {
		return nil, m.prErr
	}
	return m.pr, nil
}

func (m *mockTracker) MarkIssueFixed(n int, url string) error {
	m.fixed = append(m.fixed, n)
	if m.fixedErr != nil {
		return m.fixedErr[n]
	}
	return nil
}

func (m *mockTracker) MarkIssueFailed(n int, summary string) error {
	m.failed = append(m.failed, n)
	return nil
}

func (m *mockTracker) MarkIssueInProgress(n int) error {
	m.inflight = append(m.inflight, n)
	return nil
}

func TestPublishStage(t *testing.T) {
	tr := &mockTracker{pr: &tracker.PublishRequest{URL: "https://example.com/pr/1"}}
	st := NewPublishStage(tr)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "fix/bugs"}

	if err := st.Execute(context.Background(), pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Publish == nil || pc.Publish.URL != "https://example.com/pr/1" {
		t.Errorf("publish not recorded: %+v", pc.Publish)
	}
	if len(tr.fixed) != 2 {
		t.Errorf("expected both issues marked fixed, got %v", tr.fixed)
	}
}

func TestPublishStage_MarksRemainingIssuesOnPartialFailure(t *testing.T) {
	tr := &mockTracker{
		pr:       &tracker.PublishRequest{URL: "u"},
		fixedErr: map[int]error{1: fmt.Errorf("label race")},
	}
	st := NewPublishStage(tr)

	pc := newCtx()
	pc.Workspace = &workspace.Worktree{Path: "/wt", Branch: "b"}

	err := st.Execute(context.Background(), pc)
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodePublishFailed {
		t.Fatalf("expected publish_failed, got %v", err)
	}
	// issue 2 still marked despite issue 1 failing
	if len(tr.fixed) != 2 {
		t.Errorf("expected both issues attempted, got %v", tr.fixed)
	}
	// PR stays recorded for the failure report
	if pc.Publish == nil {
		t.Error("expected publish request retained")
	}
}
