// Package workspace manages isolated, branch-scoped git worktrees. A
// worktree is exclusively owned by the queue item processing it and must be
// released on every exit path.
package workspace

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrorCode classifies workspace failures.
type ErrorCode string

const (
	ErrInvalidBranch     ErrorCode = "invalid_branch"
	ErrBranchExists      ErrorCode = "branch_exists"
	ErrBranchNotFound    ErrorCode = "branch_not_found"
	ErrVCSFailure        ErrorCode = "version_control_failure"
	ErrWorkspaceNotFound ErrorCode = "workspace_not_found"
	ErrUnknown           ErrorCode = "unknown"
)

// Error is a classified workspace failure.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status tracks a worktree through its lifecycle.
type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

// Worktree is the handle for one isolated working copy.
type Worktree struct {
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Manager handles git worktree operations for the pipeline.
type Manager struct {
	git     GitRunner
	repoDir string // git repo root
	baseDir string // where worktrees are created
	now     func() time.Time
}

// NewManager creates a worktree manager. baseDir defaults to
// <repoDir>/worktrees when empty.
func NewManager(git GitRunner, repoDir, baseDir string) *Manager {
	if baseDir == "" {
		baseDir = filepath.Join(repoDir, "worktrees")
	}
	return &Manager{git: git, repoDir: repoDir, baseDir: baseDir, now: time.Now}
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

// SanitizeBranch cleans up a branch name for git.
func SanitizeBranch(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// Create allocates a new worktree on a fresh branch cut from base. It fails
// when the branch already exists or the base branch is missing.
func (m *Manager) Create(branch, base string) (*Worktree, error) {
	branch = SanitizeBranch(branch)
	if branch == "" {
		return nil, &Error{Code: ErrInvalidBranch, Err: fmt.Errorf("empty branch name")}
	}
	if base == "" {
		base = "main"
	}

	// Refusing to reuse an existing branch keeps each attempt's history clean.
	if _, err := m.git.Run(m.repoDir, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		return nil, &Error{Code: ErrBranchExists, Err: fmt.Errorf("branch %q already exists", branch)}
	}

	// Best-effort fetch so the branch is cut from an up-to-date base.
	_, _ = m.git.Run(m.repoDir, "fetch", "origin", base)

	startPoint := "origin/" + base
	if _, err := m.git.Run(m.repoDir, "rev-parse", "--verify", startPoint); err != nil {
		// No remote-tracking ref; fall back to the local base branch.
		if _, lerr := m.git.Run(m.repoDir, "rev-parse", "--verify", "refs/heads/"+base); lerr != nil {
			return nil, &Error{Code: ErrBranchNotFound, Err: fmt.Errorf("base branch %q not found", base)}
		}
		startPoint = base
	}

	path := filepath.Join(m.baseDir, branch2dir(branch))
	if _, err := m.git.Run(m.repoDir, "worktree", "add", path, "-b", branch, startPoint); err != nil {
		return nil, &Error{Code: ErrVCSFailure, Err: err}
	}

	now := m.now()
	return &Worktree{
		Path:       path,
		Branch:     branch,
		Status:     StatusActive,
		CreatedAt:  now,
		LastActive: now,
	}, nil
}

// RemoveOpts controls worktree removal.
type RemoveOpts struct {
	Force        bool // discard uncommitted work
	DeleteBranch bool
}

// Remove releases a worktree. With DeleteBranch it also deletes the branch
// (never main or master).
func (m *Manager) Remove(wt *Worktree, opts RemoveOpts) error {
	if wt == nil || wt.Status == StatusRemoved {
		return nil
	}

	args := []string{"worktree", "remove"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, wt.Path)
	if _, err := m.git.Run(m.repoDir, args...); err != nil {
		if strings.Contains(err.Error(), "not a working tree") || strings.Contains(err.Error(), "No such file") {
			return &Error{Code: ErrWorkspaceNotFound, Err: err}
		}
		return &Error{Code: ErrVCSFailure, Err: err}
	}

	if opts.DeleteBranch && wt.Branch != "" && wt.Branch != "main" && wt.Branch != "master" {
		if _, err := m.git.Run(m.repoDir, "branch", "-D", wt.Branch); err != nil {
			return &Error{Code: ErrVCSFailure, Err: fmt.Errorf("delete branch %q: %w", wt.Branch, err)}
		}
	}

	wt.Status = StatusRemoved
	return nil
}

// HasUncommittedChanges reports whether the worktree at path has
// modifications not yet committed.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	out, err := m.git.Run(path, "status", "--porcelain")
	if err != nil {
		return false, &Error{Code: ErrVCSFailure, Err: err}
	}
	return strings.TrimSpace(out) != "", nil
}

// ChangedFiles lists paths with uncommitted modifications, with a deleted
// marker per file.
func (m *Manager) ChangedFiles(path string) ([]ChangedFile, error) {
	out, err := m.git.Run(path, "status", "--porcelain")
	if err != nil {
		return nil, &Error{Code: ErrVCSFailure, Err: err}
	}
	var files []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		status := strings.TrimSpace(line[:2])
		name := strings.TrimSpace(line[3:])
		// Renames report "old -> new"; the new path is the live one.
		if idx := strings.Index(name, " -> "); idx >= 0 {
			name = name[idx+4:]
		}
		files = append(files, ChangedFile{
			Path:    name,
			Deleted: strings.Contains(status, "D"),
		})
	}
	return files, nil
}

// ChangedFile is one uncommitted modification in a worktree.
type ChangedFile struct {
	Path    string
	Deleted bool
}

// Exec runs a git command inside the worktree at path.
func (m *Manager) Exec(path string, args ...string) (string, error) {
	out, err := m.git.Run(path, args...)
	if err != nil {
		return out, &Error{Code: ErrVCSFailure, Err: err}
	}
	return out, nil
}

// branch2dir flattens a branch name into a directory name.
func branch2dir(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
