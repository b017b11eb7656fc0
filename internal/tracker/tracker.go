// Package tracker adapts the issue tracker (via the gh CLI) for the
// pipeline: publish-request creation and per-issue status updates.
package tracker

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/example/forgeq/internal/group"
)

// Labels applied to linked issues as the pipeline progresses.
const (
	LabelInProgress = "autofix:in-progress"
	LabelPublished  = "autofix:published"
	LabelFailed     = "autofix:failed"
)

// CmdRunner provides gh command execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PublishRequest is the result of opening a pull request.
type PublishRequest struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Base   string `json:"base"`
}

// Client provides issue tracker operations.
type Client struct {
	cmd    CmdRunner
	labels *LabelCache
	repo   string // owner/name key for the label cache
}

// NewClient creates a tracker client. The label cache may be shared across
// clients; pass nil to disable caching.
func NewClient(cmd CmdRunner, labels *LabelCache, repo string) *Client {
	return &Client{cmd: cmd, labels: labels, repo: repo}
}

// CreatePublishRequest opens a pull request for the group's branch against
// base, referencing every source issue.
func (c *Client) CreatePublishRequest(g *group.IssueGroup, branch, base string) (*PublishRequest, error) {
	title := fmt.Sprintf("Automated fix: %s", g.Summary())

	var b strings.Builder
	b.WriteString("Automated fix produced by forgeq.\n\nResolves:\n")
	for _, is := range g.Issues {
		fmt.Fprintf(&b, "- Fixes #%d: %s\n", is.Number, is.Title)
	}
	if len(g.Components) > 0 {
		fmt.Fprintf(&b, "\nComponents: %s\n", strings.Join(g.Components, ", "))
	}

	args := []string{"pr", "create", "--title", title, "--body", b.String(), "--head", branch}
	if base != "" {
		args = append(args, "--base", base)
	}

	out, err := c.cmd.Run(args...)
	if err != nil {
		return nil, fmt.Errorf("create publish request: %w", err)
	}
	return &PublishRequest{URL: out, Branch: branch, Base: base}, nil
}

// FindPublishRequest checks whether a PR already exists for a branch.
// Returns nil when none exists.
func (c *Client) FindPublishRequest(branch string) (*PublishRequest, error) {
	out, err := c.cmd.Run("pr", "list", "--head", branch, "--json", "url", "--limit", "1")
	if err != nil {
		return nil, fmt.Errorf("find publish request: %w", err)
	}
	var prs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PublishRequest{URL: prs[0].URL, Branch: branch}, nil
}

// MarkIssueFixed comments the publish-request link on the issue and applies
// the published label.
func (c *Client) MarkIssueFixed(number int, prURL string) error {
	if err := validIssue(number); err != nil {
		return err
	}
	body := fmt.Sprintf("An automated fix for this issue is ready for review: %s", prURL)
	if _, err := c.cmd.Run("issue", "comment", fmt.Sprintf("%d", number), "--body", body); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return c.setLabels(number, LabelPublished, LabelInProgress)
}

// MarkIssueFailed posts the failure summary on the issue and applies the
// failed label.
func (c *Client) MarkIssueFailed(number int, summary string) error {
	if err := validIssue(number); err != nil {
		return err
	}
	body := "The automated fix attempt for this issue did not succeed.\n\n" + summary
	if _, err := c.cmd.Run("issue", "comment", fmt.Sprintf("%d", number), "--body", body); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return c.setLabels(number, LabelFailed, LabelInProgress)
}

// MarkIssueInProgress applies the in-progress label.
func (c *Client) MarkIssueInProgress(number int) error {
	if err := validIssue(number); err != nil {
		return err
	}
	return c.setLabels(number, LabelInProgress, "")
}

// setLabels adds one label and removes another (when set), creating the
// added label first if the repository doesn't have it.
func (c *Client) setLabels(number int, add, remove string) error {
	if err := c.ensureLabel(add); err != nil {
		return err
	}
	args := []string{"issue", "edit", fmt.Sprintf("%d", number), "--add-label", add}
	if remove != "" {
		args = append(args, "--remove-label", remove)
	}
	if _, err := c.cmd.Run(args...); err != nil {
		return fmt.Errorf("edit labels on issue %d: %w", number, err)
	}
	return nil
}

// ensureLabel creates the label if the repository doesn't define it yet.
// Lookups go through the TTL cache; creating a label invalidates the whole
// repo entry rather than patching it.
func (c *Client) ensureLabel(name string) error {
	if c.labels != nil {
		if names, ok := c.labels.Get(c.repo); ok {
			for _, n := range names {
				if n == name {
					return nil
				}
			}
		}
	}

	out, err := c.cmd.Run("label", "list", "--json", "name", "--limit", "200")
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	var labels []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &labels); err != nil {
		return fmt.Errorf("parse label list JSON: %w", err)
	}

	names := make([]string, 0, len(labels))
	exists := false
	for _, l := range labels {
		names = append(names, l.Name)
		if l.Name == name {
			exists = true
		}
	}
	if c.labels != nil {
		c.labels.Put(c.repo, names)
	}
	if exists {
		return nil
	}

	if _, err := c.cmd.Run("label", "create", name, "--color", "5319e7", "--force"); err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}
	if c.labels != nil {
		c.labels.Invalidate(c.repo)
	}
	return nil
}

func validIssue(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid issue number %d: must be positive", n)
	}
	return nil
}
