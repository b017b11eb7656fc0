// Package group defines the unit of work the pipeline processes: a batch of
// related tracked issues fixed together on one branch.
package group

import (
	"fmt"
	"sort"
	"strings"
)

// Priority orders issues by urgency. Higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase label for a priority level.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps a label onto a Priority. Unknown labels are low.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Issue is one tracked work item as the issue tracker reports it.
type Issue struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Priority Priority `json:"priority"`
}

// IssueGroup is an immutable batch of related issues to be fixed together.
// It is created by an upstream grouping step and read-only to the pipeline.
type IssueGroup struct {
	ID         string   `json:"id"`
	Issues     []Issue  `json:"issues"`
	Branch     string   `json:"branch"`
	Files      []string `json:"files,omitempty"`
	Components []string `json:"components,omitempty"`
	Priority   Priority `json:"priority"`
}

// New builds an IssueGroup from its issues, deriving the file union,
// component tags, and highest priority.
func New(id, branch string, issues []Issue, files, components []string) *IssueGroup {
	g := &IssueGroup{
		ID:         id,
		Branch:     branch,
		Issues:     issues,
		Files:      dedupe(files),
		Components: dedupe(components),
	}
	for _, is := range issues {
		if is.Priority > g.Priority {
			g.Priority = is.Priority
		}
	}
	return g
}

// IssueNumbers returns the numbers of the group's issues in order.
func (g *IssueGroup) IssueNumbers() []int {
	nums := make([]int, 0, len(g.Issues))
	for _, is := range g.Issues {
		nums = append(nums, is.Number)
	}
	return nums
}

// Summary returns a one-line description used in commit messages and logs.
func (g *IssueGroup) Summary() string {
	if len(g.Issues) == 1 {
		return fmt.Sprintf("#%d %s", g.Issues[0].Number, g.Issues[0].Title)
	}
	var refs []string
	for _, is := range g.Issues {
		refs = append(refs, fmt.Sprintf("#%d", is.Number))
	}
	return fmt.Sprintf("%d issues (%s)", len(g.Issues), strings.Join(refs, ", "))
}

// dedupe returns a sorted copy of in with duplicates removed.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
