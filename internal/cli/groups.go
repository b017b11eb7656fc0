package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/forgeq/internal/group"
)

// groupSpec is the on-disk shape of one issue group.
type groupSpec struct {
	ID         string   `json:"id"`
	Branch     string   `json:"branch"`
	Files      []string `json:"files"`
	Components []string `json:"components"`
	Issues []struct {
		Number   int      `json:"number"`
		Title    string   `json:"title"`
		Body     string   `json:"body"`
		Labels   []string `json:"labels"`
		Priority string   `json:"priority"`
	} `json:"issues"`
}

// loadGroups reads a JSON array of issue groups from path.
func loadGroups(path string) ([]*group.IssueGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}

	var specs []groupSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse groups JSON: %w", err)
	}

	out := make([]*group.IssueGroup, 0, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("groups[%d]: id is required", i)
		}
		if s.Branch == "" {
			return nil, fmt.Errorf("group %q: branch is required", s.ID)
		}
		if len(s.Issues) == 0 {
			return nil, fmt.Errorf("group %q: at least one issue is required", s.ID)
		}
		issues := make([]group.Issue, len(s.Issues))
		for j, is := range s.Issues {
			if is.Number <= 0 {
				return nil, fmt.Errorf("group %q: issue[%d]: invalid number %d", s.ID, j, is.Number)
			}
			issues[j] = group.Issue{
				Number:   is.Number,
				Title:    is.Title,
				Body:     is.Body,
				Labels:   is.Labels,
				Priority: group.ParsePriority(is.Priority),
			}
		}
		out = append(out, group.New(s.ID, s.Branch, issues, s.Files, s.Components))
	}
	return out, nil
}
