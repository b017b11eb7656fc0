package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/config"
	"github.com/example/forgeq/internal/group"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(buf.String(), "forgeq version 1.2.3") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func writeGroups(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groups.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadGroups(t *testing.T) {
	path := writeGroups(t, `[
  {
    "id": "grp-button",
    "branch": "fix/button",
    "files": ["src/components/Button/Button.tsx"],
    "components": ["Button"],
    "issues": [
      {"number": 101, "title": "Button misaligned", "labels": ["bug"], "priority": "high"},
      {"number": 102, "title": "Button wrong color"}
    ]
  }
]`)

	groups, err := loadGroups(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.ID != "grp-button" || g.Branch != "fix/button" {
		t.Errorf("unexpected group: %+v", g)
	}
	if len(g.Issues) != 2 || g.Issues[0].Priority != group.PriorityHigh {
		t.Errorf("unexpected issues: %+v", g.Issues)
	}
	if g.Priority != group.PriorityHigh {
		t.Errorf("group priority = %v, want high", g.Priority)
	}
}

func TestLoadGroups_Validation(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"missing id", `[{"branch": "b", "issues": [{"number": 1}]}]`, "id is required"},
		{"missing branch", `[{"id": "g", "issues": [{"number": 1}]}]`, "branch is required"},
		{"no issues", `[{"id": "g", "branch": "b"}]`, "at least one issue"},
		{"bad number", `[{"id": "g", "branch": "b", "issues": [{"number": 0}]}]`, "invalid number"},
		{"bad json", `{not json`, "parse groups JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadGroups(writeGroups(t, tt.json))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildChecks(t *testing.T) {
	cfg := &config.Config{Checks: []config.Check{
		{Name: "lint", Kind: "lint", Command: "npm run lint", Parser: "eslint", TimeoutSeconds: 60},
		{Name: "test", Kind: "test", Command: "vitest run", Parser: "vitest", TimeoutSeconds: 600},
	}}

	cks := buildChecks(cfg)
	if len(cks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(cks))
	}
	if cks[0].Kind != checks.KindLint || cks[0].Timeout != 60*time.Second {
		t.Errorf("unexpected check: %+v", cks[0])
	}
	if cks[1].Parser != "vitest" {
		t.Errorf("unexpected parser %q", cks[1].Parser)
	}
}
