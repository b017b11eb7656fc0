// Package guard validates a proposed change set before it is accepted:
// forbidden-pattern scanning and scope analysis. Evaluations are stateless
// and never persisted beyond one call.
package guard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Error codes for guardrail rejections.
const (
	CodeForbiddenPattern = "FORBIDDEN_PATTERN_DETECTED"
	CodeScopeTooBroad    = "SCOPE_TOO_BROAD"
)

// Defaults for scope limits.
const (
	DefaultMaxFilesPerFix       = 20
	DefaultMaxDirectoriesPerFix = 5
)

// builtinPatterns are always scanned, in addition to configured ones.
// They target changes no automated fix should ever propose.
var builtinPatterns = []string{
	`rm\s+-rf\s+/`,
	`curl\s+[^|]*\|\s*(sudo\s+)?(ba)?sh`,
	`git\s+push\s+(-f|--force)\b`,
	`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*['"][A-Za-z0-9+/_-]{8,}`,
	`chmod\s+777\b`,
	`DROP\s+TABLE\b`,
}

// FileChange is one file in a proposed change set.
type FileChange struct {
	Path    string
	Content string
	Deleted bool
}

// PatternMatch records one forbidden-pattern hit.
type PatternMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"` // 1-based
	Pattern string `json:"pattern"`
	Text    string `json:"text"` // trimmed matched line
}

// ScopeAnalysis summarizes how broad a change set is.
type ScopeAnalysis struct {
	TotalFiles  int      `json:"total_files"`
	Directories []string `json:"directories"`
	Components  []string `json:"components,omitempty"`
	TooBroad    bool     `json:"too_broad"`
	Warning     string   `json:"warning,omitempty"`
}

// Error is a guardrail rejection. Guardrail violations are structural, not
// transient: the orchestrator never retries them.
type Error struct {
	Code    string
	Matches []PatternMatch
	Scope   *ScopeAnalysis
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// Opts configures an Evaluator.
type Opts struct {
	Patterns        []string // extra forbidden patterns (regexes)
	MaxFiles        int      // 0 → DefaultMaxFilesPerFix
	MaxDirectories  int      // 0 → DefaultMaxDirectoriesPerFix
	AllowedPrefixes []string // non-empty → changed paths must match one
}

// Evaluator applies forbidden-pattern and scope checks to change sets.
type Evaluator struct {
	patterns        []*regexp.Regexp
	maxFiles        int
	maxDirs         int
	allowedPrefixes []string
}

// NewEvaluator compiles the configured patterns on top of the built-in list.
func NewEvaluator(opts Opts) (*Evaluator, error) {
	e := &Evaluator{
		maxFiles:        opts.MaxFiles,
		maxDirs:         opts.MaxDirectories,
		allowedPrefixes: opts.AllowedPrefixes,
	}
	if e.maxFiles <= 0 {
		e.maxFiles = DefaultMaxFilesPerFix
	}
	if e.maxDirs <= 0 {
		e.maxDirs = DefaultMaxDirectoriesPerFix
	}

	for _, p := range append(append([]string{}, builtinPatterns...), opts.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile forbidden pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// CheckPatterns scans every non-deleted file line by line and returns all
// forbidden-pattern matches with 1-based line numbers.
func (e *Evaluator) CheckPatterns(changes []FileChange) []PatternMatch {
	var matches []PatternMatch
	for _, fc := range changes {
		if fc.Deleted {
			continue
		}
		lines := strings.Split(fc.Content, "\n")
		for i, line := range lines {
			for _, re := range e.patterns {
				if re.MatchString(line) {
					matches = append(matches, PatternMatch{
						File:    fc.Path,
						Line:    i + 1,
						Pattern: re.String(),
						Text:    strings.TrimSpace(line),
					})
				}
			}
		}
	}
	return matches
}

// recognized container directory names whose following segment is treated
// as a component name.
var containerDirs = map[string]bool{
	"components": true,
	"modules":    true,
	"features":   true,
	"packages":   true,
}

// AnalyzeScope computes file and directory counts, affected components, and
// whether the change set exceeds the configured limits.
func (e *Evaluator) AnalyzeScope(changes []FileChange) ScopeAnalysis {
	dirs := make(map[string]bool)
	comps := make(map[string]bool)

	for _, fc := range changes {
		dir := filepath.Dir(fc.Path)
		dirs[dir] = true

		segs := strings.Split(filepath.ToSlash(fc.Path), "/")
		for i := 0; i < len(segs)-1; i++ {
			if containerDirs[segs[i]] && segs[i+1] != "" {
				comps[segs[i+1]] = true
				break
			}
		}
	}

	analysis := ScopeAnalysis{
		TotalFiles:  len(changes),
		Directories: sortedKeys(dirs),
		Components:  sortedKeys(comps),
	}

	if analysis.TotalFiles > e.maxFiles || len(analysis.Directories) > e.maxDirs {
		analysis.TooBroad = true
		analysis.Warning = fmt.Sprintf(
			"change touches %d files across %d directories (limits: %d files, %d directories); consider splitting the fix",
			analysis.TotalFiles, len(analysis.Directories), e.maxFiles, e.maxDirs,
		)
	}

	return analysis
}

// Evaluate runs both checks. Any forbidden-pattern match rejects the change
// set; a file outside the allowed prefixes (when configured) rejects it with
// CodeScopeTooBroad. A merely broad change set is flagged, not rejected.
func (e *Evaluator) Evaluate(changes []FileChange) (ScopeAnalysis, error) {
	if matches := e.CheckPatterns(changes); len(matches) > 0 {
		return ScopeAnalysis{}, &Error{
			Code:    CodeForbiddenPattern,
			Matches: matches,
			Detail:  fmt.Sprintf("%d forbidden pattern match(es), first in %s:%d", len(matches), matches[0].File, matches[0].Line),
		}
	}

	analysis := e.AnalyzeScope(changes)

	if len(e.allowedPrefixes) > 0 {
		for _, fc := range changes {
			if !e.pathAllowed(fc.Path) {
				return analysis, &Error{
					Code:   CodeScopeTooBroad,
					Scope:  &analysis,
					Detail: fmt.Sprintf("file %s is outside the allowed paths", fc.Path),
				}
			}
		}
	}

	return analysis, nil
}

func (e *Evaluator) pathAllowed(path string) bool {
	p := filepath.ToSlash(path)
	for _, prefix := range e.allowedPrefixes {
		if strings.HasPrefix(p, filepath.ToSlash(prefix)) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
