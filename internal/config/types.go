// Package config loads and validates the forgeq YAML configuration.
// Decoding is strict: unknown keys are an error, and Validate rejects
// conflicting or out-of-range values before anything runs.
package config

// Config is the full forgeq configuration.
type Config struct {
	Repo         Repo         `yaml:"repo"`
	Queue        Queue        `yaml:"queue"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Checks       []Check      `yaml:"checks"`
	Guard        Guard        `yaml:"guard"`
	AI           AI           `yaml:"ai"`
}

// Repo locates the repository fixes are cut from.
type Repo struct {
	// Path is the repository root. Required.
	Path string `yaml:"path"`
	// BaseBranch is the branch fixes branch off and PRs target. Defaults
	// to "main".
	BaseBranch string `yaml:"base_branch"`
	// WorktreeDir is where per-group worktrees are created. Defaults to
	// <state_dir>/worktrees.
	WorktreeDir string `yaml:"worktree_dir"`
	// Slug is the owner/name used as the label cache key.
	Slug string `yaml:"slug"`
}

// Queue bounds the processing queue.
type Queue struct {
	// MaxConcurrency is how many groups run at once. Defaults to 2.
	MaxConcurrency int `yaml:"max_concurrency"`
	// MaxRetries is how many times a failed group re-enters the queue.
	// Defaults to 1.
	MaxRetries int `yaml:"max_retries"`
}

// Orchestrator bounds the per-group fix loop.
type Orchestrator struct {
	// MaxFixRounds is the fix/check iteration budget per attempt.
	// Defaults to 3.
	MaxFixRounds int `yaml:"max_fix_rounds"`
}

// Check is one validation command.
type Check struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`   // lint, typecheck, test, other
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"` // eslint, typescript, vitest, generic
	// TimeoutSeconds bounds the command. Defaults to 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Guard configures the change guardrails.
type Guard struct {
	// Patterns are extra forbidden regexes on top of the built-ins.
	Patterns []string `yaml:"patterns"`
	// MaxFiles flags changes touching more files than this. Defaults to 20.
	MaxFiles int `yaml:"max_files"`
	// MaxDirectories flags changes spanning more directories than this.
	// Defaults to 5.
	MaxDirectories int `yaml:"max_directories"`
	// AllowedPrefixes, when set, restricts changed paths to these prefixes.
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
}

// AI configures the model CLI.
type AI struct {
	// Command is the model binary. Defaults to "claude".
	Command string `yaml:"command"`
	// Flags are passed on every invocation.
	Flags []string `yaml:"flags"`
	// AnalyzeTimeoutSeconds bounds analysis calls. Defaults to 300.
	AnalyzeTimeoutSeconds int `yaml:"analyze_timeout_seconds"`
	// FixTimeoutSeconds bounds fix calls. Defaults to 1800.
	FixTimeoutSeconds int `yaml:"fix_timeout_seconds"`
}
