package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var checkKinds = map[string]bool{"lint": true, "typecheck": true, "test": true, "other": true}
var parsers = map[string]bool{"eslint": true, "typescript": true, "vitest": true, "generic": true}

// Load reads and validates a config from the given YAML file path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadDefault searches standard locations: ./forgeq.yaml, then
// ~/.forgeq/config.yaml.
func LoadDefault() (*Config, error) {
	candidates := []string{"forgeq.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".forgeq", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("no config found (searched: %v)", candidates)
}

// Parse decodes a config strictly: an unknown key is an error, not a
// silently dropped value.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Repo.BaseBranch == "" {
		cfg.Repo.BaseBranch = "main"
	}
	if cfg.Queue.MaxConcurrency == 0 {
		cfg.Queue.MaxConcurrency = 2
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 1
	}
	if cfg.Orchestrator.MaxFixRounds == 0 {
		cfg.Orchestrator.MaxFixRounds = 3
	}
	if cfg.AI.Command == "" {
		cfg.AI.Command = "claude"
	}
	if cfg.AI.AnalyzeTimeoutSeconds == 0 {
		cfg.AI.AnalyzeTimeoutSeconds = 300
	}
	if cfg.AI.FixTimeoutSeconds == 0 {
		cfg.AI.FixTimeoutSeconds = 1800
	}
	for i := range cfg.Checks {
		if cfg.Checks[i].TimeoutSeconds == 0 {
			cfg.Checks[i].TimeoutSeconds = 120
		}
		if cfg.Checks[i].Parser == "" {
			cfg.Checks[i].Parser = "generic"
		}
	}
}

// Validate rejects configs that would fail at runtime.
func (c *Config) Validate() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("config: repo.path is required")
	}
	if c.Queue.MaxConcurrency < 1 {
		return fmt.Errorf("config: queue.max_concurrency must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("config: queue.max_retries must not be negative")
	}
	if c.Orchestrator.MaxFixRounds < 1 {
		return fmt.Errorf("config: orchestrator.max_fix_rounds must be at least 1")
	}

	seen := map[string]bool{}
	for i, ck := range c.Checks {
		if ck.Name == "" {
			return fmt.Errorf("config: checks[%d]: name is required", i)
		}
		if seen[ck.Name] {
			return fmt.Errorf("config: duplicate check name %q", ck.Name)
		}
		seen[ck.Name] = true
		if ck.Command == "" {
			return fmt.Errorf("config: check %q: command is required", ck.Name)
		}
		if ck.Kind != "" && !checkKinds[ck.Kind] {
			return fmt.Errorf("config: check %q: unknown kind %q", ck.Name, ck.Kind)
		}
		if !parsers[ck.Parser] {
			return fmt.Errorf("config: check %q: unknown parser %q", ck.Name, ck.Parser)
		}
		if ck.TimeoutSeconds < 0 {
			return fmt.Errorf("config: check %q: timeout must not be negative", ck.Name)
		}
	}

	if c.Guard.MaxFiles < 0 || c.Guard.MaxDirectories < 0 {
		return fmt.Errorf("config: guard limits must not be negative")
	}
	return nil
}
