package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/forgeq/internal/retry"
)

// PackageManager identifies the tool that installs workspace dependencies.
type PackageManager string

const (
	PMPnpm PackageManager = "pnpm"
	PMYarn PackageManager = "yarn"
	PMNpm  PackageManager = "npm"
	PMNone PackageManager = "" // nothing to install
)

// lockFiles maps lock file names onto their package manager, checked in
// fixed priority order.
var lockFiles = []struct {
	file string
	pm   PackageManager
	cmd  string
}{
	{"pnpm-lock.yaml", PMPnpm, "pnpm install --frozen-lockfile"},
	{"yarn.lock", PMYarn, "yarn install --frozen-lockfile"},
	{"package-lock.json", PMNpm, "npm ci"},
}

// DetectInstall inspects dir and returns the package manager and install
// command to use. A manifest without a lock file falls back to a plain
// install; no manifest means nothing to install.
func DetectInstall(dir string) (PackageManager, string) {
	for _, lf := range lockFiles {
		if fileExists(filepath.Join(dir, lf.file)) {
			return lf.pm, lf.cmd
		}
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return PMNpm, "npm install"
	}
	return PMNone, ""
}

// InstallOpts configures dependency installation.
type InstallOpts struct {
	Timeout    time.Duration // per attempt; defaults to 10m
	MaxRetries int           // transient network failures; defaults to 2
	Sleeper    retry.Sleeper // nil → real sleep
}

// InstallDeps installs workspace dependencies if the directory needs it.
// Install commands are retried with backoff; a worktree with no manifest is
// a no-op.
func (r *Runner) InstallDeps(ctx context.Context, dir string, opts InstallOpts) error {
	pm, command := DetectInstall(dir)
	if pm == PMNone {
		return nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	sleep := opts.Sleeper
	if sleep == nil {
		sleep = retry.SleepContext
	}

	op := func() error {
		installCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_, stderr, exitCode, err := r.cmd.Run(installCtx, dir, command)
		if err != nil {
			return fmt.Errorf("%s: %w", command, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("%s exited %d: %s", command, exitCode, tail(stderr, 500))
		}
		return nil
	}

	if err := retry.WithRetrySleeper(ctx, op, maxRetries, sleep); err != nil {
		return fmt.Errorf("install dependencies (%s): %w", pm, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
