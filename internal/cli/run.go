package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/example/forgeq/internal/ai"
	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/config"
	"github.com/example/forgeq/internal/db"
	"github.com/example/forgeq/internal/group"
	"github.com/example/forgeq/internal/guard"
	"github.com/example/forgeq/internal/interrupt"
	"github.com/example/forgeq/internal/orchestrator"
	"github.com/example/forgeq/internal/queue"
	"github.com/example/forgeq/internal/stage"
	"github.com/example/forgeq/internal/tracker"
	"github.com/example/forgeq/internal/workspace"
)

var (
	runConfigPath string
	runGroupsPath string
	runDBPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a set of issue groups through the fix pipeline",
	Long: `Reads issue groups from a JSON file, enqueues them, and drains the queue:
each group gets a worktree, an AI fix, guardrail and check validation, and
on success a pull request. Only one run may own the state directory at a
time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file (default: forgeq.yaml, ~/.forgeq/config.yaml)")
	runCmd.Flags().StringVarP(&runGroupsPath, "groups", "g", "", "JSON file of issue groups (required)")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "SQLite database path (default: ~/.forgeq/forgeq.db)")
	runCmd.MarkFlagRequired("groups")
}

func runPipeline(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	groups, err := loadGroups(runGroupsPath)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(out, "no groups to process")
		return nil
	}

	stateDir, err := ensureStateDir()
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(stateDir, "run.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another forgeq run is active (lock held at %s)", lock.Path())
	}
	defer lock.Unlock()

	dbPath := runDBPath
	if dbPath == "" {
		if dbPath, err = db.DefaultPath(); err != nil {
			return err
		}
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	ctrl := interrupt.NewController(errOut)

	q, orch, err := buildPipeline(cfg, stateDir, ctrl)
	if err != nil {
		return err
	}
	orch.SetProgress(errOut)
	q.SetProgress(errOut)

	// Terminal per-group details (publish URL, failure summary) keyed by
	// group id for the result log.
	var detailMu sync.Mutex
	details := make(map[string]*orchestrator.GroupResult)

	q.SetProcessor(func(ctx context.Context, g *group.IssueGroup) error {
		result, err := orch.ProcessGroup(ctx, g)
		detailMu.Lock()
		details[g.ID] = result
		detailMu.Unlock()

		for _, attempt := range result.Attempts {
			if attempt.Gate == nil {
				continue
			}
			for _, r := range attempt.Gate.Results {
				if dberr := database.LogCheckRun(g.ID, attempt.Round, r); dberr != nil {
					fmt.Fprintf(errOut, "log check run: %v\n", dberr)
				}
			}
		}
		return err
	})

	unsubscribe := q.On(func(ev queue.Event) {
		if ev.ItemID == "" {
			return
		}
		if err := database.LogQueueEvent(ev); err != nil {
			fmt.Fprintf(errOut, "log queue event: %v\n", err)
		}
	})
	defer unsubscribe()

	// Ctrl-C stops admissions; cleanup then blocks until in-flight groups
	// have finished and their results are logged, and only after that does
	// the controller exit 130.
	drained := make(chan struct{})
	ctrl.OnCleanup(func() error {
		q.Stop()
		<-drained
		return nil
	})
	release := ctrl.Install()
	defer release()

	fmt.Fprintf(out, "processing %d group(s), concurrency %d\n", len(groups), cfg.Queue.MaxConcurrency)
	for _, g := range groups {
		q.Enqueue(g)
	}

	results, err := q.Start(cmd.Context())
	if err != nil {
		close(drained)
		return err
	}

	detailMu.Lock()
	for _, r := range results {
		url, summary := "", r.Error
		if d := details[r.GroupID]; d != nil {
			url = d.PublishURL
			if d.FailureSummary != "" {
				summary = d.FailureSummary
			}
		}
		if err := database.LogGroupResult(r, url, summary); err != nil {
			fmt.Fprintf(errOut, "log group result: %v\n", err)
		}
	}
	detailMu.Unlock()

	printSummary(out, results, details)
	close(drained)

	if ctrl.Interrupted() {
		// The signal handler owns termination: it exits 130 once the
		// cleanup waiting on drained returns. Parking here keeps a normal
		// return from racing that exit.
		select {}
	}

	if n := countFailed(results); n > 0 {
		return fmt.Errorf("%d of %d group(s) failed", n, len(results))
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.Load(runConfigPath)
	}
	return config.LoadDefault()
}

func ensureStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".forgeq")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}

// buildPipeline assembles the queue and orchestrator from config.
func buildPipeline(cfg *config.Config, stateDir string, intr orchestrator.Interrupter) (*queue.Queue, *orchestrator.Orchestrator, error) {
	worktreeDir := cfg.Repo.WorktreeDir
	if worktreeDir == "" {
		worktreeDir = filepath.Join(stateDir, "worktrees")
	}

	wsMgr := workspace.NewManager(&workspace.ExecGit{}, cfg.Repo.Path, worktreeDir)
	trk := tracker.NewClient(&tracker.ExecRunner{}, tracker.NewLabelCache(5*time.Minute), cfg.Repo.Slug)
	adapter := ai.NewCLIAdapter(nil, ai.Opts{
		Command:        cfg.AI.Command,
		Flags:          cfg.AI.Flags,
		AnalyzeTimeout: time.Duration(cfg.AI.AnalyzeTimeoutSeconds) * time.Second,
		FixTimeout:     time.Duration(cfg.AI.FixTimeoutSeconds) * time.Second,
	})
	checkRunner := checks.NewRunner(nil)

	ev, err := guard.NewEvaluator(guard.Opts{
		Patterns:        cfg.Guard.Patterns,
		MaxFiles:        cfg.Guard.MaxFiles,
		MaxDirectories:  cfg.Guard.MaxDirectories,
		AllowedPrefixes: cfg.Guard.AllowedPrefixes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("guard configuration: %w", err)
	}

	orch := orchestrator.New(
		stage.NewWorkspaceStage(wsMgr),
		stage.NewAnalysisStage(adapter),
		stage.NewFixStage(adapter, wsMgr),
		stage.NewCheckStage(checkRunner, buildChecks(cfg), checks.InstallOpts{}),
		stage.NewCommitStage(wsMgr),
		stage.NewPublishStage(trk),
		ev,
		trk,
		intr,
		orchestrator.Opts{
			MaxFixRounds: cfg.Orchestrator.MaxFixRounds,
			BaseBranch:   cfg.Repo.BaseBranch,
		},
	)

	q := queue.New(queue.Opts{
		MaxConcurrency: cfg.Queue.MaxConcurrency,
		MaxRetries:     cfg.Queue.MaxRetries,
	})
	return q, orch, nil
}

func buildChecks(cfg *config.Config) []checks.Check {
	out := make([]checks.Check, 0, len(cfg.Checks))
	for _, c := range cfg.Checks {
		out = append(out, checks.Check{
			Name:    c.Name,
			Kind:    checks.Kind(c.Kind),
			Command: c.Command,
			Parser:  c.Parser,
			Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
		})
	}
	return out
}

func printSummary(out io.Writer, results []*queue.GroupResult, details map[string]*orchestrator.GroupResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintln(out)
	for _, r := range results {
		if r.Success {
			url := ""
			if d := details[r.GroupID]; d != nil {
				url = " " + d.PublishURL
			}
			fmt.Fprintf(out, "  %s %s (%d attempt(s))%s\n", green("✓"), r.GroupID, r.Attempts, url)
		} else {
			fmt.Fprintf(out, "  %s %s (%d attempt(s)): %s\n", red("✗"), r.GroupID, r.Attempts, r.Error)
		}
	}
	ok := len(results) - countFailed(results)
	fmt.Fprintf(out, "\n%d succeeded, %d failed\n", ok, countFailed(results))
}

func countFailed(results []*queue.GroupResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
