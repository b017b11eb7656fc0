package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/forgeq/internal/guard"
	"github.com/example/forgeq/internal/workspace"
)

var guardDir string

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Evaluate the working tree against the configured guardrails",
	Long: `Runs the forbidden-pattern and scope checks against the uncommitted
changes in a directory, exactly as the pipeline would before accepting a
fix. Useful for dry-running guard configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ev, err := guard.NewEvaluator(guard.Opts{
			Patterns:        cfg.Guard.Patterns,
			MaxFiles:        cfg.Guard.MaxFiles,
			MaxDirectories:  cfg.Guard.MaxDirectories,
			AllowedPrefixes: cfg.Guard.AllowedPrefixes,
		})
		if err != nil {
			return fmt.Errorf("guard configuration: %w", err)
		}

		dir := guardDir
		if dir == "" {
			dir = cfg.Repo.Path
		}
		mgr := workspace.NewManager(&workspace.ExecGit{}, dir, "")
		changed, err := mgr.ChangedFiles(dir)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Fprintln(out, "no uncommitted changes")
			return nil
		}

		changes := make([]guard.FileChange, 0, len(changed))
		for _, f := range changed {
			fc := guard.FileChange{Path: f.Path, Deleted: f.Deleted}
			if !f.Deleted {
				if data, err := os.ReadFile(filepath.Join(dir, f.Path)); err == nil {
					fc.Content = string(data)
				}
			}
			changes = append(changes, fc)
		}

		scope, gerr := ev.Evaluate(changes)
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(out, "files: %d, directories: %d, components: %v\n", scope.TotalFiles, len(scope.Directories), scope.Components)
		if scope.TooBroad {
			fmt.Fprintf(out, "%s %s\n", yellow("warning:"), scope.Warning)
		}
		if gerr != nil {
			return gerr
		}
		fmt.Fprintln(out, color.New(color.FgGreen).Sprint("guardrails passed"))
		return nil
	},
}

func init() {
	guardCmd.Flags().StringVar(&guardDir, "dir", "", "directory to evaluate (default: repo.path from config)")
}
