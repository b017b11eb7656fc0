// Package cli wires the forgeq commands: run, status, guard, version.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "forgeq",
	Short: "forgeq - concurrent automated issue fixing",
	Long: `forgeq drains a queue of issue groups through an automated fix pipeline:
each group gets an isolated git worktree, an AI-proposed fix, guardrail and
check validation, and on success a pull request referencing its issues.

State is stored in ~/.forgeq/ (SQLite event log, run lock, worktrees).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(versionCmd)
}
