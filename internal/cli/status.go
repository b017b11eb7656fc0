package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/forgeq/internal/db"
)

var (
	statusDBPath string
	statusLimit  int
	statusEvents bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent group results and queue activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		path := statusDBPath
		if path == "" {
			var err error
			if path, err = db.DefaultPath(); err != nil {
				return err
			}
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return err
		}

		results, err := database.RecentGroupResults(statusLimit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "no group results recorded")
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(out, "%s %s  %s  attempts=%d  %s\n", green("✓"), r.CreatedAt, r.GroupID, r.Attempts, r.PublishURL)
			} else {
				fmt.Fprintf(out, "%s %s  %s  attempts=%d  %s\n", red("✗"), r.CreatedAt, r.GroupID, r.Attempts, firstLine(r.FailureSummary))
			}
		}

		if statusEvents {
			events, err := database.RecentQueueEvents(statusLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, ev := range events {
				fmt.Fprintf(out, "%s  %-15s %s attempt=%d %s\n", ev.CreatedAt, ev.Event, ev.GroupID, ev.Attempt, ev.Error)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "SQLite database path (default: ~/.forgeq/forgeq.db)")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "how many rows to show")
	statusCmd.Flags().BoolVar(&statusEvents, "events", false, "also show raw queue events")
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
