package db

import (
	"fmt"

	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/queue"
)

// LogQueueEvent persists one queue lifecycle event.
func (d *DB) LogQueueEvent(ev queue.Event) error {
	_, err := d.conn.Exec(
		`INSERT INTO queue_events (item_id, group_id, event, attempt, error) VALUES (?, ?, ?, ?, ?)`,
		ev.ItemID, ev.GroupID, string(ev.Type), ev.Attempt, ev.Error,
	)
	if err != nil {
		return fmt.Errorf("log queue event: %w", err)
	}
	return nil
}

// LogCheckRun persists one check result for a fix round.
func (d *DB) LogCheckRun(groupID string, fixRound int, r *checks.Result) error {
	_, err := d.conn.Exec(
		`INSERT INTO check_runs (group_id, fix_round, check_name, kind, status, exit_code, duration_ms, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		groupID, fixRound, r.Name, string(r.Kind), string(r.Status), r.ExitCode, r.DurationMs, r.Summary,
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// LogGroupResult persists the terminal outcome for one queue item.
func (d *DB) LogGroupResult(r *queue.GroupResult, publishURL, failureSummary string) error {
	_, err := d.conn.Exec(
		`INSERT INTO group_results (item_id, group_id, success, attempts, publish_url, failure_summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ItemID, r.GroupID, r.Success, r.Attempts, publishURL, failureSummary,
	)
	if err != nil {
		return fmt.Errorf("log group result: %w", err)
	}
	return nil
}
