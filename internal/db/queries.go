package db

import (
	"fmt"
)

// GroupResultRow is one row from group_results.
type GroupResultRow struct {
	ItemID         string
	GroupID        string
	Success        bool
	Attempts       int
	PublishURL     string
	FailureSummary string
	CreatedAt      string
}

// RecentGroupResults returns the newest terminal results, newest first.
func (d *DB) RecentGroupResults(limit int) ([]GroupResultRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT item_id, group_id, success, attempts,
		        COALESCE(publish_url, ''), COALESCE(failure_summary, ''), created_at
		 FROM group_results ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query group results: %w", err)
	}
	defer rows.Close()

	var out []GroupResultRow
	for rows.Next() {
		var r GroupResultRow
		if err := rows.Scan(&r.ItemID, &r.GroupID, &r.Success, &r.Attempts, &r.PublishURL, &r.FailureSummary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueueEventRow is one row from queue_events.
type QueueEventRow struct {
	ItemID    string
	GroupID   string
	Event     string
	Attempt   int
	Error     string
	CreatedAt string
}

// RecentQueueEvents returns the newest queue events, newest first.
func (d *DB) RecentQueueEvents(limit int) ([]QueueEventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT item_id, group_id, event, attempt, COALESCE(error, ''), created_at
		 FROM queue_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query queue events: %w", err)
	}
	defer rows.Close()

	var out []QueueEventRow
	for rows.Next() {
		var r QueueEventRow
		if err := rows.Scan(&r.ItemID, &r.GroupID, &r.Event, &r.Attempt, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckRunRow is one row from check_runs.
type CheckRunRow struct {
	GroupID    string
	FixRound   int
	CheckName  string
	Kind       string
	Status     string
	ExitCode   int
	DurationMs int
	Summary    string
}

// CheckRunsForGroup returns a group's check history in run order.
func (d *DB) CheckRunsForGroup(groupID string) ([]CheckRunRow, error) {
	rows, err := d.conn.Query(
		`SELECT group_id, fix_round, check_name, kind, status, exit_code, duration_ms, COALESCE(summary, '')
		 FROM check_runs WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query check runs: %w", err)
	}
	defer rows.Close()

	var out []CheckRunRow
	for rows.Next() {
		var r CheckRunRow
		if err := rows.Scan(&r.GroupID, &r.FixRound, &r.CheckName, &r.Kind, &r.Status, &r.ExitCode, &r.DurationMs, &r.Summary); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
