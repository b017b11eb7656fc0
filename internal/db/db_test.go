package db

import (
	"testing"

	"github.com/example/forgeq/internal/checks"
	"github.com/example/forgeq/internal/queue"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate_Idempotent(t *testing.T) {
	d := testDB(t)

	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	tables := []string{"queue_events", "check_runs", "group_results"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestLogAndQueryQueueEvents(t *testing.T) {
	d := testDB(t)

	events := []queue.Event{
		{Type: queue.EventItemQueued, ItemID: "i1", GroupID: "g1"},
		{Type: queue.EventItemStarted, ItemID: "i1", GroupID: "g1", Attempt: 1},
		{Type: queue.EventItemFailed, ItemID: "i1", GroupID: "g1", Attempt: 1, Error: "checks failed"},
	}
	for _, ev := range events {
		if err := d.LogQueueEvent(ev); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	rows, err := d.RecentQueueEvents(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	// newest first
	if rows[0].Event != string(queue.EventItemFailed) || rows[0].Error != "checks failed" {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
}

func TestLogAndQueryGroupResults(t *testing.T) {
	d := testDB(t)

	ok := &queue.GroupResult{ItemID: "i1", GroupID: "g1", Success: true, Attempts: 1}
	if err := d.LogGroupResult(ok, "https://example.com/pr/9", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	bad := &queue.GroupResult{ItemID: "i2", GroupID: "g2", Success: false, Attempts: 4, Error: "exhausted"}
	if err := d.LogGroupResult(bad, "", "fix rounds exhausted"); err != nil {
		t.Fatalf("log: %v", err)
	}

	rows, err := d.RecentGroupResults(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].GroupID != "g2" || rows[0].Success || rows[0].Attempts != 4 {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].PublishURL != "https://example.com/pr/9" {
		t.Errorf("unexpected publish url: %q", rows[1].PublishURL)
	}
}

func TestLogAndQueryCheckRuns(t *testing.T) {
	d := testDB(t)

	runs := []*checks.Result{
		{Name: "lint", Kind: checks.KindLint, Status: checks.StatusPassed, ExitCode: 0, DurationMs: 900},
		{Name: "test", Kind: checks.KindTest, Status: checks.StatusFailed, ExitCode: 1, DurationMs: 4200, Summary: "2 of 10 failed"},
	}
	for _, r := range runs {
		if err := d.LogCheckRun("g1", 1, r); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	rows, err := d.CheckRunsForGroup("g1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].CheckName != "test" || rows[1].Status != "failed" || rows[1].Summary != "2 of 10 failed" {
		t.Errorf("unexpected row: %+v", rows[1])
	}
	if rows, _ := d.CheckRunsForGroup("other"); len(rows) != 0 {
		t.Errorf("expected no rows for other group, got %d", len(rows))
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	if err := d.LogQueueEvent(queue.Event{Type: queue.EventItemQueued, ItemID: "i", GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rows, err := d.RecentQueueEvents(10)
	if err != nil {
		t.Fatalf("query after reset: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty table after reset, got %d rows", len(rows))
	}
}
