package logstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB satisfies Querier and records the statement and args it was
// handed, returning canned rows.
type fakeDB struct {
	rows    [][]any
	err     error
	gotSQL  string
	gotArgs []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.gotSQL = sql
	f.gotArgs = args
	return pgconn.CommandTag{}, f.err
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.gotSQL = sql
	f.gotArgs = args
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{rows: f.rows}, nil
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return nil }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	if f.idx < len(f.rows) {
		f.idx++
		return true
	}
	return false
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d dests for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, val any) error {
	switch d := dest.(type) {
	case *int:
		d2, ok := val.(int)
		if !ok {
			return fmt.Errorf("want int, got %T", val)
		}
		*d = d2
	case *string:
		d2, ok := val.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", val)
		}
		*d = d2
	case **string:
		if val == nil {
			*d = nil
			return nil
		}
		d2, ok := val.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", val)
		}
		*d = &d2
	case *time.Time:
		d2, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", val)
		}
		*d = d2
	default:
		return fmt.Errorf("unsupported dest %T", dest)
	}
	return nil
}

func logRow(id int, ts time.Time, eventType, entity, entityID string, groupID, taskID any, changes string) []any {
	return []any{id, ts, eventType, entity, entityID, groupID, nil, taskID, nil, changes, "alice", "default"}
}

func TestGroupLogs_EmptyIsNotError(t *testing.T) {
	db := &fakeDB{}
	records, err := NewRepository(db).GroupLogs(context.Background(), "group-unknown", 0)
	if err != nil {
		t.Fatalf("unknown group must not error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", records)
	}
	if len(db.gotArgs) != 2 || db.gotArgs[1] != 100 {
		t.Fatalf("zero limit should clamp to the default, got args %v", db.gotArgs)
	}
}

func TestTaskLogs_LimitClampedToMax(t *testing.T) {
	db := &fakeDB{}
	if _, err := NewRepository(db).TaskLogs(context.Background(), "task-1", 5000); err != nil {
		t.Fatalf("TaskLogs: %v", err)
	}
	if db.gotArgs[1] != maxHistoryLimit {
		t.Fatalf("oversized limit should clamp to %d, got %v", maxHistoryLimit, db.gotArgs[1])
	}
}

func TestGroupLogs_ScansRowsInStoreOrder(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: [][]any{
		logRow(2, t0.Add(time.Minute), "TASK_UPDATED", "Task", "task-1", "group-1", "task-1", "Renamed task"),
		logRow(1, t0, "GROUP_CREATED", "Group", "group-1", "group-1", nil, "Created group"),
	}}

	records, err := NewRepository(db).GroupLogs(context.Background(), "group-1", 10)
	if err != nil {
		t.Fatalf("GroupLogs: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != 2 || records[1].ID != 1 {
		t.Fatalf("store order must be preserved, got %+v", records)
	}
	if records[1].TaskID != "" || records[1].GroupName != "" {
		t.Fatalf("null columns must map to empty strings, got %+v", records[1])
	}
	if records[0].User != "alice" || records[0].Workspace != "default" {
		t.Fatalf("actor columns not scanned: %+v", records[0])
	}
}

func TestGroupsSummary_Empty(t *testing.T) {
	summaries, err := NewRepository(&fakeDB{}).GroupsSummary(context.Background())
	if err != nil {
		t.Fatalf("GroupsSummary: %v", err)
	}
	if summaries == nil || len(summaries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", summaries)
	}
}

func TestGroupsSummary_ScansRows(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: [][]any{
		{"group-1", "Chores", 7, t0},
		{"group-2", nil, 2, t0.Add(-time.Hour)},
	}}

	summaries, err := NewRepository(db).GroupsSummary(context.Background())
	if err != nil {
		t.Fatalf("GroupsSummary: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].GroupID != "group-1" || summaries[0].GroupName != "Chores" || summaries[0].LogCount != 7 {
		t.Fatalf("unexpected first summary: %+v", summaries[0])
	}
	if summaries[1].GroupName != "" {
		t.Fatalf("null group name must map to empty string, got %+v", summaries[1])
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, defaultHistoryLimit},
		{-5, defaultHistoryLimit},
		{1, 1},
		{250, 250},
		{maxHistoryLimit, maxHistoryLimit},
		{maxHistoryLimit + 1, maxHistoryLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNilIfEmpty(t *testing.T) {
	if v := nilIfEmpty(""); v != nil {
		t.Errorf("empty string should map to nil, got %v", v)
	}
	if v := nilIfEmpty("group-1"); v != "group-1" {
		t.Errorf("non-empty string should pass through, got %v", v)
	}
}
