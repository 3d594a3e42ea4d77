package logstore

import (
	"context"
	"time"
)

const defaultHistoryLimit = 100
const maxHistoryLimit = 1000

const groupLogsSQL = `
SELECT id, timestamp, event_type, entity, entity_id,
       group_id, group_name, task_id, task_name,
       changes, user_name, workspace
FROM todo_event_logs
WHERE group_id = $1
ORDER BY timestamp DESC, id DESC
LIMIT $2
`

const taskLogsSQL = `
SELECT id, timestamp, event_type, entity, entity_id,
       group_id, group_name, task_id, task_name,
       changes, user_name, workspace
FROM todo_event_logs
WHERE task_id = $1
ORDER BY timestamp DESC, id DESC
LIMIT $2
`

const groupsSummarySQL = `
SELECT group_id, group_name, COUNT(*) AS log_count, MAX(timestamp) AS last_activity
FROM todo_event_logs
WHERE group_id IS NOT NULL
GROUP BY group_id, group_name
ORDER BY last_activity DESC
`

const groupTasksSummarySQL = `
SELECT task_id, task_name, COUNT(*) AS log_count, MAX(timestamp) AS last_activity
FROM todo_event_logs
WHERE group_id = $1 AND task_id IS NOT NULL
GROUP BY task_id, task_name
ORDER BY last_activity DESC
`

// GroupSummary is one row of the aggregate activity view: event count and
// most recent activity per group that has ever logged an event. GroupName
// is best-effort, taken from event payloads, and may lag the live store.
type GroupSummary struct {
	GroupID      string    `json:"groupId"`
	GroupName    string    `json:"groupName"`
	LogCount     int       `json:"logCount"`
	LastActivity time.Time `json:"lastActivity"`
}

type TaskSummary struct {
	TaskID       string    `json:"taskId"`
	TaskName     string    `json:"taskName"`
	LogCount     int       `json:"logCount"`
	LastActivity time.Time `json:"lastActivity"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// GroupLogs returns the most recent events for a group, newest first. An
// unknown group yields an empty slice, not an error.
func (r *Repository) GroupLogs(ctx context.Context, groupID string, limit int) ([]Record, error) {
	return r.queryRecords(ctx, groupLogsSQL, groupID, clampLimit(limit))
}

// TaskLogs returns the most recent events for a task, newest first.
func (r *Repository) TaskLogs(ctx context.Context, taskID string, limit int) ([]Record, error) {
	return r.queryRecords(ctx, taskLogsSQL, taskID, clampLimit(limit))
}

func (r *Repository) queryRecords(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var groupID, groupName, taskID, taskName, changes, user, workspace *string
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.EventType, &rec.Entity, &rec.EntityID,
			&groupID, &groupName, &taskID, &taskName,
			&changes, &user, &workspace,
		); err != nil {
			return nil, err
		}
		rec.GroupID = deref(groupID)
		rec.GroupName = deref(groupName)
		rec.TaskID = deref(taskID)
		rec.TaskName = deref(taskName)
		rec.Changes = deref(changes)
		rec.User = deref(user)
		rec.Workspace = deref(workspace)
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GroupsSummary lists every group with logged activity, most recent first.
func (r *Repository) GroupsSummary(ctx context.Context) ([]GroupSummary, error) {
	rows, err := r.DB.Query(ctx, groupsSummarySQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []GroupSummary{}
	for rows.Next() {
		var s GroupSummary
		var name *string
		if err := rows.Scan(&s.GroupID, &name, &s.LogCount, &s.LastActivity); err != nil {
			return nil, err
		}
		s.GroupName = deref(name)
		s.LastActivity = s.LastActivity.UTC()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GroupTasksSummary lists the tasks under one group with logged activity.
func (r *Repository) GroupTasksSummary(ctx context.Context, groupID string) ([]TaskSummary, error) {
	rows, err := r.DB.Query(ctx, groupTasksSummarySQL, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []TaskSummary{}
	for rows.Next() {
		var s TaskSummary
		var name *string
		if err := rows.Scan(&s.TaskID, &name, &s.LogCount, &s.LastActivity); err != nil {
			return nil, err
		}
		s.TaskName = deref(name)
		s.LastActivity = s.LastActivity.UTC()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
