package logstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

const createEventLogTableSQL = `
CREATE TABLE IF NOT EXISTS todo_event_logs (
  id SERIAL,
  timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  event_type VARCHAR(50) NOT NULL,
  entity VARCHAR(50) NOT NULL,
  entity_id VARCHAR(100) NOT NULL,
  group_id VARCHAR(100),
  group_name VARCHAR(255),
  task_id VARCHAR(100),
  task_name VARCHAR(255),
  changes TEXT,
  user_name VARCHAR(100),
  workspace VARCHAR(100),
  event_data JSONB,
  PRIMARY KEY (timestamp, id)
)`

// Chunking by calendar day keeps range scans on recent activity cheap.
// On a plain Postgres without the timescaledb extension this statement
// fails and the table stays a regular one, which is fine for dev.
const createHypertableSQL = `
SELECT create_hypertable('todo_event_logs', 'timestamp',
  if_not_exists => TRUE,
  chunk_time_interval => INTERVAL '1 day'
)`

var createIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_event_type ON todo_event_logs (event_type, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_group_id ON todo_event_logs (group_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_task_id ON todo_event_logs (task_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_entity ON todo_event_logs (entity, entity_id, timestamp DESC)`,
}

const insertLogSQL = `
INSERT INTO todo_event_logs (
  event_type, entity, entity_id,
  group_id, group_name, task_id, task_name,
  changes, user_name, workspace, event_data, timestamp
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// Record is the persisted form of a DomainEvent. The (timestamp, id)
// composite key lets two events with identical timestamps coexist. Rows are
// append-only: nothing in this package updates or deletes them, and
// redelivered events simply append again.
type Record struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entityId"`
	GroupID   string    `json:"groupId,omitempty"`
	GroupName string    `json:"groupName,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	TaskName  string    `json:"taskName,omitempty"`
	Changes   string    `json:"changes"`
	User      string    `json:"user"`
	Workspace string    `json:"workspace"`
}

// Querier is the slice of the pool the repository uses. pgxpool.Pool
// satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repository struct {
	DB Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.Exec(ctx, createEventLogTableSQL); err != nil {
		return err
	}
	if _, err := r.DB.Exec(ctx, createHypertableSQL); err != nil {
		log.Warnf("hypertable unavailable, keeping plain table: %v", err)
	}
	for _, stmt := range createIndexSQL {
		if _, err := r.DB.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent appends one row. rawEvent is the full wire envelope, kept as
// JSONB for forward-compatible querying.
func (r *Repository) InsertEvent(ctx context.Context, rec Record, rawEvent []byte) error {
	_, err := r.DB.Exec(ctx, insertLogSQL,
		rec.EventType,
		rec.Entity,
		rec.EntityID,
		nilIfEmpty(rec.GroupID),
		nilIfEmpty(rec.GroupName),
		nilIfEmpty(rec.TaskID),
		nilIfEmpty(rec.TaskName),
		rec.Changes,
		rec.User,
		rec.Workspace,
		rawEvent,
		rec.Timestamp.UTC(),
	)
	return err
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
