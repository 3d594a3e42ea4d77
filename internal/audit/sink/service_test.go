package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/todo-audit/pipeline/internal/audit/logstore"
	"github.com/todo-audit/pipeline/internal/contracts"
)

type fakeAppender struct {
	records []logstore.Record
	raws    [][]byte
	err     error
}

func (f *fakeAppender) InsertEvent(_ context.Context, rec logstore.Record, raw []byte) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	f.raws = append(f.raws, raw)
	return nil
}

func encode(t *testing.T, event contracts.DomainEvent) []byte {
	t.Helper()
	data, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestHandle_TaskEvent(t *testing.T) {
	appender := &fakeAppender{}
	svc := NewService(appender)

	ts := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	payload := encode(t, contracts.DomainEvent{
		EventType: contracts.EventTaskUpdated,
		Payload: contracts.EventPayload{
			Entity:    contracts.EntityTask,
			EntityID:  "task-7",
			GroupID:   "group-2",
			GroupName: "Chores",
			TaskName:  "Buy Milk",
			Changes:   `Task name changed from "Milk" to "Buy Milk"`,
			User:      "alice",
			Workspace: "default",
			Timestamp: ts.Format(time.RFC3339Nano),
		},
	})

	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(appender.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(appender.records))
	}
	rec := appender.records[0]
	if rec.TaskID != "task-7" {
		t.Fatalf("task events must reference themselves as task_id, got %q", rec.TaskID)
	}
	if rec.GroupID != "group-2" || !rec.Timestamp.Equal(ts) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if string(appender.raws[0]) != string(payload) {
		t.Fatal("raw envelope must be persisted verbatim")
	}
}

func TestHandle_GroupEventDerivesGroupID(t *testing.T) {
	appender := &fakeAppender{}
	svc := NewService(appender)

	payload := encode(t, contracts.GroupChange{
		EventType: contracts.EventGroupCreated,
		GroupID:   "group-9",
		GroupName: "Errands",
		Changes:   `Group "Errands" created`,
		User:      "bob",
	}.Event())

	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if appender.records[0].GroupID != "group-9" {
		t.Fatalf("group events must reference themselves as group_id, got %q", appender.records[0].GroupID)
	}
}

func TestHandle_RedeliveryAppendsAgain(t *testing.T) {
	appender := &fakeAppender{}
	svc := NewService(appender)

	payload := encode(t, contracts.DomainEvent{
		EventType: contracts.EventCommentAdded,
		Payload: contracts.EventPayload{
			Entity:    contracts.EntityComment,
			EntityID:  "comment-1",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})

	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(appender.records) != 2 {
		t.Fatalf("redelivery must append a second row, got %d", len(appender.records))
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	svc := NewService(&fakeAppender{})
	if err := svc.Handle(context.Background(), []byte("{invalid")); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_MissingEntityID(t *testing.T) {
	svc := NewService(&fakeAppender{})
	payload := []byte(`{"eventType":"TASK_CREATED","payload":{"entity":"Task"}}`)
	if err := svc.Handle(context.Background(), payload); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_UnsupportedEventType(t *testing.T) {
	svc := NewService(&fakeAppender{})
	payload := []byte(`{"eventType":"TASK_ARCHIVED","payload":{"entity":"Task","entityId":"t1"}}`)
	if err := svc.Handle(context.Background(), payload); !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
}

func TestHandle_SnapshotTriggerRoutesToCapture(t *testing.T) {
	appender := &fakeAppender{}
	svc := NewService(appender)
	var gotReason, gotUser string
	svc.TriggerSnapshot = func(reason, user string) {
		gotReason = reason
		gotUser = user
	}

	payload := encode(t, contracts.DomainEvent{
		EventType: contracts.EventSnapshotTrigger,
		Payload: contracts.EventPayload{
			Entity:   contracts.EntitySystem,
			EntityID: "trigger",
			Changes:  "TASK_CREATED",
			User:     "alice",
		},
	})

	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if gotReason != "TASK_CREATED" || gotUser != "alice" {
		t.Fatalf("trigger not routed: reason=%q user=%q", gotReason, gotUser)
	}
	if len(appender.records) != 0 {
		t.Fatalf("trigger events must not be logged, got %d rows", len(appender.records))
	}
}

func TestHandle_InsertFailurePropagates(t *testing.T) {
	dbErr := errors.New("connection reset")
	svc := NewService(&fakeAppender{err: dbErr})
	payload := encode(t, contracts.DomainEvent{
		EventType: contracts.EventTaskDeleted,
		Payload:   contracts.EventPayload{Entity: contracts.EntityTask, EntityID: "task-1"},
	})
	if err := svc.Handle(context.Background(), payload); !errors.Is(err, dbErr) {
		t.Fatalf("expected insert error to propagate for redelivery, got %v", err)
	}
}
