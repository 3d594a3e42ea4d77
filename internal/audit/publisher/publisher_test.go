package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/sharding"
)

func TestPublish_StampsAndKeysByEntity(t *testing.T) {
	var gotSubject string
	var gotPayload []byte

	p := New(func(subject string, payload []byte) error {
		gotSubject = subject
		gotPayload = payload
		return nil
	})
	p.Now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) }

	p.Publish(contracts.EventTaskCreated, contracts.EventPayload{
		Entity:    contracts.EntityTask,
		EntityID:  "task-1",
		GroupID:   "group-1",
		GroupName: "Chores",
		TaskName:  "Buy Milk",
		Changes:   `Task "Buy Milk" created in group "Chores" with status "New"`,
		User:      "alice",
	})

	wantSubject := sharding.EventSubject(contracts.EntityTask, "task-1")
	if gotSubject != wantSubject {
		t.Fatalf("subject mismatch: got %q want %q", gotSubject, wantSubject)
	}

	var event contracts.DomainEvent
	if err := json.Unmarshal(gotPayload, &event); err != nil {
		t.Fatalf("payload is not valid DomainEvent JSON: %v", err)
	}
	if event.EventType != contracts.EventTaskCreated || event.Payload.EntityID != "task-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Payload.Workspace != contracts.DefaultWorkspace {
		t.Fatalf("expected default workspace, got %q", event.Payload.Workspace)
	}
	if event.Payload.Timestamp != "2026-08-31T10:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", event.Payload.Timestamp)
	}
}

func TestPublish_SwallowsSendFailures(t *testing.T) {
	p := New(func(_ string, _ []byte) error { return errors.New("broker down") })
	// Must not panic or surface the error.
	p.Publish(contracts.EventGroupCreated, contracts.EventPayload{
		Entity:   contracts.EntityGroup,
		EntityID: "group-1",
	})
}

func TestPublish_DisabledIsNoOp(t *testing.T) {
	calls := 0
	p := New(func(_ string, _ []byte) error { calls++; return nil })
	p.Disabled = true
	p.Publish(contracts.EventGroupCreated, contracts.EventPayload{
		Entity:   contracts.EntityGroup,
		EntityID: "group-1",
	})
	if calls != 0 {
		t.Fatalf("expected no sends while disabled, got %d", calls)
	}
}

func TestPublish_SkipsWhenDisconnected(t *testing.T) {
	calls := 0
	p := New(func(_ string, _ []byte) error { calls++; return nil })
	p.Ready = func() bool { return false }
	p.Publish(contracts.EventGroupCreated, contracts.EventPayload{
		Entity:   contracts.EntityGroup,
		EntityID: "group-1",
	})
	if calls != 0 {
		t.Fatalf("expected no sends while disconnected, got %d", calls)
	}
}

func TestPublish_DropsMissingEntityID(t *testing.T) {
	calls := 0
	p := New(func(_ string, _ []byte) error { calls++; return nil })
	p.Publish(contracts.EventTaskUpdated, contracts.EventPayload{Entity: contracts.EntityTask})
	if calls != 0 {
		t.Fatalf("expected event without entityId to be dropped, got %d sends", calls)
	}
}

func TestPublishEvent_TypedCase(t *testing.T) {
	var got contracts.DomainEvent
	p := New(func(_ string, payload []byte) error {
		return json.Unmarshal(payload, &got)
	})

	p.PublishEvent(contracts.CommentAdded{
		CommentID: "comment-1",
		TaskID:    "task-1",
		TaskName:  "Buy Milk",
		GroupID:   "group-1",
		GroupName: "Chores",
		Changes:   `Comment added to task "Buy Milk"`,
		User:      "bob",
	}.Event())

	if got.EventType != contracts.EventCommentAdded {
		t.Fatalf("unexpected event type: %q", got.EventType)
	}
	if got.Payload.Entity != contracts.EntityComment || got.Payload.EntityID != "comment-1" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}
	if got.Payload.TaskID != "task-1" || got.Payload.GroupID != "group-1" {
		t.Fatalf("expected nesting references on comment payload: %+v", got.Payload)
	}
}
