package contracts

import (
	"encoding/json"
	"errors"
	"time"
)

// Entity kinds carried in event payloads.
const (
	EntityGroup   = "Group"
	EntityTask    = "Task"
	EntityComment = "Comment"
	EntitySystem  = "SYSTEM"
)

// Closed set of event types the pipeline accepts. Anything else is
// discarded at the sink.
const (
	EventGroupCreated    = "GROUP_CREATED"
	EventGroupUpdated    = "GROUP_UPDATED"
	EventGroupDeleted    = "GROUP_DELETED"
	EventTaskCreated     = "TASK_CREATED"
	EventTaskUpdated     = "TASK_UPDATED"
	EventTaskDeleted     = "TASK_DELETED"
	EventStatusChanged   = "STATUS_CHANGED"
	EventProgressUpdated = "PROGRESS_UPDATED"
	EventCommentAdded    = "COMMENT_ADDED"
	EventSnapshotCreated = "SNAPSHOT_CREATED"
	EventSnapshotTrigger = "SNAPSHOT_TRIGGER"
)

const DefaultWorkspace = "default"

var ErrMissingEntityID = errors.New("event payload requires a non-empty entityId")
var ErrUnknownEventType = errors.New("unknown event type")

var knownEventTypes = map[string]struct{}{
	EventGroupCreated:    {},
	EventGroupUpdated:    {},
	EventGroupDeleted:    {},
	EventTaskCreated:     {},
	EventTaskUpdated:     {},
	EventTaskDeleted:     {},
	EventStatusChanged:   {},
	EventProgressUpdated: {},
	EventCommentAdded:    {},
	EventSnapshotCreated: {},
	EventSnapshotTrigger: {},
}

// KnownEventType reports whether eventType belongs to the closed set.
func KnownEventType(eventType string) bool {
	_, ok := knownEventTypes[eventType]
	return ok
}

// EventPayload is the shared envelope body. Group/task reference fields are
// optional and only present when the entity nests under them.
type EventPayload struct {
	Entity    string `json:"entity"`
	EntityID  string `json:"entityId"`
	GroupID   string `json:"groupId,omitempty"`
	GroupName string `json:"groupName,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	TaskName  string `json:"taskName,omitempty"`
	Changes   string `json:"changes"`
	User      string `json:"user"`
	Workspace string `json:"workspace"`
	Timestamp string `json:"timestamp"`
}

// DomainEvent is an immutable fact about one state change. Timestamp is
// stamped at publish time; no monotonic ordering across producers is implied.
type DomainEvent struct {
	EventType string       `json:"eventType"`
	Payload   EventPayload `json:"payload"`
}

// OccurredAt parses the payload timestamp, falling back to now for messages
// from older writers that did not stamp one.
func (e DomainEvent) OccurredAt() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, e.Payload.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, e.Payload.Timestamp)
	}
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// Validate enforces the envelope invariants shared by every event type.
func (e DomainEvent) Validate() error {
	if !KnownEventType(e.EventType) {
		return ErrUnknownEventType
	}
	if e.Payload.EntityID == "" {
		return ErrMissingEntityID
	}
	return nil
}

// Encode renders the wire form of the event.
func (e DomainEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses and validates a wire message.
func DecodeEvent(data []byte) (DomainEvent, error) {
	var event DomainEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return DomainEvent{}, err
	}
	if err := event.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return event, nil
}
