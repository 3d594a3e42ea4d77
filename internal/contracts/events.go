package contracts

// Typed event cases. Each case carries only the fields relevant to its
// event type and lowers into the shared wire envelope via Event().

// GroupChange describes a create/update/delete of a group.
type GroupChange struct {
	EventType string // GROUP_CREATED | GROUP_UPDATED | GROUP_DELETED
	GroupID   string
	GroupName string
	Changes   string
	User      string
	Workspace string
}

func (c GroupChange) Event() DomainEvent {
	return DomainEvent{
		EventType: c.EventType,
		Payload: EventPayload{
			Entity:    EntityGroup,
			EntityID:  c.GroupID,
			GroupID:   c.GroupID,
			GroupName: c.GroupName,
			Changes:   c.Changes,
			User:      orSystem(c.User),
			Workspace: orDefault(c.Workspace),
		},
	}
}

// TaskChange describes a create/update/delete of a task, including the
// status and progress transitions that get their own event types.
type TaskChange struct {
	EventType string // TASK_* | STATUS_CHANGED | PROGRESS_UPDATED
	TaskID    string
	TaskName  string
	GroupID   string
	GroupName string
	Changes   string
	User      string
	Workspace string
}

func (c TaskChange) Event() DomainEvent {
	return DomainEvent{
		EventType: c.EventType,
		Payload: EventPayload{
			Entity:    EntityTask,
			EntityID:  c.TaskID,
			GroupID:   c.GroupID,
			GroupName: c.GroupName,
			TaskID:    c.TaskID,
			TaskName:  c.TaskName,
			Changes:   c.Changes,
			User:      orSystem(c.User),
			Workspace: orDefault(c.Workspace),
		},
	}
}

// CommentAdded describes a comment appended to a task.
type CommentAdded struct {
	CommentID string
	TaskID    string
	TaskName  string
	GroupID   string
	GroupName string
	Changes   string
	User      string
	Workspace string
}

func (c CommentAdded) Event() DomainEvent {
	return DomainEvent{
		EventType: EventCommentAdded,
		Payload: EventPayload{
			Entity:    EntityComment,
			EntityID:  c.CommentID,
			GroupID:   c.GroupID,
			GroupName: c.GroupName,
			TaskID:    c.TaskID,
			TaskName:  c.TaskName,
			Changes:   c.Changes,
			User:      orSystem(c.User),
			Workspace: orDefault(c.Workspace),
		},
	}
}

// SnapshotNote is the system-entity audit row written after a capture. The
// entity id is the snapshot id itself.
type SnapshotNote struct {
	SnapshotID string
	Changes    string
	User       string
}

func (c SnapshotNote) Event() DomainEvent {
	return DomainEvent{
		EventType: EventSnapshotCreated,
		Payload: EventPayload{
			Entity:    EntitySystem,
			EntityID:  c.SnapshotID,
			Changes:   c.Changes,
			User:      orSystem(c.User),
			Workspace: "system",
		},
	}
}

func orSystem(user string) string {
	if user == "" {
		return "system"
	}
	return user
}

func orDefault(workspace string) string {
	if workspace == "" {
		return DefaultWorkspace
	}
	return workspace
}
