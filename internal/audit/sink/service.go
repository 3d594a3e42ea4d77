package sink

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/todo-audit/pipeline/internal/audit/logstore"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnsupportedEventType = errors.New("unsupported event type")

var persistedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "audit_events_persisted_total",
	Help: "Domain events appended to the event log, by event type.",
}, []string{"event_type"})

func init() {
	metrics.Default.MustRegister(persistedTotal)
}

type Appender interface {
	InsertEvent(ctx context.Context, rec logstore.Record, rawEvent []byte) error
}

// Service drains the event channel into the log store. Duplicate deliveries
// append duplicate rows on purpose: the log is advisory audit data, not
// authoritative state, and deduplication would cost more than it buys.
type Service struct {
	Events Appender
	// TriggerSnapshot handles SNAPSHOT_TRIGGER control events. Nil when the
	// sink runs without a co-located capture service.
	TriggerSnapshot func(reason, user string)
}

func NewService(events Appender) *Service {
	return &Service{Events: events}
}

func (s *Service) Handle(ctx context.Context, payload []byte) error {
	event, err := contracts.DecodeEvent(payload)
	if err != nil {
		if errors.Is(err, contracts.ErrUnknownEventType) {
			return ErrUnsupportedEventType
		}
		return ErrInvalidEventPayload
	}

	if event.EventType == contracts.EventSnapshotTrigger {
		if s.TriggerSnapshot != nil {
			s.TriggerSnapshot(event.Payload.Changes, event.Payload.User)
		} else {
			log.Warn("snapshot trigger received but no capture service is wired")
		}
		return nil
	}

	if err := s.Events.InsertEvent(ctx, toRecord(event), payload); err != nil {
		return err
	}
	persistedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

// toRecord derives the denormalized group/task references: a Group event is
// its own group, a Task event is its own task.
func toRecord(event contracts.DomainEvent) logstore.Record {
	rec := logstore.Record{
		Timestamp: event.OccurredAt(),
		EventType: event.EventType,
		Entity:    event.Payload.Entity,
		EntityID:  event.Payload.EntityID,
		GroupID:   event.Payload.GroupID,
		GroupName: event.Payload.GroupName,
		TaskID:    event.Payload.TaskID,
		TaskName:  event.Payload.TaskName,
		Changes:   event.Payload.Changes,
		User:      event.Payload.User,
		Workspace: event.Payload.Workspace,
	}
	if event.Payload.Entity == contracts.EntityGroup {
		rec.GroupID = event.Payload.EntityID
	}
	if event.Payload.Entity == contracts.EntityTask {
		rec.TaskID = event.Payload.EntityID
	}
	return rec
}
