package publisher

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/sharding"
)

var publishedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "audit_events_published_total",
	Help: "Domain events handed to the channel, by event type.",
}, []string{"event_type"})

var droppedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "audit_events_dropped_total",
	Help: "Domain events dropped before reaching the channel.",
}, []string{"reason"})

func init() {
	metrics.Default.MustRegister(publishedTotal, droppedTotal)
}

type PublishFunc func(subject string, payload []byte) error

// Publisher hands completed mutations to the durable channel. Every path is
// fire-and-forget: failures are logged and swallowed, never surfaced to the
// caller's response path. Delivery is at-least-once while the channel is
// reachable and zero while it is not; nothing is buffered locally across an
// outage.
type Publisher struct {
	Send PublishFunc
	// Ready reports channel availability. Nil means always ready.
	Ready func() bool
	// Disabled turns every publish into a silent no-op.
	Disabled bool
	Now      func() time.Time
}

func New(send PublishFunc) *Publisher {
	return &Publisher{
		Send: send,
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

// Publish stamps the payload and appends it to the channel, keyed by entity
// id so all events for one entity stay on one ordered partition.
func (p *Publisher) Publish(eventType string, payload contracts.EventPayload) {
	p.PublishEvent(contracts.DomainEvent{EventType: eventType, Payload: payload})
}

// PublishEvent is the typed-case entry point; constructors in contracts
// lower into the envelope it accepts.
func (p *Publisher) PublishEvent(event contracts.DomainEvent) {
	if p.Disabled {
		return
	}
	if p.Ready != nil && !p.Ready() {
		log.Warnf("channel not connected, skipping event: %s", event.EventType)
		droppedTotal.WithLabelValues("disconnected").Inc()
		return
	}

	if event.Payload.User == "" {
		event.Payload.User = "system"
	}
	if event.Payload.Workspace == "" {
		event.Payload.Workspace = contracts.DefaultWorkspace
	}
	event.Payload.Timestamp = p.Now().Format(time.RFC3339Nano)

	if err := event.Validate(); err != nil {
		log.Errorf("refusing to publish malformed event %s: %v", event.EventType, err)
		droppedTotal.WithLabelValues("invalid").Inc()
		return
	}

	data, err := event.Encode()
	if err != nil {
		log.Errorf("encode event %s: %v", event.EventType, err)
		droppedTotal.WithLabelValues("encode").Inc()
		return
	}

	subject := sharding.EventSubject(event.Payload.Entity, event.Payload.EntityID)
	if err := p.Send(subject, data); err != nil {
		log.Errorf("failed to publish event %s: %v", event.EventType, err)
		droppedTotal.WithLabelValues("publish").Inc()
		return
	}
	publishedTotal.WithLabelValues(event.EventType).Inc()
}
