package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const (
	eventsStream    = "AUDIT_EVENTS"
	snapshotsStream = "AUDIT_SNAPSHOTS"
)

// Subject namespaces for the two streams.
const (
	EventSubjects    = "audit.event.>"
	SnapshotSubjects = "audit.snapshot.>"
)

// EnsureStreams creates (or validates) the two streams the pipeline needs:
// - audit.event.>    sharded domain events, drained by the event sink
// - audit.snapshot.> whole snapshot artifacts, drained by the uploader
// Retention is the channel's own policy; producers never buffer locally.
func EnsureStreams(js nats.JetStreamContext) error {
	if err := ensureStream(js, eventsStream, EventSubjects); err != nil {
		return err
	}
	return ensureStream(js, snapshotsStream, SnapshotSubjects)
}

func ensureStream(js nats.JetStreamContext, name, subjects string) error {
	if _, err := js.StreamInfo(name); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      name,
				Subjects:  []string{subjects},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
			return nil
		}
		return err
	}
	return nil
}
