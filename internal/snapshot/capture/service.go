package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/sharding"
)

// ErrEmptyDatabase marks a capture skipped because no domain records exist.
// A snapshot of nothing would restore to nothing and clutter the catalog.
var ErrEmptyDatabase = errors.New("database is empty, no snapshot created")

var capturedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "snapshots_captured_total",
	Help: "Snapshot captures by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(capturedTotal)
}

// Collector reads one primary collection in full. Implemented by
// primarydata against MongoDB; tests inject fakes.
type Collector interface {
	Collect(ctx context.Context, collection string) ([]map[string]any, error)
}

type SendFunc func(subject string, payload []byte) error

// Service captures the full current state of every primary collection into
// one immutable artifact and hands it to the snapshot channel. Captures for
// near-simultaneous mutations run unsynchronized; each one reads whatever
// the primary store reflects at that instant. Two captures within the same
// second share an id and the last writer wins under that storage key.
type Service struct {
	Primary Collector
	Send    SendFunc
	// Note appends the SNAPSHOT_CREATED audit row after a successful
	// capture. Nil disables the audit note.
	Note           func(event contracts.DomainEvent)
	Now            func() time.Time
	CaptureTimeout time.Duration
}

func NewService(primary Collector, send SendFunc) *Service {
	return &Service{
		Primary:        primary,
		Send:           send,
		Now:            func() time.Time { return time.Now().UTC() },
		CaptureTimeout: 30 * time.Second,
	}
}

// CaptureAsync runs a capture detached from the caller. It never blocks the
// mutation's response path; failures are logged and swallowed.
func (s *Service) CaptureAsync(triggerReason, user string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.CaptureTimeout)
		defer cancel()
		if _, err := s.CaptureAndPublish(ctx, triggerReason, user); err != nil {
			if errors.Is(err, ErrEmptyDatabase) {
				log.Warnf("skipping snapshot (%s): %v", triggerReason, err)
				return
			}
			log.Errorf("snapshot capture failed (%s): %v", triggerReason, err)
		}
	}()
}

// CaptureAndPublish assembles the snapshot and publishes it, returning the
// snapshot id.
func (s *Service) CaptureAndPublish(ctx context.Context, triggerReason, user string) (string, error) {
	if user == "" {
		user = "system"
	}
	now := s.Now()

	snapshot := contracts.Snapshot{
		SnapshotID: contracts.SnapshotIDAt(now),
		CreatedAt:  now,
		CreatedBy:  user,
		Data:       make(map[string][]map[string]any, len(contracts.SnapshotCollections)),
		Metadata:   contracts.SnapshotMetadata{Counts: make(map[string]int, len(contracts.SnapshotCollections))},
	}

	for _, collection := range contracts.SnapshotCollections {
		docs, err := s.Primary.Collect(ctx, collection)
		if err != nil {
			capturedTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("collect %s: %w", collection, err)
		}
		if docs == nil {
			docs = []map[string]any{}
		}
		snapshot.Data[collection] = docs
		snapshot.Metadata.Counts[collection] = len(docs)
	}

	if snapshot.TotalDomainRecords() == 0 {
		capturedTotal.WithLabelValues("skipped_empty").Inc()
		return "", ErrEmptyDatabase
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		capturedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.Send(sharding.SnapshotSubject(snapshot.SnapshotID), payload); err != nil {
		capturedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("publish snapshot %s: %w", snapshot.SnapshotID, err)
	}
	capturedTotal.WithLabelValues("ok").Inc()

	if s.Note != nil {
		changes := fmt.Sprintf("Snapshot created with %d groups, %d tasks, %d comments, %d users - Reference: %s",
			snapshot.Metadata.Counts["groups"],
			snapshot.Metadata.Counts["tasks"],
			snapshot.Metadata.Counts["comments"],
			snapshot.Metadata.Counts["users"],
			snapshot.SnapshotID)
		s.Note(contracts.SnapshotNote{
			SnapshotID: snapshot.SnapshotID,
			Changes:    changes,
			User:       user,
		}.Event())
	}

	log.Infof("snapshot captured: %s (%d KB, trigger %s)", snapshot.SnapshotID, len(payload)/1024, triggerReason)
	return snapshot.SnapshotID, nil
}
