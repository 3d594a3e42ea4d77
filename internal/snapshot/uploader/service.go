package uploader

import (
	"context"
	"errors"
	"fmt"

	"github.com/todo-audit/pipeline/internal/platform/metrics"
)

var ErrMissingSnapshotID = errors.New("snapshot message has no id")

var uploadedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "snapshots_uploaded_total",
	Help: "Snapshot artifacts shipped to object storage, by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(uploadedTotal)
}

// ObjectWriter stores one artifact under a key. Implemented by s3util.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Service drains the snapshot channel into durable object storage. The
// artifact body is stored verbatim; the id travels as the message subject's
// last token so the uploader never has to parse the snapshot itself.
type Service struct {
	Store ObjectWriter
}

func NewService(store ObjectWriter) *Service {
	return &Service{Store: store}
}

// ObjectKey maps a snapshot id to its storage key.
func ObjectKey(snapshotID string) string {
	return fmt.Sprintf("snapshots/%s.json", snapshotID)
}

func (s *Service) Handle(ctx context.Context, snapshotID string, body []byte) error {
	if snapshotID == "" {
		return ErrMissingSnapshotID
	}
	if err := s.Store.Put(ctx, ObjectKey(snapshotID), body, "application/json"); err != nil {
		uploadedTotal.WithLabelValues("error").Inc()
		return err
	}
	uploadedTotal.WithLabelValues("ok").Inc()
	return nil
}
