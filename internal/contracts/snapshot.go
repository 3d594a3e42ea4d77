package contracts

import (
	"fmt"
	"time"
)

// Collection names captured by every snapshot, in restore order.
var SnapshotCollections = []string{"groups", "tasks", "comments", "users"}

// Snapshot is a total, self-contained copy of the primary collections.
// Documents are kept verbatim as raw maps so the capture never depends on
// the primary store's schema.
type Snapshot struct {
	SnapshotID string                      `json:"snapshotId"`
	CreatedAt  time.Time                   `json:"createdAt"`
	CreatedBy  string                      `json:"createdBy"`
	Data       map[string][]map[string]any `json:"data"`
	Metadata   SnapshotMetadata            `json:"metadata"`
}

type SnapshotMetadata struct {
	Counts map[string]int `json:"counts"`
}

// TotalDomainRecords counts the domain rows (users excluded) so an empty
// database can be recognized and skipped.
func (s Snapshot) TotalDomainRecords() int {
	return len(s.Data["groups"]) + len(s.Data["tasks"]) + len(s.Data["comments"])
}

// SnapshotIDAt encodes the capture instant at second resolution. Two
// captures within the same second collide on the same id; the last writer
// wins under that storage key.
func SnapshotIDAt(ts time.Time) string {
	return fmt.Sprintf("snapshot_%d_%02d_%02d_%02d_%02d_%02d",
		ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
}

// SnapshotInfo is one catalog row, derived purely from the object listing.
type SnapshotInfo struct {
	SnapshotID string    `json:"snapshotId"`
	CreatedAt  time.Time `json:"createdAt"`
	FileSizeKB int       `json:"fileSizeKB"`
	S3Key      string    `json:"s3Key"`
}

// RestoreResult reports what a restore replaced, per collection.
type RestoreResult struct {
	SnapshotID     string         `json:"snapshotId"`
	RestoredCounts map[string]int `json:"restoredCounts"`
}
