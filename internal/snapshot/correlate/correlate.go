package correlate

import (
	"time"

	"github.com/todo-audit/pipeline/internal/contracts"
)

// Window is the tolerance for matching a log entry to a snapshot. A log
// entry with no snapshot within five minutes gets no restore point.
const Window = 5 * time.Minute

// Nearest finds the single snapshot closest in absolute time to target, or
// nil when the closest one is farther than Window away.
//
// This is a true nearest-neighbor scan, not a first-match search: with
// several snapshots inside the window, first-match is order-dependent and
// picks the wrong one. Ties go to the first candidate encountered, so with
// the catalog's newest-first ordering an exact tie resolves to the newer
// snapshot. The list is small (retained snapshots), an O(n) scan is fine.
func Nearest(target time.Time, snapshots []contracts.SnapshotInfo) *contracts.SnapshotInfo {
	var best *contracts.SnapshotInfo
	bestDiff := time.Duration(0)
	for i := range snapshots {
		diff := target.Sub(snapshots[i].CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff {
			best = &snapshots[i]
			bestDiff = diff
		}
	}
	if best == nil || bestDiff > Window {
		return nil
	}
	return best
}
