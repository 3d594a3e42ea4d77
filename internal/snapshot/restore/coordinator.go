package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/metrics"
	"github.com/todo-audit/pipeline/internal/platform/s3util"
	"github.com/todo-audit/pipeline/internal/snapshot/uploader"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")
var ErrCorruptSnapshot = errors.New("corrupt snapshot")
var ErrRestoreBusy = errors.New("another restore is in progress")

// ErrPartialRestore marks a restore that replaced some collections but
// failed before finishing. The store is in a mixed state; the caller gets
// the per-collection counts that did succeed.
var ErrPartialRestore = errors.New("restore completed partially")

var restoresTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "restores_total",
	Help: "Restore attempts by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(restoresTotal)
}

// ArtifactFetcher retrieves one stored artifact. Implemented by s3util.
type ArtifactFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// PrimaryStore is the narrow destructive surface the coordinator needs on
// the live store.
type PrimaryStore interface {
	Drop(ctx context.Context, collection string) error
	InsertAll(ctx context.Context, collection string, docs []map[string]any) error
}

// Coordinator performs the point-in-time rollback: fetch, validate, then a
// destructive full replacement of the primary collections. It is the
// highest-risk operation in the system - irreversible except by restoring
// another snapshot. An advisory gate rejects concurrent restores; the
// cooperative assumption that no primary mutation runs during step 3 stays
// with the operator.
type Coordinator struct {
	Artifacts ArtifactFetcher
	Primary   PrimaryStore

	gate sync.Mutex
}

func NewCoordinator(artifacts ArtifactFetcher, primary PrimaryStore) *Coordinator {
	return &Coordinator{Artifacts: artifacts, Primary: primary}
}

// Restore rolls the primary store back to snapshotID. Restoring the same
// snapshot twice with no mutations in between yields identical counts.
//
// Restore deliberately emits no DomainEvent: a restore record would
// contaminate the very history being restored.
func (c *Coordinator) Restore(ctx context.Context, snapshotID, user string) (contracts.RestoreResult, error) {
	result := contracts.RestoreResult{
		SnapshotID:     snapshotID,
		RestoredCounts: map[string]int{},
	}

	body, err := c.Artifacts.Get(ctx, uploader.ObjectKey(snapshotID))
	if err != nil {
		if errors.Is(err, s3util.ErrObjectNotFound) {
			restoresTotal.WithLabelValues("not_found").Inc()
			return result, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
		}
		restoresTotal.WithLabelValues("fetch_error").Inc()
		return result, err
	}

	var snapshot contracts.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		restoresTotal.WithLabelValues("corrupt").Inc()
		return result, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	// Storage key and artifact content must agree; a mismatch means the
	// object under this key is not the snapshot the caller asked for.
	if snapshot.SnapshotID != snapshotID {
		restoresTotal.WithLabelValues("corrupt").Inc()
		return result, fmt.Errorf("%w: requested %s, artifact contains %s",
			ErrCorruptSnapshot, snapshotID, snapshot.SnapshotID)
	}

	if !c.gate.TryLock() {
		restoresTotal.WithLabelValues("busy").Inc()
		return result, ErrRestoreBusy
	}
	defer c.gate.Unlock()

	log.Warnf("restoring primary store to %s (requested by %s)", snapshotID, user)

	// Destructive replace: every collection is dropped, so collections
	// absent from the snapshot end up empty no matter what they held.
	for _, collection := range contracts.SnapshotCollections {
		if err := c.Primary.Drop(ctx, collection); err != nil {
			// Dropping a collection that does not exist is not a failure.
			log.Warnf("drop %s: %v", collection, err)
		}
	}

	for _, collection := range contracts.SnapshotCollections {
		docs := snapshot.Data[collection]
		if len(docs) == 0 {
			result.RestoredCounts[collection] = 0
			continue
		}
		if err := c.Primary.InsertAll(ctx, collection, docs); err != nil {
			restoresTotal.WithLabelValues("partial").Inc()
			return result, fmt.Errorf("%w: insert %s: %v", ErrPartialRestore, collection, err)
		}
		result.RestoredCounts[collection] = len(docs)
	}

	restoresTotal.WithLabelValues("ok").Inc()
	log.Infof("primary store restored to %s: %v", snapshotID, result.RestoredCounts)
	return result, nil
}
