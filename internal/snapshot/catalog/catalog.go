package catalog

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/s3util"
)

const snapshotPrefix = "snapshots/"

// ObjectLister lists stored artifacts under a prefix. Implemented by s3util.
type ObjectLister interface {
	List(ctx context.Context, prefix string) ([]s3util.ObjectInfo, error)
}

// Catalog derives the snapshot listing straight from the storage backend's
// object listing rather than a separate index. Slower per call, but it can
// never disagree with the artifacts actually present.
type Catalog struct {
	Store ObjectLister
}

func New(store ObjectLister) *Catalog {
	return &Catalog{Store: store}
}

// List returns every stored snapshot, newest first. Correlation depends on
// this ordering for its tie-break, so it is part of the contract.
func (c *Catalog) List(ctx context.Context) ([]contracts.SnapshotInfo, error) {
	objects, err := c.Store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}

	snapshots := []contracts.SnapshotInfo{}
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, snapshotPrefix), ".json")
		snapshots = append(snapshots, contracts.SnapshotInfo{
			SnapshotID: id,
			CreatedAt:  obj.LastModified,
			FileSizeKB: int(math.Round(float64(obj.SizeBytes) / 1024)),
			S3Key:      obj.Key,
		})
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}
