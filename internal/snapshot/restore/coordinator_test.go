package restore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/todo-audit/pipeline/internal/contracts"
	"github.com/todo-audit/pipeline/internal/platform/s3util"
)

type fakeArtifacts struct {
	objects map[string][]byte
}

func (f *fakeArtifacts) Get(_ context.Context, key string) ([]byte, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, s3util.ErrObjectNotFound
	}
	return body, nil
}

type fakeStore struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	dropped     []string
	insertErrOn string
	block       chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string][]map[string]any{}}
}

func (f *fakeStore) Drop(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, collection)
	f.dropped = append(f.dropped, collection)
	return nil
}

func (f *fakeStore) InsertAll(_ context.Context, collection string, docs []map[string]any) error {
	if f.block != nil {
		<-f.block
	}
	if collection == f.insertErrOn {
		return errors.New("write concern failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = docs
	return nil
}

func artifactFor(t *testing.T, snapshot contracts.Snapshot) []byte {
	t.Helper()
	body, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return body
}

func testSnapshot(id string) contracts.Snapshot {
	return contracts.Snapshot{
		SnapshotID: id,
		CreatedAt:  time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		CreatedBy:  "alice",
		Data: map[string][]map[string]any{
			"groups": {{"_id": "g1", "name": "Chores"}},
			"tasks":  {{"_id": "t1"}, {"_id": "t2"}},
			"users":  {{"_id": "u1"}},
		},
	}
}

func TestRestore_ReplacesCollections(t *testing.T) {
	id := "snapshot_2026_08_31_10_00_00"
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + id + ".json": artifactFor(t, testSnapshot(id)),
	}}
	store := newFakeStore()
	// Pre-restore state that must be wiped out.
	store.collections["comments"] = []map[string]any{{"_id": "stale"}}
	store.collections["tasks"] = []map[string]any{{"_id": "stale-task"}}

	result, err := NewCoordinator(artifacts, store).Restore(context.Background(), id, "admin")
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}

	want := map[string]int{"groups": 1, "tasks": 2, "comments": 0, "users": 1}
	if !reflect.DeepEqual(result.RestoredCounts, want) {
		t.Fatalf("unexpected counts: got %v want %v", result.RestoredCounts, want)
	}
	// Collections absent from the snapshot stay empty after the drop.
	if _, exists := store.collections["comments"]; exists {
		t.Fatal("comments must be empty after restoring a snapshot without them")
	}
	if len(store.collections["tasks"]) != 2 {
		t.Fatalf("tasks not replaced: %+v", store.collections["tasks"])
	}
}

func TestRestore_Deterministic(t *testing.T) {
	id := "snapshot_2026_08_31_10_00_00"
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + id + ".json": artifactFor(t, testSnapshot(id)),
	}}
	store := newFakeStore()
	coord := NewCoordinator(artifacts, store)

	first, err := coord.Restore(context.Background(), id, "admin")
	if err != nil {
		t.Fatalf("first restore: %v", err)
	}
	second, err := coord.Restore(context.Background(), id, "admin")
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if !reflect.DeepEqual(first.RestoredCounts, second.RestoredCounts) {
		t.Fatalf("restore is not deterministic: %v vs %v", first.RestoredCounts, second.RestoredCounts)
	}
}

func TestRestore_NotFound(t *testing.T) {
	store := newFakeStore()
	coord := NewCoordinator(&fakeArtifacts{objects: map[string][]byte{}}, store)
	_, err := coord.Restore(context.Background(), "snapshot_missing", "admin")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
	if len(store.dropped) != 0 {
		t.Fatal("nothing may be dropped when the artifact is missing")
	}
}

func TestRestore_IDMismatchIsCorrupt(t *testing.T) {
	requested := "snapshot_2024_01_01_00_00_00"
	stored := testSnapshot("snapshot_2024_01_01_00_00_01")
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + requested + ".json": artifactFor(t, stored),
	}}
	store := newFakeStore()

	_, err := NewCoordinator(artifacts, store).Restore(context.Background(), requested, "admin")
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
	if len(store.dropped) != 0 {
		t.Fatal("no data may be touched on an id mismatch")
	}
}

func TestRestore_MalformedArtifactIsCorrupt(t *testing.T) {
	id := "snapshot_x"
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + id + ".json": []byte("{truncated"),
	}}
	_, err := NewCoordinator(artifacts, newFakeStore()).Restore(context.Background(), id, "admin")
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestRestore_PartialFailureReportsCounts(t *testing.T) {
	id := "snapshot_2026_08_31_10_00_00"
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + id + ".json": artifactFor(t, testSnapshot(id)),
	}}
	store := newFakeStore()
	store.insertErrOn = "tasks"

	result, err := NewCoordinator(artifacts, store).Restore(context.Background(), id, "admin")
	if !errors.Is(err, ErrPartialRestore) {
		t.Fatalf("expected ErrPartialRestore, got %v", err)
	}
	if result.RestoredCounts["groups"] != 1 {
		t.Fatalf("collections restored before the failure must be reported: %v", result.RestoredCounts)
	}
	if _, done := result.RestoredCounts["tasks"]; done {
		t.Fatalf("failed collection must not be reported as restored: %v", result.RestoredCounts)
	}
}

func TestRestore_BusyGate(t *testing.T) {
	id := "snapshot_2026_08_31_10_00_00"
	artifacts := &fakeArtifacts{objects: map[string][]byte{
		"snapshots/" + id + ".json": artifactFor(t, testSnapshot(id)),
	}}
	store := newFakeStore()
	store.block = make(chan struct{})
	coord := NewCoordinator(artifacts, store)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := coord.Restore(context.Background(), id, "admin")
		done <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond) // let the first restore take the gate

	_, err := coord.Restore(context.Background(), id, "admin")
	if !errors.Is(err, ErrRestoreBusy) {
		t.Fatalf("expected ErrRestoreBusy, got %v", err)
	}

	close(store.block)
	if err := <-done; err != nil {
		t.Fatalf("first restore failed: %v", err)
	}
}
