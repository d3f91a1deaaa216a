// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package landlord

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
)

type fakeRegistry struct{ deleted []string }

func (f *fakeRegistry) Delete(ctx context.Context, imageTag string) error {
	f.deleted = append(f.deleted, imageTag)
	return nil
}

func int64p(v int64) *int64 { return &v }

// seed inserts a built container with the given docker size, stamping
// LastUsed deterministically via the catalog's overridable clock so
// eviction order doesn't depend on real wall-clock resolution.
func seed(t *testing.T, cat *catalog.MemoryCatalog, store objectstore.Store, id string, dockerSize int64, lastUsed time.Time) {
	t.Helper()
	ctx := context.Background()
	cat.SetClockForTest(func() time.Time { return lastUsed })
	if _, err := cat.PutSpec(ctx, []byte(`{}`), id); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.TryStartBuild(ctx, id, "tag"); err != nil {
		t.Fatal(err)
	}
	if err := cat.FinishBuild(ctx, id, catalog.BuildResults{DockerURL: "u", DockerSize: int64p(dockerSize)}); err != nil {
		t.Fatal(err)
	}
	for _, bucket := range []string{objectstore.BucketDockerLogs, objectstore.BucketSingularityLogs, objectstore.BucketSingularity} {
		store.Put(ctx, bucket, id, nopReader{})
	}
}

type nopReader struct{}

func (nopReader) Read(p []byte) (int, error) { return 0, io.EOF }

func TestEvictRemovesOldestUntilUnderCap(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	store := objectstore.NewMemoryStore()
	reg := &fakeRegistry{}

	base := time.Now()
	seed(t, cat, store, "oldest", 40, base)
	seed(t, cat, store, "middle", 40, base.Add(time.Minute))
	seed(t, cat, store, "newest", 40, base.Add(2*time.Minute))

	if err := Evict(ctx, cat, store, reg, 100); err != nil {
		t.Fatal(err)
	}

	got, err := cat.Get(ctx, "oldest")
	if err != nil {
		t.Fatal(err)
	}
	if got.DockerSize != nil {
		t.Fatalf("expected 'oldest' to be evicted, still has DockerSize=%v", got.DockerSize)
	}
	for _, id := range []string{"middle", "newest"} {
		c, err := cat.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if c.DockerSize == nil {
			t.Fatalf("expected %s to survive eviction", id)
		}
	}
	if len(reg.deleted) != 1 || reg.deleted[0] != "container-build-oldest" {
		t.Fatalf("expected registry delete for oldest image, got %v", reg.deleted)
	}
}

func TestEvictAtExactCapIsNoop(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	store := objectstore.NewMemoryStore()
	reg := &fakeRegistry{}

	seed(t, cat, store, "only", 100, time.Now())
	if err := Evict(ctx, cat, store, reg, 100); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "only")
	if got.DockerSize == nil {
		t.Fatal("expected no eviction when usage exactly equals the cap")
	}
}

func TestEvictSkipsInFlightBuild(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	store := objectstore.NewMemoryStore()
	reg := &fakeRegistry{}

	base := time.Now()
	seed(t, cat, store, "building", 40, base)
	seed(t, cat, store, "idle", 40, base.Add(time.Minute))
	// Re-acquire ownership to simulate an in-flight build racing the evictor.
	if _, err := cat.TryStartBuild(ctx, "building", "other-tag"); err != nil {
		t.Fatal(err)
	}

	if err := Evict(ctx, cat, store, reg, 10); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "building")
	if got.DockerSize == nil {
		t.Fatal("expected in-flight container to be skipped by eviction")
	}
	idle, _ := cat.Get(ctx, "idle")
	if idle.DockerSize != nil {
		t.Fatal("expected idle container to be evicted instead")
	}
}
