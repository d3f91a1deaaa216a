// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"testing"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/pkg/errors"
)

type fakeDocker struct {
	buildErr error
	size     int64
	sizeOK   bool
}

func (f *fakeDocker) Build(ctx context.Context, scratchDir, imageTag string) ([]byte, error) {
	return []byte("docker build log"), f.buildErr
}

func (f *fakeDocker) ImageSize(ctx context.Context, imageTag string) (int64, bool, error) {
	return f.size, f.sizeOK, nil
}

type fakeSingularity struct{ buildErr error }

func (f *fakeSingularity) Build(ctx context.Context, imageTag, sifPath string) ([]byte, error) {
	if f.buildErr == nil {
		// simulate a non-empty sif landing at sifPath
		if err := os.WriteFile(sifPath, []byte("sif image"), 0o644); err != nil {
			return nil, err
		}
	}
	return []byte("singularity build log"), f.buildErr
}

type fakeRegistry struct{ pushURL string }

func (f *fakeRegistry) Push(ctx context.Context, imageTag string) (string, error) {
	return f.pushURL, nil
}
func (f *fakeRegistry) Delete(ctx context.Context, imageTag string) error { return nil }

func newTestBuilder(cat catalog.Catalog, docker DockerEngine, singularity SingularityEngine, registry Registry) *Builder {
	return &Builder{
		Catalog:     cat,
		Store:       objectstore.NewMemoryStore(),
		Docker:      docker,
		Singularity: singularity,
		Registry:    registry,
		SelfTag:     "test-tag",
		MaxStorage:  1 << 40,
	}
}

// TestRunSkipsOnDuplicateDeliveryWithinSameAttempt exercises the self-owned
// branch of TryStartBuild: a redelivered task for a build this same process
// already holds the flag for is a silent no-op, not a second build attempt.
func TestRunSkipsOnDuplicateDeliveryWithinSameAttempt(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutSpec(ctx, []byte(`{}`), "hash1")
	if _, err := cat.TryStartBuild(ctx, "hash1", "test-tag"); err != nil {
		t.Fatal(err)
	}

	docker := &fakeDocker{}
	b := newTestBuilder(cat, docker, &fakeSingularity{}, &fakeRegistry{})
	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "hash1")
	if got.Building != "test-tag" {
		t.Fatalf("expected ownership to remain untouched, got %q", got.Building)
	}
}

// TestRunReclaimsOwnershipFromACrashedAttempt exercises the crash-inheritance
// branch: a stale foreign tag is reclaimed and any dangling artifact fields
// from the abandoned attempt are cleared before the build proceeds.
func TestRunReclaimsOwnershipFromACrashedAttempt(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutSpec(ctx, []byte(`{}`), "hash1")
	if _, err := cat.TryStartBuild(ctx, "hash1", "crashed-tag"); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(cat,
		&fakeDocker{size: 512, sizeOK: true},
		&fakeSingularity{},
		&fakeRegistry{pushURL: "https://registry.test/container-build-hash1"})
	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "hash1")
	if got.Building != "" {
		t.Fatalf("expected ownership released after reclaiming and completing the build, got %q", got.Building)
	}
	if got.DockerSize == nil || *got.DockerSize != 512 {
		t.Fatalf("expected the reclaiming build to run to completion, got %+v", got)
	}
}

func TestRunSuccessfulSpecBuild(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutSpec(ctx, []byte(`{"pip":["numpy"]}`), "hash1")

	b := newTestBuilder(cat,
		&fakeDocker{size: 1024, sizeOK: true},
		&fakeSingularity{},
		&fakeRegistry{pushURL: "https://registry.test/container-build-hash1"})

	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, err := cat.Get(ctx, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Building != "" {
		t.Fatalf("expected ownership released, got %q", got.Building)
	}
	if got.DockerURL == "" || got.DockerSize == nil || *got.DockerSize != 1024 {
		t.Fatalf("expected docker build to succeed, got %+v", got)
	}
	if got.DockerLog == "" {
		t.Fatal("expected a docker log url even on success")
	}
}

func TestRunDockerBuildFailureSkipsSingularity(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutSpec(ctx, []byte(`{}`), "hash1")

	singularityCalled := false
	sing := &recordingSingularity{called: &singularityCalled}
	b := newTestBuilder(cat, &fakeDocker{buildErr: errors.New("boom")}, sing, &fakeRegistry{})

	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "hash1")
	if got.DockerURL != "" {
		t.Fatalf("expected terminal docker failure with no url, got %q", got.DockerURL)
	}
	if got.DockerLog == "" {
		t.Fatal("expected docker log recorded on failure")
	}
	if singularityCalled {
		t.Fatal("expected singularity build to be skipped after docker failure")
	}
	if got.Building != "" {
		t.Fatal("expected ownership released even after a hard failure")
	}
}

type recordingSingularity struct{ called *bool }

func (r *recordingSingularity) Build(ctx context.Context, imageTag, sifPath string) ([]byte, error) {
	*r.called = true
	return nil, nil
}

func TestRunZeroSizeImageIsTerminalFailure(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutSpec(ctx, []byte(`{}`), "hash1")

	b := newTestBuilder(cat, &fakeDocker{sizeOK: false}, &fakeSingularity{}, &fakeRegistry{})
	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "hash1")
	if got.DockerURL != "" {
		t.Fatal("expected no docker url when the image is absent post-build")
	}
	if got.DockerLog == "" {
		t.Fatal("expected the build log to still be recorded")
	}
}

func TestRunInvalidTarballIsTerminalFailure(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog()
	cat.PutTarball(ctx, "hash1", "tarballs/hash1")

	b := newTestBuilder(cat, &fakeDocker{}, &fakeSingularity{}, &fakeRegistry{})
	b.FetchTarball = func(ctx context.Context, containerID string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(emptyGzippedTar(t))), nil
	}

	if err := b.Run(ctx, "hash1"); err != nil {
		t.Fatal(err)
	}
	got, _ := cat.Get(ctx, "hash1")
	if got.DockerURL != "" {
		t.Fatal("expected no docker url for an invalid tarball")
	}
	if got.DockerLog == "" {
		t.Fatal("expected a terminal-failure log for an invalid tarball")
	}
	if got.Building != "" {
		t.Fatal("expected ownership released after invalid-tarball failure")
	}
}

func emptyGzippedTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
