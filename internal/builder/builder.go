// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package builder orchestrates a single container build: materializing
// inputs, invoking the external build tools, uploading artifacts, and
// recording results. Grounded on build/container/container.go's
// exec.CommandContext wrapping and internal/gcb.go's
// invoke-poll-record shape, generalized from "build one microservice
// image" / "poll one Cloud Build operation" to the five-state build
// described in spec §4.4.
package builder

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/hasher"
	"github.com/funcx-faas/container-build-service/internal/landlord"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/pkg/errors"
)

// Builder drives the state machine of spec §4.4 for a single container id.
// It is idempotent with respect to repeated invocations: the first thing
// Run does is call TryStartBuild, exiting silently if that returns false.
type Builder struct {
	Catalog     catalog.Catalog
	Store       objectstore.Store
	Docker      DockerEngine
	Singularity SingularityEngine
	Registry    Registry

	// SelfTag is this process's single-flight owner tag, generated once at
	// process start and kept in memory only, per spec §9.
	SelfTag string

	// MaxStorage configures the post-build Landlord invocation; see spec
	// §4.5 and §6.
	MaxStorage int64

	// FetchTarball supplies the tarball bytes for a tarball-submitted
	// container. It is only called for tarball-submitted containers; if it
	// is nil, materializing a tarball fails.
	FetchTarball func(ctx context.Context, containerID string) (io.ReadCloser, error)
}

// signedURLTTL bounds how long pre-signed GET URLs returned to clients
// remain valid.
const signedURLTTL = 24 * time.Hour

// imageTag is the local docker/singularity image name for a container id.
func imageTag(containerID string) string { return "container-build-" + containerID }

// Run executes the full build state machine for containerID. It always
// reaches the release state (clearing `building`) even when a step fails;
// only TryStartBuild itself can cause an early, silent return.
func (b *Builder) Run(ctx context.Context, containerID string) error {
	acquired, err := b.Catalog.TryStartBuild(ctx, containerID, b.SelfTag)
	if err != nil {
		return errors.Wrap(err, "acquiring single-flight ownership")
	}
	if !acquired {
		return nil
	}

	results, postBuild := b.build(ctx, containerID)

	if err := b.Catalog.FinishBuild(ctx, containerID, results); err != nil {
		return errors.Wrap(err, "releasing build ownership")
	}

	if postBuild {
		if err := landlord.Evict(ctx, b.Catalog, b.Store, b.Registry, b.MaxStorage); err != nil {
			log.Printf("landlord eviction after build of %s failed: %v", containerID, err)
		}
	}
	return nil
}

// build performs steps 2-4 of spec §4.4 (inputs, docker, singularity) and
// returns the result fields to record plus whether the Landlord should run
// afterward (it should whenever a build was actually attempted).
func (b *Builder) build(ctx context.Context, containerID string) (catalog.BuildResults, bool) {
	container, err := b.Catalog.Get(ctx, containerID)
	if err != nil {
		log.Printf("builder: fetching container %s: %v", containerID, err)
		return catalog.BuildResults{}, false
	}

	scratch, err := os.MkdirTemp("", "container-build-")
	if err != nil {
		log.Printf("builder: creating scratch dir for %s: %v", containerID, err)
		return catalog.BuildResults{}, false
	}
	defer os.RemoveAll(scratch)

	if container.HasSpec() {
		if err := b.materializeSpec(container, scratch); err != nil {
			log.Printf("builder: materializing spec for %s: %v", containerID, err)
			return catalog.BuildResults{}, false
		}
	} else {
		ok, err := b.materializeTarball(ctx, containerID, scratch)
		if err != nil {
			log.Printf("builder: materializing tarball for %s: %v", containerID, err)
			return catalog.BuildResults{}, false
		}
		if !ok {
			// Invalid tarball: spec §4.4 step 2 records a terminal failure
			// and releases, without attempting a docker build.
			return catalog.BuildResults{
				DockerLog: "invalid tarball: archive contained no files",
			}, true
		}
	}

	dockerResults, ok := b.buildDocker(ctx, containerID, scratch)
	if !ok {
		return dockerResults, true
	}

	singularityResults := b.buildSingularity(ctx, containerID)
	dockerResults.SingularityURL = singularityResults.SingularityURL
	dockerResults.SingularityLog = singularityResults.SingularityLog
	dockerResults.SingularitySize = singularityResults.SingularitySize
	return dockerResults, true
}

func (b *Builder) materializeSpec(c catalog.Container, scratch string) error {
	var spec hasher.Spec
	if err := json.Unmarshal(c.Specification, &spec); err != nil {
		return errors.Wrap(err, "decoding specification")
	}
	envYAML, err := EnvironmentYAML(spec)
	if err != nil {
		return errors.Wrap(err, "rendering environment.yml")
	}
	if err := os.WriteFile(filepath.Join(scratch, "environment.yml"), envYAML, 0o644); err != nil {
		return errors.Wrap(err, "writing environment.yml")
	}
	if apt := AptTxt(spec); apt != nil {
		if err := os.WriteFile(filepath.Join(scratch, "apt.txt"), apt, 0o644); err != nil {
			return errors.Wrap(err, "writing apt.txt")
		}
	}
	return nil
}

// materializeTarball extracts the container's source tarball into scratch.
// ok=false (with nil error) denotes an empty-after-extraction archive, the
// invalid-tarball case of spec §4.4 step 2 / §8.
func (b *Builder) materializeTarball(ctx context.Context, containerID, scratch string) (bool, error) {
	if b.FetchTarball == nil {
		return false, errors.New("no tarball source configured")
	}
	rc, err := b.FetchTarball(ctx, containerID)
	if err != nil {
		return false, errors.Wrap(err, "fetching tarball")
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return false, errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()

	count := 0
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, errors.Wrap(err, "reading tar entry")
		}
		target := filepath.Join(scratch, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return false, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return false, err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return false, err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return false, err
			}
			f.Close()
			count++
		}
	}
	return count > 0, nil
}

// buildDocker runs spec §4.4 step 3. ok=false means a terminal failure was
// recorded (results.DockerLog set, DockerURL left empty); the caller must
// skip the Singularity step in that case.
func (b *Builder) buildDocker(ctx context.Context, containerID, scratch string) (catalog.BuildResults, bool) {
	tag := imageTag(containerID)
	logBytes, buildErr := b.Docker.Build(ctx, scratch, tag)
	logURL, uploadErr := b.uploadLog(ctx, objectstore.BucketDockerLogs, containerID, logBytes)
	if uploadErr != nil {
		log.Printf("builder: uploading docker log for %s: %v", containerID, uploadErr)
	}
	if buildErr != nil {
		return catalog.BuildResults{DockerLog: logURL}, false
	}

	size, ok, err := b.Docker.ImageSize(ctx, tag)
	if err != nil {
		log.Printf("builder: probing image size for %s: %v", containerID, err)
		return catalog.BuildResults{DockerLog: logURL}, false
	}
	if !ok {
		return catalog.BuildResults{DockerLog: logURL}, false
	}

	url, err := b.Registry.Push(ctx, tag)
	if err != nil {
		log.Printf("builder: pushing image for %s: %v", containerID, err)
		return catalog.BuildResults{DockerLog: logURL}, false
	}
	return catalog.BuildResults{DockerURL: url, DockerLog: logURL, DockerSize: &size}, true
}

// buildSingularity runs spec §4.4 step 4.
func (b *Builder) buildSingularity(ctx context.Context, containerID string) catalog.BuildResults {
	tag := imageTag(containerID)
	sifPath := filepath.Join(os.TempDir(), containerID+".sif")
	defer os.Remove(sifPath)

	logBytes, buildErr := b.Singularity.Build(ctx, tag, sifPath)
	logURL, uploadErr := b.uploadLog(ctx, objectstore.BucketSingularityLogs, containerID, logBytes)
	if uploadErr != nil {
		log.Printf("builder: uploading singularity log for %s: %v", containerID, uploadErr)
	}
	if buildErr != nil {
		return catalog.BuildResults{SingularityLog: logURL}
	}

	info, err := os.Stat(sifPath)
	if err != nil || info.Size() == 0 {
		return catalog.BuildResults{SingularityLog: logURL}
	}

	f, err := os.Open(sifPath)
	if err != nil {
		log.Printf("builder: opening sif for %s: %v", containerID, err)
		return catalog.BuildResults{SingularityLog: logURL}
	}
	defer f.Close()
	if err := b.Store.Put(ctx, objectstore.BucketSingularity, containerID, f); err != nil {
		log.Printf("builder: uploading sif for %s: %v", containerID, err)
		return catalog.BuildResults{SingularityLog: logURL}
	}
	url, err := b.Store.SignedURL(ctx, objectstore.BucketSingularity, containerID, signedURLTTL)
	if err != nil {
		log.Printf("builder: signing sif url for %s: %v", containerID, err)
		return catalog.BuildResults{SingularityLog: logURL}
	}
	size := info.Size()
	return catalog.BuildResults{SingularityURL: url, SingularityLog: logURL, SingularitySize: &size}
}

func (b *Builder) uploadLog(ctx context.Context, bucket, containerID string, contents []byte) (string, error) {
	if err := b.Store.Put(ctx, bucket, containerID, bytes.NewReader(contents)); err != nil {
		return "", errors.Wrapf(err, "uploading log to %s/%s", bucket, containerID)
	}
	url, err := b.Store.SignedURL(ctx, bucket, containerID, signedURLTTL)
	if err != nil {
		return "", errors.Wrapf(err, "signing log url for %s/%s", bucket, containerID)
	}
	return url, nil
}
