// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package landlord enforces the global storage cap of spec §4.5 by LRU
// eviction, invoked after every successful build.
package landlord

import (
	"context"
	"sort"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/pkg/errors"
)

// Registry is the narrow interface onto the external container registry
// Evict deletes images from. Defined here (rather than imported from
// builder) to avoid a landlord<->builder import cycle; builder.Registry
// satisfies it structurally.
type Registry interface {
	Delete(ctx context.Context, imageTag string) error
}

// imageTag mirrors builder.imageTag: the local/registry image name for a
// container id. Kept in sync by convention since both packages derive it
// from the same content hash.
func imageTag(containerID string) string { return "container-build-" + containerID }

func size(c catalog.Container) int64 {
	var total int64
	if c.DockerSize != nil {
		total += *c.DockerSize
	}
	if c.SingularitySize != nil {
		total += *c.SingularitySize
	}
	return total
}

func totalStorage(containers []catalog.Container) int64 {
	var total int64
	for _, c := range containers {
		total += size(c)
	}
	return total
}

// Evict enforces maxStorage by repeatedly removing the least-recently-used
// eligible Container until total storage is at or below the cap, per spec
// §4.5. Per the REDESIGN FLAG resolved in SPEC_FULL.md §10, eligibility is
// non-nil DockerSize OR non-nil SingularitySize (not DockerSize alone), so
// singularity-only rows remain reclaimable.
func Evict(ctx context.Context, cat catalog.Catalog, store objectstore.Store, registry Registry, maxStorage int64) error {
	skip := make(map[string]bool)
	for {
		candidates, err := cat.ListEvictionCandidates(ctx)
		if err != nil {
			return errors.Wrap(err, "listing eviction candidates")
		}
		var eligible []catalog.Container
		for _, c := range candidates {
			if !skip[c.ID] {
				eligible = append(eligible, c)
			}
		}
		if totalStorage(candidates) <= maxStorage || len(eligible) == 0 {
			return nil
		}

		sort.Slice(eligible, func(i, j int) bool {
			return eligible[i].LastUsed.Before(eligible[j].LastUsed)
		})
		victim := eligible[0]

		removed, err := remove(ctx, cat, store, registry, victim.ID)
		if err != nil {
			return errors.Wrapf(err, "removing container %s", victim.ID)
		}
		if !removed {
			// Skipped: the container is currently being built. Remember
			// that for the rest of this call so the loop always makes
			// progress toward termination instead of retrying it forever.
			skip[victim.ID] = true
		}
	}
}

// remove implements spec §4.5 step 2: delete the sif, both logs, and the
// registry/daemon image, then null the five artifact fields. The Catalog
// is responsible for skipping containers with an in-flight build
// (building != ""), under the same locking discipline as TryStartBuild.
func remove(ctx context.Context, cat catalog.Catalog, store objectstore.Store, registry Registry, id string) (bool, error) {
	removed, err := cat.Remove(ctx, id)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	if err := store.Delete(ctx, objectstore.BucketSingularity, id); err != nil {
		return true, errors.Wrap(err, "deleting sif")
	}
	if err := store.Delete(ctx, objectstore.BucketSingularityLogs, id); err != nil {
		return true, errors.Wrap(err, "deleting singularity log")
	}
	if err := store.Delete(ctx, objectstore.BucketDockerLogs, id); err != nil {
		return true, errors.Wrap(err, "deleting docker log")
	}
	if err := registry.Delete(ctx, imageTag(id)); err != nil {
		return true, errors.Wrap(err, "deleting registry image")
	}
	return true, nil
}
