// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import "context"

// DockerEngine is the narrow interface onto the external repo2docker tool
// and the local Docker daemon, per spec §6's "out of scope" list: the
// Builder only ever calls these two methods, never shells out itself.
type DockerEngine interface {
	// Build invokes repo2docker against the materialized scratch
	// directory, tagging the result imageTag, and returns the combined
	// stdout/stderr log. A non-nil error denotes a hard failure (nonzero
	// exit); the log is still returned so it can be uploaded.
	Build(ctx context.Context, scratchDir, imageTag string) (log []byte, err error)
	// ImageSize probes the local daemon for imageTag's size in bytes.
	// ok=false means the image is absent (a build failure).
	ImageSize(ctx context.Context, imageTag string) (size int64, ok bool, err error)
}

// Registry is the narrow interface onto the external container registry
// the Landlord and Builder push to / delete from.
type Registry interface {
	// Push uploads the local image imageTag to the registry and returns
	// its pull URL.
	Push(ctx context.Context, imageTag string) (url string, err error)
	// Delete removes imageTag from the registry and the local daemon.
	Delete(ctx context.Context, imageTag string) error
}

// SingularityEngine is the narrow interface onto the external singularity
// conversion tool, which reads the already-built image out of the local
// Docker daemon (hence must run after DockerEngine.Build commits).
type SingularityEngine interface {
	// Build converts imageTag (already present in the local Docker daemon)
	// into a .sif file at sifPath, and returns the combined log.
	Build(ctx context.Context, imageTag, sifPath string) (log []byte, err error)
}
