// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the narrow interface onto the S3-compatible
// object store of spec §6: three buckets (docker-logs, singularity-logs,
// singularity), keyed by container id, with pre-signed GET URLs handed
// back to clients.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Bucket names, per spec §6's object-store layout.
const (
	BucketDockerLogs      = "docker-logs"
	BucketSingularityLogs = "singularity-logs"
	BucketSingularity     = "singularity"
)

// Store is the narrow object-store interface the Builder and Landlord
// depend on. Concrete backends (GCS here, S3 in the spec's own wording)
// live behind it; tests use an in-memory fake.
type Store interface {
	// Put uploads the contents of r to bucket/key, overwriting any
	// existing object.
	Put(ctx context.Context, bucket, key string, r io.Reader) error
	// SignedURL returns a pre-signed GET URL for bucket/key valid for ttl.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// Get opens a reader over bucket/key's contents.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete removes bucket/key. Deleting a missing object is not an
	// error, matching the idempotent cleanup semantics spec §4.5 and §8
	// require of the landlord's remove step.
	Delete(ctx context.Context, bucket, key string) error
}
