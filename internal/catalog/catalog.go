// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the persistent store of Containers and Builds. It is
// the single source of truth the Hasher, Matcher, Builder, and Landlord all
// share, and it owns the single-flight state machine that keeps at most one
// build in flight per content hash.
package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Container is one row per distinct content hash.
type Container struct {
	ID            string
	LastUsed      time.Time
	Specification []byte // canonical JSON spec; nil when submitted as tarball
	TarballRef    string // object-store key; empty when submitted as spec

	DockerURL  string
	DockerLog  string
	DockerSize *int64

	SingularityURL  string
	SingularityLog  string
	SingularitySize *int64

	Building string // owner tag; empty means no build in flight
}

// HasSpec reports whether c was submitted as a spec (vs. a tarball).
func (c Container) HasSpec() bool { return c.Specification != nil }

// DockerFailed reports the terminal-failure encoding of §3 invariant 3: a
// log recorded with no url.
func (c Container) DockerFailed() bool { return c.DockerLog != "" && c.DockerURL == "" }

// SingularityFailed is the Singularity analogue of DockerFailed.
func (c Container) SingularityFailed() bool { return c.SingularityLog != "" && c.SingularityURL == "" }

// Build is the client-visible handle returned for each submission. Multiple
// Builds may reference the same Container; that sharing is how dedup is
// observable to callers.
type Build struct {
	ID            string
	ContainerHash string
}

// StatusRecord is the read-only projection returned by status and artifact
// endpoints.
type StatusRecord struct {
	ID              string
	RecipeChecksum  string
	LastUsed        time.Time
	DockerURL       string
	DockerSize      *int64
	DockerLog       string
	SingularityURL  string
	SingularitySize *int64
	SingularityLog  string
}

// BuildResults are the fields the Builder writes back after attempting a
// build. A nil Size with a non-empty Log denotes a terminal failure for
// that variant; leaving both empty leaves the variant untouched.
type BuildResults struct {
	DockerURL  string
	DockerLog  string
	DockerSize *int64

	SingularityURL  string
	SingularityLog  string
	SingularitySize *int64
}

// Error kinds, surfaced as structured errors per spec §7. The Gateway
// translates these to HTTP status codes; the Builder and Landlord branch on
// them directly.
var (
	// ErrNotFound is returned for an unknown build or container id.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned when an operation is incompatible with the
	// submission type, e.g. requesting a Dockerfile for a tarball build.
	ErrBadRequest = errors.New("bad request")
	// ErrGone is returned by the artifact-url operations when a terminal
	// build failure was recorded: a log exists but no url does.
	ErrGone = errors.New("gone")
)

// Catalog is the narrow persistence interface of spec §4.2. All
// implementations must run each operation inside a single transaction with
// commit-or-rollback semantics, and must serialize concurrent
// TryStartBuild calls for the same id so that exactly one succeeds between
// any two FinishBuild calls.
type Catalog interface {
	// PutSpec inserts a Container row holding the canonical spec under id
	// (the caller computes id from the spec) if absent, and reports whether
	// the row was newly created.
	PutSpec(ctx context.Context, spec []byte, id string) (created bool, err error)
	// PutTarball records a Container row for a tarball already uploaded to
	// the object store under key id, and reports whether it was newly
	// created. The caller is responsible for the upload itself, which it
	// performs before calling PutTarball.
	PutTarball(ctx context.Context, id, tarballRef string) (created bool, err error)
	// AddBuild allocates a fresh Build id linked to container id and bumps
	// the Container's LastUsed. Returns ErrNotFound if no such container.
	AddBuild(ctx context.Context, containerID string) (buildID string, err error)
	// GetSpec returns the canonical spec bytes for the Container that
	// buildID references. Returns ErrNotFound if buildID is unknown, or
	// ErrBadRequest if the Container has no spec (it was a tarball build).
	GetSpec(ctx context.Context, buildID string) ([]byte, error)
	// Status returns the current record for the Container that buildID
	// references, or ErrNotFound.
	Status(ctx context.Context, buildID string) (StatusRecord, error)
	// DockerURL returns the Container id and current docker url for
	// buildID. A nil-equivalent empty url means "not built yet". Returns
	// ErrGone if a terminal failure was recorded, ErrNotFound if unknown.
	DockerURL(ctx context.Context, buildID string) (containerID, url string, err error)
	// SingularityURL is the Singularity analogue of DockerURL.
	SingularityURL(ctx context.Context, buildID string) (containerID, url string, err error)
	// TryStartBuild atomically acquires single-flight ownership of id for
	// selfTag. See spec §4.2 for the three-way compare-and-set semantics.
	TryStartBuild(ctx context.Context, id, selfTag string) (acquired bool, err error)
	// FinishBuild records result fields and clears the building flag,
	// within the same transactional scope, so a crash mid-write leaves
	// building non-empty and recoverable.
	FinishBuild(ctx context.Context, id string, results BuildResults) error
	// Get returns the raw Container row, or ErrNotFound.
	Get(ctx context.Context, id string) (Container, error)
	// Remove nulls the five artifact fields of id, keeping the row so dedup
	// semantics survive. A no-op (not an error) if already cleared. Skips
	// (returns false) containers currently being built.
	Remove(ctx context.Context, id string) (removed bool, err error)
	// ListMatchCandidates returns all Containers eligible for Matcher
	// consideration: non-nil DockerSize and non-nil Specification.
	ListMatchCandidates(ctx context.Context) ([]Container, error)
	// ListEvictionCandidates returns all Containers eligible for Landlord
	// consideration: non-nil DockerSize or non-nil SingularitySize.
	ListEvictionCandidates(ctx context.Context) ([]Container, error)
}
