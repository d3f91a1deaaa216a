// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package matcher implements the Jaccard-superset match of spec §4.3: given
// a new spec, find an already-built Container whose package set is a
// superset and close enough in Jaccard distance to avoid a fresh build.
package matcher

import (
	"context"
	"encoding/json"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/hasher"
	"github.com/pkg/errors"
)

// DefaultAlpha is the maximum admissible Jaccard distance for a superset
// match, per spec §4.3.
const DefaultAlpha = 0.5

// featureSet builds the channel-prefixed feature set of a spec: "a"+pkg for
// apt, "c"+pkg for conda, "p"+pkg for pip. The prefix disambiguates the
// same token across channels.
func featureSet(s hasher.Spec) map[string]struct{} {
	out := make(map[string]struct{}, len(s.Apt)+len(s.Conda)+len(s.Pip))
	for _, x := range s.Apt {
		out["a"+x] = struct{}{}
	}
	for _, x := range s.Conda {
		out["c"+x] = struct{}{}
	}
	for _, x := range s.Pip {
		out["p"+x] = struct{}{}
	}
	return out
}

// isSubset reports whether a is a subset-or-equal of b.
func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// jaccard computes 1 - |A∩B|/|A∪B|, treating an empty union as distance 0
// (identical empty specs), per spec §4.3.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return 1 - float64(inter)/float64(union)
}

// Find locates an existing built Container whose package set is a superset
// of spec's within alpha Jaccard distance. It returns ok=false if none
// qualifies. Find never writes to the catalog; the caller links the new
// Build to the returned container id itself.
func Find(ctx context.Context, cat catalog.Catalog, spec hasher.Spec, alpha float64) (containerID string, ok bool, err error) {
	target := featureSet(spec)
	candidates, err := cat.ListMatchCandidates(ctx)
	if err != nil {
		return "", false, errors.Wrap(err, "listing match candidates")
	}

	var bestID string
	var bestDistance = 2.0 // greater than any achievable Jaccard distance
	var bestLastUsed int64
	found := false

	for _, c := range candidates {
		var candidateSpec hasher.Spec
		if err := json.Unmarshal(c.Specification, &candidateSpec); err != nil {
			return "", false, errors.Wrapf(err, "decoding specification for container %s", c.ID)
		}
		other := featureSet(candidateSpec)
		if !isSubset(target, other) {
			continue
		}
		d := jaccard(target, other)
		if d > alpha {
			continue
		}
		lastUsed := c.LastUsed.UnixNano()
		switch {
		case !found:
			bestID, bestDistance, bestLastUsed, found = c.ID, d, lastUsed, true
		case d < bestDistance:
			bestID, bestDistance, bestLastUsed = c.ID, d, lastUsed
		case d == bestDistance && lastUsed > bestLastUsed:
			bestID, bestLastUsed = c.ID, lastUsed
		case d == bestDistance && lastUsed == bestLastUsed && c.ID < bestID:
			bestID = c.ID
		}
	}
	return bestID, found, nil
}
