// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package hasher canonicalizes a package specification and computes the
// content hashes that the catalog uses as Container ids.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Spec is the declarative package specification a client submits.
type Spec struct {
	Apt   []string `json:"apt,omitempty"`
	Conda []string `json:"conda,omitempty"`
	Pip   []string `json:"pip,omitempty"`
}

// copySorted returns a deduplicated, codepoint-ascending copy of in. A nil
// or empty slice yields nil, so absent and empty lists canonicalize
// identically.
func copySorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, x := range in {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}

// canonical is the fixed-field-order, whitespace-free JSON shape hashed for
// a Spec. Field order here is the canonicalization: apt, conda, pip.
type canonical struct {
	Apt   []string `json:"apt,omitempty"`
	Conda []string `json:"conda,omitempty"`
	Pip   []string `json:"pip,omitempty"`
}

// Canonicalize returns the canonical JSON encoding of spec: each list
// deduplicated and sorted ascending by codepoint, empty and absent lists
// both elided, keys in fixed order, no insignificant whitespace.
func Canonicalize(spec Spec) ([]byte, error) {
	c := canonical{
		Apt:   copySorted(spec.Apt),
		Conda: copySorted(spec.Conda),
		Pip:   copySorted(spec.Pip),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encoding canonical spec")
	}
	// json.Encoder.Encode appends a trailing newline; strip it so the
	// canonical form has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashSpec returns the lowercase-hex SHA-256 of spec's canonical form. This
// is used as the Container id for spec-submitted builds.
func HashSpec(spec Spec) (string, error) {
	canon, err := Canonicalize(spec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// chunkSize bounds the memory used while hashing a tarball.
const chunkSize = 64 * 1024

// HashTarball streams r in fixed-size chunks through SHA-256 and returns
// the lowercase-hex digest. Used as the Container id for tarball-submitted
// builds.
func HashTarball(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", errors.Wrap(err, "hashing tarball")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
