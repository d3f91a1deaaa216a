// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package hasher

import (
	"strings"
	"testing"
)

func TestCanonicalizeOrderIndependence(t *testing.T) {
	a := Spec{Apt: []string{"git", "curl"}, Pip: []string{"scipy", "numpy"}}
	b := Spec{Apt: []string{"curl", "git"}, Pip: []string{"numpy", "scipy"}}
	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical forms differ: %s vs %s", ca, cb)
	}
}

func TestCanonicalizeDuplicatesCoalesced(t *testing.T) {
	a := Spec{Pip: []string{"numpy", "numpy", "scipy"}}
	b := Spec{Pip: []string{"numpy", "scipy"}}
	ca, _ := Canonicalize(a)
	cb, _ := Canonicalize(b)
	if string(ca) != string(cb) {
		t.Fatalf("duplicate entries not coalesced: %s vs %s", ca, cb)
	}
}

func TestCanonicalizeAbsentEqualsEmpty(t *testing.T) {
	a := Spec{Pip: []string{"numpy"}}
	b := Spec{Pip: []string{"numpy"}, Apt: []string{}, Conda: nil}
	ca, _ := Canonicalize(a)
	cb, _ := Canonicalize(b)
	if string(ca) != string(cb) {
		t.Fatalf("absent vs empty list not normalized identically: %s vs %s", ca, cb)
	}
}

func TestHashSpecDeterministic(t *testing.T) {
	s1 := Spec{Apt: []string{"git"}, Pip: []string{"numpy", "scipy"}}
	s2 := Spec{Apt: []string{"git"}, Pip: []string{"scipy", "numpy"}}
	h1, err := HashSpec(s1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashSpec(s2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ for equivalent specs: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestHashSpecEmpty(t *testing.T) {
	h, err := HashSpec(Spec{})
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 64 {
		t.Fatalf("expected deterministic hash for empty spec, got %q", h)
	}
}

func TestHashTarball(t *testing.T) {
	h1, err := HashTarball(strings.NewReader("some tarball bytes"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashTarball(strings.NewReader("some tarball bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("tarball hash not deterministic: %s vs %s", h1, h2)
	}
	h3, _ := HashTarball(strings.NewReader("different bytes"))
	if h1 == h3 {
		t.Fatal("distinct tarballs hashed to the same digest")
	}
}
