// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCatalog is an in-memory, mutex-guarded Catalog implementation. Per
// spec §9 this is an acceptable backing for tests and for single-process
// deployments with no Firestore project configured; a single mutex stands
// in for the row-level exclusive locking a real transactional store would
// provide.
type MemoryCatalog struct {
	mu         sync.Mutex
	containers map[string]*Container
	builds     map[string]*Build
	now        func() time.Time
}

// NewMemoryCatalog constructs an empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		containers: make(map[string]*Container),
		builds:     make(map[string]*Build),
		now:        time.Now,
	}
}

var _ Catalog = (*MemoryCatalog)(nil)

// SetClockForTest overrides the clock used to stamp LastUsed, so tests in
// other packages can seed containers with deterministic, ordered
// timestamps instead of racing real wall-clock resolution.
func (m *MemoryCatalog) SetClockForTest(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryCatalog) PutSpec(ctx context.Context, spec []byte, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id]; ok {
		return false, nil
	}
	m.containers[id] = &Container{
		ID:            id,
		LastUsed:      m.now(),
		Specification: spec,
	}
	return true, nil
}

func (m *MemoryCatalog) PutTarball(ctx context.Context, id, tarballRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id]; ok {
		return false, nil
	}
	m.containers[id] = &Container{
		ID:         id,
		LastUsed:   m.now(),
		TarballRef: tarballRef,
	}
	return true, nil
}

func (m *MemoryCatalog) AddBuild(ctx context.Context, containerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return "", ErrNotFound
	}
	c.LastUsed = m.now()
	id := uuid.NewString()
	m.builds[id] = &Build{ID: id, ContainerHash: containerID}
	return id, nil
}

func (m *MemoryCatalog) lookupContainer(buildID string) (*Container, error) {
	b, ok := m.builds[buildID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.containers[b.ContainerHash]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *MemoryCatalog) GetSpec(ctx context.Context, buildID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookupContainer(buildID)
	if err != nil {
		return nil, err
	}
	if !c.HasSpec() {
		return nil, ErrBadRequest
	}
	return c.Specification, nil
}

func toRecord(b *Build, c *Container) StatusRecord {
	return StatusRecord{
		ID:              b.ID,
		RecipeChecksum:  c.ID,
		LastUsed:        c.LastUsed,
		DockerURL:       c.DockerURL,
		DockerSize:      c.DockerSize,
		DockerLog:       c.DockerLog,
		SingularityURL:  c.SingularityURL,
		SingularitySize: c.SingularitySize,
		SingularityLog:  c.SingularityLog,
	}
}

func (m *MemoryCatalog) Status(ctx context.Context, buildID string) (StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[buildID]
	if !ok {
		return StatusRecord{}, ErrNotFound
	}
	c, err := m.lookupContainer(buildID)
	if err != nil {
		return StatusRecord{}, err
	}
	return toRecord(b, c), nil
}

func (m *MemoryCatalog) DockerURL(ctx context.Context, buildID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookupContainer(buildID)
	if err != nil {
		return "", "", err
	}
	if c.DockerFailed() {
		return "", "", ErrGone
	}
	return c.ID, c.DockerURL, nil
}

func (m *MemoryCatalog) SingularityURL(ctx context.Context, buildID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookupContainer(buildID)
	if err != nil {
		return "", "", err
	}
	if c.SingularityFailed() {
		return "", "", ErrGone
	}
	return c.ID, c.SingularityURL, nil
}

// TryStartBuild implements the three-way compare-and-set of spec §4.2
// under the catalog-wide mutex, which serializes it across concurrent
// callers the same way row-level exclusive locking would in a real store.
func (m *MemoryCatalog) TryStartBuild(ctx context.Context, id, selfTag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return false, ErrNotFound
	}
	switch {
	case c.Building == selfTag:
		return false, nil
	case c.Building == "":
		c.Building = selfTag
		return true, nil
	default:
		// Crash inheritance: a different tag owns it. Clear stale artifact
		// fields and take ownership.
		c.DockerURL, c.DockerLog, c.DockerSize = "", "", nil
		c.SingularityURL, c.SingularityLog, c.SingularitySize = "", "", nil
		c.Building = selfTag
		return true, nil
	}
}

func (m *MemoryCatalog) FinishBuild(ctx context.Context, id string, results BuildResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return ErrNotFound
	}
	if results.DockerLog != "" || results.DockerURL != "" || results.DockerSize != nil {
		c.DockerURL, c.DockerLog, c.DockerSize = results.DockerURL, results.DockerLog, results.DockerSize
	}
	if results.SingularityLog != "" || results.SingularityURL != "" || results.SingularitySize != nil {
		c.SingularityURL, c.SingularityLog, c.SingularitySize = results.SingularityURL, results.SingularityLog, results.SingularitySize
	}
	c.Building = ""
	return nil
}

func (m *MemoryCatalog) Get(ctx context.Context, id string) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return Container{}, ErrNotFound
	}
	return *c, nil
}

func (m *MemoryCatalog) Remove(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Building != "" {
		return false, nil
	}
	c.DockerURL, c.DockerLog, c.DockerSize = "", "", nil
	c.SingularityURL, c.SingularityLog, c.SingularitySize = "", "", nil
	return true, nil
}

func (m *MemoryCatalog) ListMatchCandidates(ctx context.Context) ([]Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Container
	for _, c := range m.containers {
		if c.DockerSize != nil && c.Specification != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemoryCatalog) ListEvictionCandidates(ctx context.Context) ([]Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Container
	for _, c := range m.containers {
		if c.DockerSize != nil || c.SingularitySize != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}
