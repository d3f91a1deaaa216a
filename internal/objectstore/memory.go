// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory Store fake for tests, mirroring
// internal/cache's CoalescingMemoryCache style of a single mutex-guarded
// map rather than a mocking framework.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func objKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading upload body")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objKey(bucket, key)] = b
	return nil
}

func (m *MemoryStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[objKey(bucket, key)]; !ok {
		return "", errors.Errorf("no such object %s/%s", bucket, key)
	}
	return fmt.Sprintf("https://example-object-store.test/%s/%s?exp=%d", bucket, key, time.Now().Add(ttl).Unix()), nil
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[objKey(bucket, key)]
	if !ok {
		return nil, errors.Errorf("no such object %s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, objKey(bucket, key))
	return nil
}
