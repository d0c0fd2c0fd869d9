package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

func (m *Memory) Stat(ctx context.Context, bucket, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.buckets[bucket][key]
	if !ok {
		return 0, fmt.Errorf("stat %s/%s: %w", bucket, key, ErrNotFound)
	}
	return int64(len(data)), nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, bucket, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket)[key] = buf
	return nil
}

func (m *Memory) List(ctx context.Context, bucket string, recursive bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range m.buckets[bucket] {
		if IsStaging(key) {
			continue
		}
		if !recursive {
			if i := strings.Index(key, "/"); i >= 0 {
				key = key[:i+1]
			}
		}
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Remove(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

// Append extends the object in place.
func (m *Memory) Append(ctx context.Context, bucket, key string, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects := m.bucketLocked(bucket)
	existing := objects[key]
	grown := make([]byte, 0, len(existing)+len(data))
	grown = append(grown, existing...)
	grown = append(grown, data...)
	objects[key] = grown
	return int64(len(grown)), nil
}

func (m *Memory) Probe(ctx context.Context, bucket string) error {
	return nil
}

func (m *Memory) bucketLocked(bucket string) map[string][]byte {
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	return objects
}
