package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/abduss/tusdrive/internal/objectstore"
)

// Scan computes the index on demand by reading and hashing every object in
// the bucket. Cost is O(objects x size) per reservation.
//
// Reservations are serialized within the process and remembered until
// committed, so two concurrent creations of identical content in the same
// process cannot both pass. Separate processes sharing a bucket are not
// coordinated; use a persistent index for that.
type Scan struct {
	store  objectstore.Store
	bucket string

	mu      sync.Mutex
	pending map[string]string
}

// NewScan builds a scanning index over bucket.
func NewScan(store objectstore.Store, bucket string) *Scan {
	return &Scan{
		store:   store,
		bucket:  bucket,
		pending: make(map[string]string),
	}
}

func (s *Scan) Reserve(ctx context.Context, digest, resourceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.pending[digest]; ok && owner != resourceID {
		return owner, nil
	}

	keys, err := s.store.List(ctx, s.bucket, true)
	if err != nil {
		return "", fmt.Errorf("list bucket %q: %w", s.bucket, err)
	}

	for _, key := range keys {
		if objectstore.IsStaging(key) {
			continue
		}
		data, err := s.store.Get(ctx, s.bucket, key)
		if err != nil {
			// removed between listing and reading
			if objectstore.IsNotFound(err) {
				continue
			}
			return "", fmt.Errorf("read %q: %w", key, err)
		}
		if Digest(data) == digest {
			return key, nil
		}
	}

	s.pending[digest] = resourceID
	return "", nil
}

// Commit clears the pending reservation; the written object is now visible
// to future scans.
func (s *Scan) Commit(ctx context.Context, digest, resourceID string) error {
	s.clear(digest, resourceID)
	return nil
}

func (s *Scan) Release(ctx context.Context, digest, resourceID string) error {
	s.clear(digest, resourceID)
	return nil
}

// Forget is a no-op: the scan always reads live content.
func (s *Scan) Forget(ctx context.Context, resourceID string) error {
	return nil
}

func (s *Scan) clear(digest, resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[digest] == resourceID {
		delete(s.pending, digest)
	}
}
