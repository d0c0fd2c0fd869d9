// Package dedup detects uploads whose content already exists in the bucket.
//
// An Index maps a SHA-256 content digest to the resource that owns it.
// Reserve is atomic: of two concurrent reservations for the same digest,
// exactly one succeeds and the other observes the winner as owner.
package dedup

import (
	"context"
	"encoding/hex"

	"github.com/minio/sha256-simd"
)

// Index is the content-hash to resource relation consulted at creation time.
type Index interface {
	// Reserve records resourceID as the owner of digest unless the digest is
	// already owned, in which case the existing owner is returned and nothing
	// is recorded. An empty owner means the reservation succeeded.
	Reserve(ctx context.Context, digest, resourceID string) (owner string, err error)
	// Commit confirms a reservation once the object has been written.
	Commit(ctx context.Context, digest, resourceID string) error
	// Release drops a reservation held by resourceID, e.g. after a failed write
	// or when the recorded owner no longer exists.
	Release(ctx context.Context, digest, resourceID string) error
	// Forget drops whatever digest resourceID owns. Used when the resource is
	// deleted or its content changes.
	Forget(ctx context.Context, resourceID string) error
}

// Recorder is implemented by indexes that keep their own copy of the
// relation and must be told about content written outside Create: appended
// chunks, and objects stored before the index existed.
type Recorder interface {
	// Record makes digest the content of resourceID, dropping whatever digest
	// resourceID owned before. A digest already owned by another resource
	// keeps that owner.
	Record(ctx context.Context, digest, resourceID string) error
}

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
