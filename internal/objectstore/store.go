// Package objectstore defines the narrow capability set the upload engine
// needs from an object storage service, together with the backends that
// provide it.
package objectstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// Store is the object store capability set consumed by the upload engine.
type Store interface {
	// Stat returns the size in bytes of the stored object.
	Stat(ctx context.Context, bucket, key string) (int64, error)
	// Get returns the full contents of the stored object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte) error
	// List returns the keys stored in bucket, leaving out staged chunks.
	// Non-recursive listings stop at the first "/" delimiter.
	List(ctx context.Context, bucket string, recursive bool) ([]string, error)
	// Remove deletes the object. Removing a missing key is not an error.
	Remove(ctx context.Context, bucket, key string) error
}

// Appender is implemented by backends able to extend an object without the
// caller rewriting it. Append returns the resulting object size; a missing
// object is created.
type Appender interface {
	Append(ctx context.Context, bucket, key string, data []byte) (int64, error)
}

// Prober is implemented by backends that can cheaply check bucket
// reachability for readiness probes.
type Prober interface {
	Probe(ctx context.Context, bucket string) error
}

// IsNotFound reports whether err signals a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StagingPrefix holds chunks written by Append before they are composed onto
// their upload. Keys under it are never uploads.
const StagingPrefix = ".staging/"

// IsStaging reports whether key lies under StagingPrefix.
func IsStaging(key string) bool {
	return strings.HasPrefix(key, StagingPrefix)
}

func stagingKey(key string) string {
	return StagingPrefix + key + "-" + uuid.NewString()
}
