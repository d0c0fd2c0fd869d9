package dedup

import (
	"context"
	"fmt"

	"github.com/abduss/tusdrive/internal/objectstore"
)

// Backfill records every object in bucket with index, so content stored
// before the index existed is detected as a duplicate. When several objects
// share content, the first one listed becomes the owner. It returns the
// number of objects recorded.
//
// Objects are read without taking resource locks; run it before serving.
func Backfill(ctx context.Context, store objectstore.Store, bucket string, index Recorder) (int, error) {
	keys, err := store.List(ctx, bucket, true)
	if err != nil {
		return 0, fmt.Errorf("list bucket %q: %w", bucket, err)
	}

	recorded := 0
	for _, key := range keys {
		if objectstore.IsStaging(key) {
			continue
		}
		data, err := store.Get(ctx, bucket, key)
		if err != nil {
			if objectstore.IsNotFound(err) {
				continue
			}
			return recorded, fmt.Errorf("read %q: %w", key, err)
		}
		if err := index.Record(ctx, Digest(data), key); err != nil {
			return recorded, fmt.Errorf("record %q: %w", key, err)
		}
		recorded++
	}
	return recorded, nil
}
