package tus

import (
	"context"
	"fmt"

	"github.com/abduss/tusdrive/internal/objectstore"
)

// Writer extends a stored object with a chunk and returns the resulting
// size. A missing object counts as empty. Callers serialize writers per key.
type Writer interface {
	Append(ctx context.Context, bucket, key string, chunk []byte) (int64, error)
}

// Writer modes accepted by NewWriter.
const (
	WriterAppend  = "append"
	WriterRewrite = "rewrite"
)

// NewWriter returns the writer for mode, defaulting to append.
func NewWriter(mode string, store objectstore.Store) (Writer, error) {
	switch mode {
	case "", WriterAppend:
		return NewAppendWriter(store), nil
	case WriterRewrite:
		return NewRewriteWriter(store), nil
	default:
		return nil, fmt.Errorf("unknown writer mode %q", mode)
	}
}

// RewriteWriter reads the whole object, concatenates the chunk and writes the
// result back. Cost grows with the object size on every chunk.
type RewriteWriter struct {
	store objectstore.Store
}

func NewRewriteWriter(store objectstore.Store) *RewriteWriter {
	return &RewriteWriter{store: store}
}

func (w *RewriteWriter) Append(ctx context.Context, bucket, key string, chunk []byte) (int64, error) {
	existing, err := w.store.Get(ctx, bucket, key)
	if err != nil {
		if !objectstore.IsNotFound(err) {
			return 0, err
		}
		existing = nil
	}

	combined := make([]byte, 0, len(existing)+len(chunk))
	combined = append(combined, existing...)
	combined = append(combined, chunk...)

	if err := w.store.Put(ctx, bucket, key, combined); err != nil {
		return 0, err
	}
	return int64(len(combined)), nil
}

// AppendWriter uses the store's native append when it has one and falls back
// to rewriting otherwise.
type AppendWriter struct {
	appender objectstore.Appender
	fallback *RewriteWriter
}

func NewAppendWriter(store objectstore.Store) *AppendWriter {
	w := &AppendWriter{fallback: NewRewriteWriter(store)}
	if appender, ok := store.(objectstore.Appender); ok {
		w.appender = appender
	}
	return w
}

func (w *AppendWriter) Append(ctx context.Context, bucket, key string, chunk []byte) (int64, error) {
	if w.appender == nil {
		return w.fallback.Append(ctx, bucket, key, chunk)
	}
	return w.appender.Append(ctx, bucket, key, chunk)
}
