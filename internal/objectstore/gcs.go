package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS implements Store on a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
}

// NewGCS creates a GCS store. opts are passed through to the underlying
// client, allowing credential and endpoint injection.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client}, nil
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}

func (s *GCS) Stat(ctx context.Context, bucket, key string) (int64, error) {
	attrs, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return 0, translateGCSError("object attrs", err)
	}
	return attrs.Size, nil
}

func (s *GCS) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, translateGCSError("open object", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *GCS) Put(ctx context.Context, bucket, key string, data []byte) error {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q: %w", key, err)
	}
	return nil
}

func (s *GCS) List(ctx context.Context, bucket string, recursive bool) ([]string, error) {
	query := &gcs.Query{}
	if !recursive {
		query.Delimiter = "/"
	}

	var keys []string
	it := s.client.Bucket(bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		key := attrs.Name
		if attrs.Prefix != "" {
			key = attrs.Prefix
		}
		if IsStaging(key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *GCS) Remove(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Append stages the chunk as its own object and composes it onto the
// existing one. GCS places no minimum size on compose sources.
func (s *GCS) Append(ctx context.Context, bucket, key string, data []byte) (int64, error) {
	handle := s.client.Bucket(bucket)
	if _, err := s.Stat(ctx, bucket, key); err != nil {
		if !IsNotFound(err) {
			return 0, err
		}
		if err := s.Put(ctx, bucket, key, data); err != nil {
			return 0, err
		}
		return int64(len(data)), nil
	}

	staged := stagingKey(key)
	if err := s.Put(ctx, bucket, staged, data); err != nil {
		return 0, err
	}
	defer func() {
		_ = handle.Object(staged).Delete(context.WithoutCancel(ctx))
	}()

	attrs, err := handle.Object(key).ComposerFrom(handle.Object(key), handle.Object(staged)).Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("compose object: %w", err)
	}
	return attrs.Size, nil
}

func (s *GCS) Probe(ctx context.Context, bucket string) error {
	if _, err := s.client.Bucket(bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs: %w", err)
	}
	return nil
}

func translateGCSError(op string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
