package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// composeMinSize is the smallest source object the server accepts as a
// non-final part of a compose request.
const composeMinSize = 5 * 1024 * 1024

type minioClient interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// MinIO adapts minio.Client to the Store interface.
type MinIO struct {
	client minioClient
}

// NewMinIO constructs an adapter.
func NewMinIO(client *minio.Client) *MinIO {
	return &MinIO{client: client}
}

func (s *MinIO) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, translateMinIOError("stat object", err)
	}
	return info.Size, nil
}

func (s *MinIO) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError("get object", err)
	}
	defer object.Close()

	// GetObject is lazy; missing keys surface on the first read.
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, translateMinIOError("read object", err)
	}
	return data, nil
}

func (s *MinIO) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *MinIO) List(ctx context.Context, bucket string, recursive bool) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: recursive}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		if IsStaging(info.Key) {
			continue
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func (s *MinIO) Remove(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		err = translateMinIOError("remove object", err)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Append uses server-side compose once the existing object is large enough
// to be a compose source, and rewrites the object below that threshold.
func (s *MinIO) Append(ctx context.Context, bucket, key string, data []byte) (int64, error) {
	size, err := s.Stat(ctx, bucket, key)
	if err != nil {
		if !IsNotFound(err) {
			return 0, err
		}
		if err := s.Put(ctx, bucket, key, data); err != nil {
			return 0, err
		}
		return int64(len(data)), nil
	}
	if len(data) == 0 {
		return size, nil
	}

	if size < composeMinSize {
		existing, err := s.Get(ctx, bucket, key)
		if err != nil && !IsNotFound(err) {
			return 0, err
		}
		grown := append(existing, data...)
		if err := s.Put(ctx, bucket, key, grown); err != nil {
			return 0, err
		}
		return int64(len(grown)), nil
	}

	staged := stagingKey(key)
	if err := s.Put(ctx, bucket, staged, data); err != nil {
		return 0, err
	}
	defer func() {
		_ = s.client.RemoveObject(context.WithoutCancel(ctx), bucket, staged, minio.RemoveObjectOptions{})
	}()

	_, err = s.client.ComposeObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: key},
		minio.CopySrcOptions{Bucket: bucket, Object: key},
		minio.CopySrcOptions{Bucket: bucket, Object: staged},
	)
	if err != nil {
		return 0, fmt.Errorf("compose object: %w", err)
	}
	return size + int64(len(data)), nil
}

func (s *MinIO) Probe(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return nil
}

func translateMinIOError(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
