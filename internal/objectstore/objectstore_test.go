package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Stat(ctx, "files", "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "files", "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "files", "a", []byte("hello")))

	size, err := store.Stat(ctx, "files", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	data, err := store.Get(ctx, "files", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, store.Remove(ctx, "files", "a"))
	require.NoError(t, store.Remove(ctx, "files", "a"), "removing a missing key is not an error")
	_, err = store.Stat(ctx, "files", "a")
	assert.True(t, IsNotFound(err))
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Put(ctx, "files", "a", []byte("abc")))

	data, err := store.Get(ctx, "files", "a")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := store.Get(ctx, "files", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, key := range []string{"b", "a", "dir/x", "dir/y"} {
		require.NoError(t, store.Put(ctx, "files", key, []byte(key)))
	}

	keys, err := store.List(ctx, "files", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "dir/x", "dir/y"}, keys)

	keys, err = store.List(ctx, "files", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "dir/"}, keys)

	keys, err = store.List(ctx, "empty", true)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	size, err := store.Append(ctx, "files", "a", []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	size, err = store.Append(ctx, "files", "a", []byte("cd"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	data, err := store.Get(ctx, "files", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
}

func TestTranslateMinIOError(t *testing.T) {
	err := translateMinIOError("stat object", minio.ErrorResponse{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = translateMinIOError("stat object", minio.ErrorResponse{Code: "AccessDenied"})
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "stat object")
}

func TestMinIOStatAndRemove(t *testing.T) {
	ctx := context.Background()
	client := &fakeMinIO{sizes: map[string]int64{"present": 12}}
	store := &MinIO{client: client}

	size, err := store.Stat(ctx, "files", "present")
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)

	_, err = store.Stat(ctx, "files", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	client.removeErr = minio.ErrorResponse{Code: "NoSuchKey"}
	assert.NoError(t, store.Remove(ctx, "files", "missing"))

	client.removeErr = minio.ErrorResponse{Code: "InternalError"}
	assert.Error(t, store.Remove(ctx, "files", "present"))
}

func TestMinIOAppendComposesLargeObjects(t *testing.T) {
	ctx := context.Background()
	client := &fakeMinIO{sizes: map[string]int64{"big": composeMinSize}}
	store := &MinIO{client: client}

	size, err := store.Append(ctx, "files", "big", []byte("tail"))
	require.NoError(t, err)
	assert.Equal(t, int64(composeMinSize+4), size)

	require.Len(t, client.composed, 2)
	assert.Equal(t, "big", client.composed[0].Object)
	assert.True(t, IsStaging(client.composed[1].Object), client.composed[1].Object)
	assert.Contains(t, client.composed[1].Object, "big-")
	require.Len(t, client.removed, 1)
	assert.Equal(t, client.composed[1].Object, client.removed[0], "staged chunk is cleaned up")
}

func TestMinIOAppendCreatesMissingObject(t *testing.T) {
	ctx := context.Background()
	client := &fakeMinIO{sizes: map[string]int64{}}
	store := &MinIO{client: client}

	size, err := store.Append(ctx, "files", "fresh", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, []string{"fresh"}, client.put)
	assert.Empty(t, client.composed)
}

func TestMinIOListSkipsStagedChunks(t *testing.T) {
	client := &fakeMinIO{sizes: map[string]int64{
		"upload":                        3,
		StagingPrefix + "upload-abc123": 3,
	}}
	store := &MinIO{client: client}

	keys, err := store.List(context.Background(), "files", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"upload"}, keys)
}

func TestMemoryListSkipsStagedChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Put(ctx, "files", "upload", []byte("abc")))
	require.NoError(t, store.Put(ctx, "files", StagingPrefix+"upload-abc123", []byte("abc")))

	for _, recursive := range []bool{true, false} {
		keys, err := store.List(ctx, "files", recursive)
		require.NoError(t, err)
		assert.Equal(t, []string{"upload"}, keys)
	}
}

func TestTranslateS3Error(t *testing.T) {
	err := translateS3Error("head object", &smithy.GenericAPIError{Code: "NotFound"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = translateS3Error("get object", &smithy.GenericAPIError{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = translateS3Error("get object", errors.New("connection reset"))
	assert.False(t, IsNotFound(err))
}

// --- fakes ---

type fakeMinIO struct {
	sizes     map[string]int64
	put       []string
	composed  []minio.CopySrcOptions
	removed   []string
	removeErr error
}

func (f *fakeMinIO) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	size, ok := f.sizes[objectName]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return minio.ObjectInfo{Key: objectName, Size: size}, nil
}

func (f *fakeMinIO) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, minio.ErrorResponse{Code: "NotImplemented"}
}

func (f *fakeMinIO) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.put = append(f.put, objectName)
	f.sizes[objectName] = int64(len(data))
	return minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeMinIO) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.sizes))
	for key, size := range f.sizes {
		ch <- minio.ObjectInfo{Key: key, Size: size}
	}
	close(ch)
	return ch
}

func (f *fakeMinIO) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, objectName)
	delete(f.sizes, objectName)
	return nil
}

func (f *fakeMinIO) ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.composed = append(f.composed, srcs...)
	var total int64
	for _, src := range srcs {
		total += f.sizes[src.Object]
	}
	f.sizes[dst.Object] = total
	return minio.UploadInfo{Key: dst.Object, Size: total}, nil
}

func (f *fakeMinIO) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return true, nil
}
