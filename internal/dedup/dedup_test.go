package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abduss/tusdrive/internal/objectstore"
)

func TestDigest(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Digest([]byte("abc")))
	assert.Len(t, Digest(nil), 64)
}

// ============================================================================
// Persistent index contract
// ============================================================================

func runIndexContract(t *testing.T, newIndex func(t *testing.T) Index) {
	t.Run("ReserveThenConflict", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		owner, err := idx.Reserve(ctx, digest, "first")
		require.NoError(t, err)
		assert.Empty(t, owner)
		require.NoError(t, idx.Commit(ctx, digest, "first"))

		owner, err = idx.Reserve(ctx, digest, "second")
		require.NoError(t, err)
		assert.Equal(t, "first", owner)
	})

	t.Run("ReserveIsIdempotentForOwner", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		_, err := idx.Reserve(ctx, digest, "owner")
		require.NoError(t, err)
		owner, err := idx.Reserve(ctx, digest, "owner")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})

	t.Run("ReleaseOnlyByOwner", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		_, err := idx.Reserve(ctx, digest, "owner")
		require.NoError(t, err)

		require.NoError(t, idx.Release(ctx, digest, "intruder"))
		owner, err := idx.Reserve(ctx, digest, "other")
		require.NoError(t, err)
		assert.Equal(t, "owner", owner)

		require.NoError(t, idx.Release(ctx, digest, "owner"))
		owner, err = idx.Reserve(ctx, digest, "other")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})

	t.Run("ForgetDropsOwnedDigest", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		_, err := idx.Reserve(ctx, digest, "owner")
		require.NoError(t, err)
		require.NoError(t, idx.Forget(ctx, "owner"))
		require.NoError(t, idx.Forget(ctx, "owner"), "forgetting twice is harmless")

		owner, err := idx.Reserve(ctx, digest, "next")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})

	t.Run("ConcurrentReserveHasOneWinner", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				owner, err := idx.Reserve(ctx, digest, id)
				if err != nil {
					t.Errorf("reserve %s: %v", id, err)
					return
				}
				if owner == "" {
					mu.Lock()
					winners = append(winners, id)
					mu.Unlock()
				}
			}(fmt.Sprintf("worker-%d", i))
		}
		wg.Wait()

		require.Len(t, winners, 1)
	})
}

type recordingIndex interface {
	Index
	Recorder
}

func runRecorderContract(t *testing.T, newIndex func(t *testing.T) recordingIndex) {
	t.Run("RecordReplacesPreviousDigest", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		before := Digest([]byte(uuid.NewString()))
		after := Digest([]byte(uuid.NewString()))

		_, err := idx.Reserve(ctx, before, "res")
		require.NoError(t, err)
		require.NoError(t, idx.Record(ctx, after, "res"))

		owner, err := idx.Reserve(ctx, before, "other")
		require.NoError(t, err)
		assert.Empty(t, owner, "previous digest is released")

		owner, err = idx.Reserve(ctx, after, "another")
		require.NoError(t, err)
		assert.Equal(t, "res", owner)
	})

	t.Run("RecordKeepsExistingOwner", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		_, err := idx.Reserve(ctx, digest, "owner")
		require.NoError(t, err)
		require.NoError(t, idx.Record(ctx, digest, "copy"))
		require.NoError(t, idx.Forget(ctx, "copy"))

		owner, err := idx.Reserve(ctx, digest, "late")
		require.NoError(t, err)
		assert.Equal(t, "owner", owner)
	})

	t.Run("RecordIsIdempotent", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		digest := Digest([]byte(uuid.NewString()))

		require.NoError(t, idx.Record(ctx, digest, "res"))
		require.NoError(t, idx.Record(ctx, digest, "res"))

		owner, err := idx.Reserve(ctx, digest, "other")
		require.NoError(t, err)
		assert.Equal(t, "res", owner)

		require.NoError(t, idx.Forget(ctx, "res"))
		owner, err = idx.Reserve(ctx, digest, "other")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})
}

func newRedisIndex(t *testing.T) *Redis {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "")
}

func newLevelDBIndex(t *testing.T) *LevelDB {
	idx, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRedisIndex(t *testing.T) {
	runIndexContract(t, func(t *testing.T) Index { return newRedisIndex(t) })
	runRecorderContract(t, func(t *testing.T) recordingIndex { return newRedisIndex(t) })
}

func TestRedisIndexKeyLayout(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	idx := NewRedis(client, "test:")
	_, err := idx.Reserve(context.Background(), "abc", "res-1")
	require.NoError(t, err)

	got, err := s.Get("test:digest:abc")
	require.NoError(t, err)
	assert.Equal(t, "res-1", got)
	got, err = s.Get("test:resource:res-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestLevelDBIndex(t *testing.T) {
	runIndexContract(t, func(t *testing.T) Index { return newLevelDBIndex(t) })
	runRecorderContract(t, func(t *testing.T) recordingIndex { return newLevelDBIndex(t) })
}

func TestLevelDBIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := OpenLevelDB(dir)
	require.NoError(t, err)
	_, err = idx.Reserve(ctx, "digest", "owner")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer idx.Close()

	owner, err := idx.Reserve(ctx, "digest", "other")
	require.NoError(t, err)
	assert.Equal(t, "owner", owner)
}

func TestPostgresIndex(t *testing.T) {
	dsn := os.Getenv("TUSDRIVE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TUSDRIVE_TEST_POSTGRES_DSN not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	idx := NewPostgres(pool)
	require.NoError(t, idx.EnsureSchema(context.Background()))

	runIndexContract(t, func(t *testing.T) Index {
		return idx
	})
	runRecorderContract(t, func(t *testing.T) recordingIndex {
		return idx
	})
}

// ============================================================================
// Scan index
// ============================================================================

func TestScanFindsExistingContent(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	require.NoError(t, store.Put(ctx, "files", "existing", []byte("payload")))
	require.NoError(t, store.Put(ctx, "files", "other", []byte("different")))

	idx := NewScan(store, "files")

	owner, err := idx.Reserve(ctx, Digest([]byte("payload")), "new")
	require.NoError(t, err)
	assert.Equal(t, "existing", owner)

	owner, err = idx.Reserve(ctx, Digest([]byte("fresh")), "new")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestScanIgnoresStagedChunks(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	require.NoError(t, store.Put(ctx, "files", objectstore.StagingPrefix+"upload-1", []byte("chunk")))

	owner, err := NewScan(store, "files").Reserve(ctx, Digest([]byte("chunk")), "new")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestScanRemembersPendingReservations(t *testing.T) {
	ctx := context.Background()
	idx := NewScan(objectstore.NewMemory(), "files")
	digest := Digest([]byte("payload"))

	owner, err := idx.Reserve(ctx, digest, "first")
	require.NoError(t, err)
	require.Empty(t, owner)

	owner, err = idx.Reserve(ctx, digest, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", owner, "pending reservation blocks a concurrent duplicate")

	require.NoError(t, idx.Release(ctx, digest, "first"))
	owner, err = idx.Reserve(ctx, digest, "second")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestScanPropagatesStoreFailure(t *testing.T) {
	ctx := context.Background()
	idx := NewScan(failingStore{Memory: objectstore.NewMemory()}, "files")

	_, err := idx.Reserve(ctx, Digest([]byte("x")), "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list bucket")
}

type failingStore struct {
	*objectstore.Memory
}

func (failingStore) List(ctx context.Context, bucket string, recursive bool) ([]string, error) {
	return nil, fmt.Errorf("backend unavailable")
}

// ============================================================================
// Backfill
// ============================================================================

func TestBackfillFirstListedObjectOwnsDigest(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	require.NoError(t, store.Put(ctx, "files", "a", []byte("same")))
	require.NoError(t, store.Put(ctx, "files", "b", []byte("same")))
	require.NoError(t, store.Put(ctx, "files", "c", []byte("unique")))

	idx := newLevelDBIndex(t)
	recorded, err := Backfill(ctx, store, "files", idx)
	require.NoError(t, err)
	assert.Equal(t, 3, recorded)

	owner, err := idx.Reserve(ctx, Digest([]byte("same")), "new")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	owner, err = idx.Reserve(ctx, Digest([]byte("unique")), "new")
	require.NoError(t, err)
	assert.Equal(t, "c", owner)

	recorded, err = Backfill(ctx, store, "files", idx)
	require.NoError(t, err)
	assert.Equal(t, 3, recorded, "running twice is harmless")
}

func TestBackfillPropagatesStoreFailure(t *testing.T) {
	_, err := Backfill(context.Background(), failingStore{Memory: objectstore.NewMemory()}, "files", newLevelDBIndex(t))
	assert.ErrorContains(t, err, "list bucket")
}
