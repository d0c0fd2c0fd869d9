package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	const workers = 20
	var (
		wg       sync.WaitGroup
		inside   int
		maxInner int
		mu       sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "resource")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInner {
				maxInner = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInner, "at most one holder at a time")
}

func TestLocalMutualExclusion(t *testing.T) {
	defer goleak.VerifyNone(t)

	locker := NewLocal()
	exerciseMutualExclusion(t, locker)
	assert.Zero(t, locker.held(), "entries are dropped once released")
}

func TestLocalIndependentKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	locker := NewLocal()
	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	locker := NewLocal()
	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Zero(t, locker.held())
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisMutualExclusion(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedis(client, RedisConfig{RetryInterval: time.Millisecond})
	exerciseMutualExclusion(t, locker)
}

func TestRedisUnlockDeletesOnlyOwnToken(t *testing.T) {
	s, client := setupTestRedis(t)
	locker := NewRedis(client, RedisConfig{KeyPrefix: "lock:"})

	unlock, err := locker.Lock(context.Background(), "res")
	require.NoError(t, err)
	assert.True(t, s.Exists("lock:res"))

	// simulate lease expiry and takeover by another holder
	require.NoError(t, s.Set("lock:res", "someone-else"))
	unlock()

	got, err := s.Get("lock:res")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockHonoursContext(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedis(client, RedisConfig{RetryInterval: time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "res")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "res")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLeaseHasTTL(t *testing.T) {
	s, client := setupTestRedis(t)
	locker := NewRedis(client, RedisConfig{KeyPrefix: "lock:", TTL: 10 * time.Second})

	unlock, err := locker.Lock(context.Background(), "res")
	require.NoError(t, err)
	defer unlock()

	assert.Equal(t, 10*time.Second, s.TTL("lock:res"))
}
