package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the distributed locker.
type RedisConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

// DefaultRedisConfig returns the defaults used when fields are zero.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:     "tusdrive:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// Redis is a lease-based lock shared by every instance using the same Redis.
// A held lease is refreshed at a third of its TTL until unlocked, so long
// appends do not lose the lock while the holder is alive.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedis builds a distributed locker.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	defaults := DefaultRedisConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	return &Redis{client: client, cfg: cfg}
}

// KEYS[1] lock key; ARGV[1] token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS[1] lock key; ARGV[1] token, ARGV[2] ttl in milliseconds.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.cfg.KeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.refresh(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
		})
	}, nil
}

func (r *Redis) refresh(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL/3)
			n, err := refreshScript.Run(ctx, r.client, []string{lockKey}, token, r.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				// someone else owns the key now; nothing left to refresh
				return
			}
		}
	}
}
