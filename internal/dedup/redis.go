package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces index keys.
const DefaultRedisPrefix = "tusdrive:dedup:"

// Redis keeps two keyspaces: digest -> owner and owner -> digest. Every
// mutation runs as a Lua script so the pair is updated atomically.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis builds a Redis-backed index. An empty prefix selects
// DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// KEYS[1] digest key, KEYS[2] resource key; ARGV[1] resource id, ARGV[2] digest.
var reserveScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner then
  return owner
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return ''
`)

// KEYS[1] digest key, KEYS[2] resource key; ARGV[1] resource id.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

// KEYS[1] resource key; ARGV[1] digest key prefix, ARGV[2] resource id.
var forgetScript = redis.NewScript(`
local digest = redis.call('GET', KEYS[1])
if not digest then
  return 0
end
local dkey = ARGV[1] .. digest
if redis.call('GET', dkey) == ARGV[2] then
  redis.call('DEL', dkey)
end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1] resource key, KEYS[2] digest key; ARGV[1] digest key prefix,
// ARGV[2] resource id, ARGV[3] digest.
var recordScript = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
if old and old ~= ARGV[3] then
  local okey = ARGV[1] .. old
  if redis.call('GET', okey) == ARGV[2] then
    redis.call('DEL', okey)
  end
end
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[2] then
  redis.call('DEL', KEYS[1])
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[3])
return 1
`)

func (r *Redis) Reserve(ctx context.Context, digest, resourceID string) (string, error) {
	owner, err := reserveScript.Run(ctx, r.client,
		[]string{r.digestKey(digest), r.resourceKey(resourceID)},
		resourceID, digest,
	).Text()
	if err != nil {
		return "", fmt.Errorf("reserve digest: %w", err)
	}
	if owner == resourceID {
		return "", nil
	}
	return owner, nil
}

// Commit is a no-op: the reservation is the record.
func (r *Redis) Commit(ctx context.Context, digest, resourceID string) error {
	return nil
}

func (r *Redis) Record(ctx context.Context, digest, resourceID string) error {
	err := recordScript.Run(ctx, r.client,
		[]string{r.resourceKey(resourceID), r.digestKey(digest)},
		r.prefix+"digest:", resourceID, digest,
	).Err()
	if err != nil {
		return fmt.Errorf("record digest: %w", err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, digest, resourceID string) error {
	err := releaseScript.Run(ctx, r.client,
		[]string{r.digestKey(digest), r.resourceKey(resourceID)},
		resourceID,
	).Err()
	if err != nil {
		return fmt.Errorf("release digest: %w", err)
	}
	return nil
}

func (r *Redis) Forget(ctx context.Context, resourceID string) error {
	err := forgetScript.Run(ctx, r.client,
		[]string{r.resourceKey(resourceID)},
		r.prefix+"digest:", resourceID,
	).Err()
	if err != nil {
		return fmt.Errorf("forget resource digest: %w", err)
	}
	return nil
}

func (r *Redis) digestKey(digest string) string {
	return r.prefix + "digest:" + digest
}

func (r *Redis) resourceKey(resourceID string) string {
	return r.prefix + "resource:" + resourceID
}
