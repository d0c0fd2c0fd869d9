package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/abduss/tusdrive/internal/config"
	"github.com/abduss/tusdrive/internal/dedup"
	"github.com/abduss/tusdrive/internal/locks"
	"github.com/abduss/tusdrive/internal/objectstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backends holds the object store, duplicate index and locker selected by
// configuration together with the connections backing them.
type Backends struct {
	Store  objectstore.Store
	Index  dedup.Index
	Locker locks.Locker

	// DB and Redis are nil unless a configured component needs them.
	DB    *pgxpool.Pool
	Redis redis.UniversalClient

	closers []func() error
}

// Open connects everything cfg selects. On failure, whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg config.Config) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if cfg.NeedsPostgres() {
		pool, err := NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.DB = pool
		b.onClose(func() error { pool.Close(); return nil })
	}

	if cfg.NeedsRedis() {
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.Redis = client
		b.onClose(client.Close)
	}

	if b.Store, err = b.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if b.Index, err = b.openIndex(cfg); err != nil {
		return nil, err
	}
	b.Locker = b.openLocker(cfg)

	return b, nil
}

// Close releases every connection in reverse order of opening.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backends) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

func (b *Backends) openStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinIO:
		client, err := NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.MinIO.Region); err != nil {
			return nil, err
		}
		return objectstore.NewMinIO(client), nil

	case config.BackendS3:
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return objectstore.NewS3(client), nil

	case config.BackendGCS:
		store, err := objectstore.NewGCS(ctx, GCSOptions(cfg.GCS)...)
		if err != nil {
			return nil, err
		}
		b.onClose(store.Close)
		return store, nil

	case config.BackendMemory:
		return objectstore.NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (b *Backends) openIndex(cfg config.Config) (dedup.Index, error) {
	switch cfg.Dedup.Index {
	case config.IndexScan:
		return dedup.NewScan(b.Store, cfg.Storage.Bucket), nil
	case config.IndexPostgres:
		return dedup.NewPostgres(b.DB), nil
	case config.IndexRedis:
		return dedup.NewRedis(b.Redis, cfg.Dedup.RedisPrefix), nil
	case config.IndexLevelDB:
		index, err := dedup.OpenLevelDB(cfg.Dedup.LevelDBPath)
		if err != nil {
			return nil, err
		}
		b.onClose(index.Close)
		return index, nil
	default:
		return nil, fmt.Errorf("unknown dedup index %q", cfg.Dedup.Index)
	}
}

func (b *Backends) openLocker(cfg config.Config) locks.Locker {
	if cfg.Lock.Backend == config.LockRedis {
		return locks.NewRedis(b.Redis, locks.RedisConfig{
			KeyPrefix: cfg.Lock.RedisPrefix,
			TTL:       cfg.Lock.TTL,
		})
	}
	return locks.NewLocal()
}

// Migrate creates the Postgres index schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return dedup.NewPostgres(pool).EnsureSchema(ctx)
}
