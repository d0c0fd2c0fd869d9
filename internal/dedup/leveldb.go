package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is an embedded index for single-instance deployments. Writes are
// fsynced; a process-wide mutex makes the read-then-write in Reserve atomic.
type LevelDB struct {
	db        *leveldb.DB
	mu        sync.Mutex
	writeOpts *opt.WriteOptions
}

// OpenLevelDB opens (or creates) the index at dir, recovering a corrupted
// database when possible.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", dir, err)
	}
	return &LevelDB{db: db, writeOpts: &opt.WriteOptions{Sync: true}}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) Reserve(ctx context.Context, digest, resourceID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, err := l.get(digestKey(digest))
	if err != nil {
		return "", fmt.Errorf("lookup digest owner: %w", err)
	}
	if owner != "" && owner != resourceID {
		return owner, nil
	}

	batch := new(leveldb.Batch)
	batch.Put(digestKey(digest), []byte(resourceID))
	batch.Put(resourceKey(resourceID), []byte(digest))
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return "", fmt.Errorf("reserve digest: %w", err)
	}
	return "", nil
}

// Commit is a no-op: the reservation is the record.
func (l *LevelDB) Commit(ctx context.Context, digest, resourceID string) error {
	return nil
}

func (l *LevelDB) Record(ctx context.Context, digest, resourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	old, err := l.get(resourceKey(resourceID))
	if err != nil {
		return fmt.Errorf("lookup resource digest: %w", err)
	}
	if old != "" && old != digest {
		owner, err := l.get(digestKey(old))
		if err != nil {
			return fmt.Errorf("lookup digest owner: %w", err)
		}
		if owner == resourceID {
			batch.Delete(digestKey(old))
		}
	}

	owner, err := l.get(digestKey(digest))
	if err != nil {
		return fmt.Errorf("lookup digest owner: %w", err)
	}
	if owner == "" || owner == resourceID {
		batch.Put(digestKey(digest), []byte(resourceID))
		batch.Put(resourceKey(resourceID), []byte(digest))
	} else {
		batch.Delete(resourceKey(resourceID))
	}

	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return fmt.Errorf("record digest: %w", err)
	}
	return nil
}

func (l *LevelDB) Release(ctx context.Context, digest, resourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, err := l.get(digestKey(digest))
	if err != nil {
		return fmt.Errorf("lookup digest owner: %w", err)
	}
	if owner != resourceID {
		return nil
	}

	batch := new(leveldb.Batch)
	batch.Delete(digestKey(digest))
	batch.Delete(resourceKey(resourceID))
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return fmt.Errorf("release digest: %w", err)
	}
	return nil
}

func (l *LevelDB) Forget(ctx context.Context, resourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	digest, err := l.get(resourceKey(resourceID))
	if err != nil {
		return fmt.Errorf("lookup resource digest: %w", err)
	}
	if digest == "" {
		return nil
	}

	batch := new(leveldb.Batch)
	owner, err := l.get(digestKey(digest))
	if err != nil {
		return fmt.Errorf("lookup digest owner: %w", err)
	}
	if owner == resourceID {
		batch.Delete(digestKey(digest))
	}
	batch.Delete(resourceKey(resourceID))
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return fmt.Errorf("forget resource digest: %w", err)
	}
	return nil
}

// get returns "" for a missing key.
func (l *LevelDB) get(key []byte) (string, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func digestKey(digest string) []byte {
	return []byte("d/" + digest)
}

func resourceKey(resourceID string) []byte {
	return []byte("r/" + resourceID)
}
