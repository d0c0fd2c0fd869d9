package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const repoTimeout = 5 * time.Second

// reserveAttempts bounds the insert/select loop when the owning row is
// deleted between the two statements.
const reserveAttempts = 3

// Schema creates the table backing the Postgres index.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_digests (
    digest      TEXT PRIMARY KEY,
    resource_id TEXT NOT NULL,
    committed   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS upload_digests_resource_id_idx ON upload_digests (resource_id);`

type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores the digest relation in a table; the primary key on digest
// makes Reserve atomic across every instance sharing the database.
type Postgres struct {
	pool pgxConn
}

// NewPostgres builds a Postgres index on top of a pgx pool or connection.
func NewPostgres(pool pgxConn) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the index table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create upload_digests: %w", err)
	}
	return nil
}

func (p *Postgres) Reserve(ctx context.Context, digest, resourceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var inserted string
		err := p.pool.QueryRow(ctx, `
INSERT INTO upload_digests (digest, resource_id)
VALUES ($1, $2)
ON CONFLICT (digest) DO NOTHING
RETURNING resource_id;`, digest, resourceID).Scan(&inserted)
		if err == nil {
			return "", nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("reserve digest: %w", err)
		}

		var owner string
		err = p.pool.QueryRow(ctx, `SELECT resource_id FROM upload_digests WHERE digest = $1;`, digest).Scan(&owner)
		if err == nil {
			if owner == resourceID {
				return "", nil
			}
			return owner, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("lookup digest owner: %w", err)
		}
	}
	return "", fmt.Errorf("reserve digest: owner row kept changing after %d attempts", reserveAttempts)
}

func (p *Postgres) Commit(ctx context.Context, digest, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `UPDATE upload_digests SET committed = TRUE WHERE digest = $1 AND resource_id = $2;`, digest, resourceID); err != nil {
		return fmt.Errorf("commit digest: %w", err)
	}
	return nil
}

// Record runs as one statement, so the old row disappears and the new one
// appears together.
func (p *Postgres) Record(ctx context.Context, digest, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
WITH dropped AS (
    DELETE FROM upload_digests WHERE resource_id = $2 AND digest <> $1
)
INSERT INTO upload_digests (digest, resource_id, committed)
VALUES ($1, $2, TRUE)
ON CONFLICT (digest) DO NOTHING;`, digest, resourceID)
	if err != nil {
		return fmt.Errorf("record digest: %w", err)
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, digest, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `DELETE FROM upload_digests WHERE digest = $1 AND resource_id = $2;`, digest, resourceID); err != nil {
		return fmt.Errorf("release digest: %w", err)
	}
	return nil
}

func (p *Postgres) Forget(ctx context.Context, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `DELETE FROM upload_digests WHERE resource_id = $1;`, resourceID); err != nil {
		return fmt.Errorf("forget resource digest: %w", err)
	}
	return nil
}
