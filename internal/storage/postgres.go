package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/abduss/tusdrive/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultDBTimeout = 5 * time.Second
	applicationName  = "tusdrive"
)

// NewPostgresPool connects to PostgreSQL using pgx. The pool backs the
// duplicate index only, so it stays small.
func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool for %s@%s: %w", cfg.Database, cfg.Host, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultDBTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s@%s: %w", cfg.Database, cfg.Host, err)
	}

	return pool, nil
}
