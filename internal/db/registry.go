// Package db provides PostgreSQL persistence for reconciled test-case records,
// routed per IHV database target.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Registry manages one connection pool per IHV target. Pools are opened
// lazily, validated before reuse, and closed together via Close.
type Registry struct {
	logger zerolog.Logger
	urls   map[string]string
	pools  map[string]*pgxpool.Pool
}

// NewRegistry creates a Registry from a mapping of IHV identifier to
// PostgreSQL connection URL.
func NewRegistry(logger zerolog.Logger, urls map[string]string) *Registry {
	return &Registry{
		logger: logger,
		urls:   urls,
		pools:  make(map[string]*pgxpool.Pool),
	}
}

// Pool returns a validated connection pool for the given IHV, creating it on
// first use and recreating it if the existing pool no longer responds.
func (r *Registry) Pool(ctx context.Context, ihv string) (*pgxpool.Pool, error) {
	url, ok := r.urls[ihv]
	if !ok {
		return nil, fmt.Errorf("unknown IHV: %s", ihv)
	}

	if pool, ok := r.pools[ihv]; ok {
		if err := pool.Ping(ctx); err == nil {
			return pool, nil
		}
		r.logger.Info().Str("ihv", ihv).Msg("connection no longer valid, recreating")
		pool.Close()
		delete(r.pools, ihv)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", ihv, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", ihv, err)
	}

	r.pools[ihv] = pool
	r.logger.Info().Str("ihv", ihv).Msg("connected to database")
	return pool, nil
}

// Close closes every open pool.
func (r *Registry) Close() {
	for ihv, pool := range r.pools {
		pool.Close()
		r.logger.Info().Str("ihv", ihv).Msg("closed database connection")
		delete(r.pools, ihv)
	}
}
