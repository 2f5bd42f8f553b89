// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the PostgreSQL connection pool and schema
// migrations for the accounts service.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig configures Open.
type PoolConfig struct {
	URL      string
	MaxConns int32
	// ConnectAttempts bounds how many times the first ping is tried before
	// giving up. Zero means once.
	ConnectAttempts uint64
}

// Open creates a pgx pool for cfg and waits until the database answers a
// ping, backing off exponentially between attempts.
func Open(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	retries := uint64(0)
	if cfg.ConnectAttempts > 1 {
		retries = cfg.ConnectAttempts - 1
	}
	backoff := retry.WithMaxRetries(retries,
		retry.WithCappedDuration(5*time.Second, retry.NewExponential(250*time.Millisecond)))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", retries+1).
			Wrap(err)
	}
	return pool, nil
}
