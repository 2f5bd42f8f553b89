// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/auth/memory"
	"github.com/holomush/accounts/internal/auth/postgres"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/internal/store"
)

// connectAttempts bounds the initial database ping.
const connectAttempts = 5

// Migrator is the subset of store.Migrator the commands use.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Status() (store.MigrationStatus, error)
	Force(version int) error
	Close() error
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// OpenPool connects to PostgreSQL.
	// Default: store.Open
	OpenPool func(ctx context.Context, cfg store.PoolConfig) (*pgxpool.Pool, error)

	// NewMigrator creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	NewMigrator func(databaseURL string) (Migrator, error)

	// Listen opens the API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.OpenPool == nil {
		out.OpenPool = store.Open
	}
	if out.NewMigrator == nil {
		out.NewMigrator = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}

// backend holds the repositories of the configured storage driver.
type backend struct {
	users    auth.UserRepository
	sessions auth.SessionRepository
	tx       auth.Transactor
	ready    observability.ReadinessChecker
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *Deps) (*backend, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage; accounts will not survive a restart")
		mem := memory.New()
		return &backend{
			users:    mem.Users(),
			sessions: mem.Sessions(),
			tx:       mem.Transactor(),
			close:    func() {},
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL, logger, deps); err != nil {
			return nil, err
		}
	}

	pool, err := deps.OpenPool(ctx, store.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		ConnectAttempts: connectAttempts,
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")

	return &backend{
		users:    postgres.NewUserRepository(pool),
		sessions: postgres.NewSessionRepository(pool),
		tx:       postgres.NewTransactor(pool),
		ready:    func(ctx context.Context) error { return pool.Ping(ctx) },
		close:    pool.Close,
	}, nil
}

func migrateUp(databaseURL string, logger *slog.Logger, deps *Deps) error {
	migrator, err := deps.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	start := time.Now()
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations applied", "duration", time.Since(start))
	return nil
}

// accounts is the wired account domain.
type accounts struct {
	manager  *auth.Manager
	sessions *auth.SessionStore
}

func newAccounts(cfg config.Config, b *backend, logger *slog.Logger, metrics *observability.Metrics) (*accounts, error) {
	codec := auth.NewCredentialCodec(
		auth.WithHashParams(cfg.HashParams()),
		auth.WithMaxConcurrentHashes(cfg.Hashing.MaxConcurrent),
		auth.WithHashObserver(metrics.ObserveHash),
	)
	sessions := newSessionStore(cfg, b)
	manager, err := auth.NewManager(b.users, sessions, codec, b.tx,
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithPasswordPolicy(cfg.PasswordPolicy()),
	)
	if err != nil {
		return nil, err
	}
	return &accounts{manager: manager, sessions: sessions}, nil
}

func newSessionStore(cfg config.Config, b *backend) *auth.SessionStore {
	return auth.NewSessionStore(b.sessions, auth.NewTokenService(),
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithReapGrace(cfg.Session.ReapGrace),
	)
}
