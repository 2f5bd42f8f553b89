// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-memory implementations of the auth
// repositories and Transactor.
//
// A single store-wide mutex serializes all access, which gives the same
// uniqueness and atomicity guarantees the PostgreSQL backend gets from its
// indexes and transactions. Data does not survive a restart.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/auth"
)

// Store holds users and sessions with their secondary indexes.
type Store struct {
	mu sync.Mutex

	// Primary index: user ID -> user
	users map[ulid.ULID]*auth.User
	// Secondary unique index: lower(username) -> user ID
	usernames map[string]ulid.ULID
	// Primary index: token hash -> session
	sessions map[string]*auth.Session

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:     make(map[ulid.ULID]*auth.User),
		usernames: make(map[string]ulid.ULID),
		sessions:  make(map[string]*auth.Session),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Users returns the store's auth.UserRepository.
func (s *Store) Users() *UserRepository {
	return &UserRepository{store: s}
}

// Sessions returns the store's auth.SessionRepository.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

// Transactor returns the store's auth.Transactor.
func (s *Store) Transactor() *Transactor {
	return &Transactor{store: s}
}

var errDuplicateID = errors.New("duplicate id")

type txKey struct{}

// lock acquires the store mutex unless ctx belongs to a transaction of this
// store, which already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users     map[ulid.ULID]*auth.User
	usernames map[string]ulid.ULID
	sessions  map[string]*auth.Session
}

// snapshot copies the maps. Stored values are replaced, never mutated in
// place, so shallow copies suffice.
func (s *Store) snapshot() snapshot {
	return snapshot{
		users:     maps.Clone(s.users),
		usernames: maps.Clone(s.usernames),
		sessions:  maps.Clone(s.sessions),
	}
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.usernames = snap.usernames
	s.sessions = snap.sessions
}

// Transactor implements auth.Transactor for a Store.
type Transactor struct {
	store *Store
}

// InTransaction holds the store lock for the duration of fn. If fn returns
// an error every change it made is rolled back.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == t.store {
		return fn(ctx)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return auth.PersistenceError("begin transaction", err)
	}

	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, t.store)); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

var _ auth.Transactor = (*Transactor)(nil)

func cloneUser(u *auth.User) *auth.User {
	c := *u
	if u.Email != nil {
		email := *u.Email
		c.Email = &email
	}
	return &c
}

func cloneSession(s *auth.Session) *auth.Session {
	c := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}
