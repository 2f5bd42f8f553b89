// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultReapGrace is how long expired or revoked sessions are kept before
// the reaper purges them.
const DefaultReapGrace = time.Hour

// maxTokenAttempts bounds token regeneration on digest collision.
const maxTokenAttempts = 3

// SessionStore maps tokens to sessions on top of a SessionRepository.
type SessionStore struct {
	repo   SessionRepository
	tokens *TokenService
	ttl    time.Duration
	grace  time.Duration
	now    func() time.Time
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionTTL sets the absolute session lifetime.
func WithSessionTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithReapGrace sets how long dead sessions are retained before reaping.
func WithReapGrace(grace time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithSessionClock overrides the time source. Intended for tests.
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) {
		s.now = now
	}
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(repo SessionRepository, tokens *TokenService, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		repo:   repo,
		tokens: tokens,
		ttl:    DefaultSessionTTL,
		grace:  DefaultReapGrace,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create issues a token and persists a new session for userID.
// The plaintext token is returned only here; the store keeps its digest.
func (s *SessionStore) Create(ctx context.Context, userID ulid.ULID) (*Session, Token, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, "", oops.Code(CodeInvalidInput).Errorf("user ID cannot be zero")
	}

	for attempt := 1; ; attempt++ {
		token, err := s.tokens.Issue()
		if err != nil {
			return nil, "", err
		}

		now := s.now().UTC()
		session := &Session{
			ID:        ulid.Make(),
			TokenHash: s.tokens.Digest(token),
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttl),
		}

		err = s.repo.Create(ctx, session)
		if err == nil {
			return session, token, nil
		}
		if !errors.Is(err, ErrDuplicateToken) || attempt >= maxTokenAttempts {
			return nil, "", oops.With("operation", "create session").
				With("user_id", userID.String()).
				With("attempt", attempt).
				Wrap(err)
		}
	}
}

// Lookup resolves a token to its session. Malformed, unknown, revoked and
// expired tokens all yield SESSION_INVALID.
func (s *SessionStore) Lookup(ctx context.Context, token Token) (*Session, error) {
	if !s.tokens.ValidateShape(string(token)) {
		return nil, sessionInvalid()
	}

	session, err := s.repo.GetByTokenHash(ctx, s.tokens.Digest(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionInvalid()
		}
		return nil, oops.With("operation", "lookup session").Wrap(err)
	}

	if !session.ActiveAt(s.now()) {
		return nil, sessionInvalid()
	}
	return session, nil
}

// Revoke marks the token's session revoked. Idempotent; malformed tokens
// are ignored.
func (s *SessionStore) Revoke(ctx context.Context, token Token) error {
	if !s.tokens.ValidateShape(string(token)) {
		return nil
	}
	if err := s.repo.Revoke(ctx, s.tokens.Digest(token), s.now().UTC()); err != nil {
		return oops.With("operation", "revoke session").Wrap(err)
	}
	return nil
}

// RevokeAllForUser revokes every session of userID existing at the moment the
// underlying statement executes. Returns the number of sessions revoked.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := s.repo.RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, oops.With("operation", "revoke all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

// ListActive returns the live sessions of userID.
func (s *SessionStore) ListActive(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	sessions, err := s.repo.ListActiveByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, oops.With("operation", "list sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// ReapExpired purges sessions dead for longer than the grace period.
func (s *SessionStore) ReapExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.grace)
	n, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, oops.With("operation", "reap sessions").
			With("cutoff", cutoff).
			Wrap(err)
	}
	return n, nil
}
