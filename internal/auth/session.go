// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultSessionTTL is the absolute lifetime of a session from issue.
const DefaultSessionTTL = 24 * time.Hour

// Session binds a token to a user for a bounded time.
type Session struct {
	ID        ulid.ULID
	TokenHash string
	UserID    ulid.ULID // non-owning; the user may be deleted independently
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// IsRevoked returns true if the session was explicitly revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpiredAt returns true if the session is expired at t.
// A session is live only while t is strictly before ExpiresAt.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// ActiveAt reports whether the session is neither revoked nor expired at t.
func (s *Session) ActiveAt(t time.Time) bool {
	return !s.IsRevoked() && !s.IsExpiredAt(t)
}

// SessionRepository manages session persistence. Sessions are keyed by the
// digest of their token.
type SessionRepository interface {
	// Create stores a new session atomically. Returns an error wrapping
	// ErrDuplicateToken if the token hash already exists.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash, including revoked
	// and expired ones.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Revoke marks the session revoked at the given time. Revoking an unknown
	// or already revoked session is not an error.
	Revoke(ctx context.Context, tokenHash string, at time.Time) error

	// RevokeAllForUser marks every unrevoked session of userID revoked in a
	// single atomic statement and returns how many were affected.
	RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error)

	// ListActiveByUser returns the user's unrevoked sessions that have not
	// expired at now, oldest first.
	ListActiveByUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*Session, error)

	// DeleteExpired physically removes sessions that expired or were revoked
	// before cutoff and returns the count of deleted records.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
