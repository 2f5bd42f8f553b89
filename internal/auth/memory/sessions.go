// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/auth"
)

// SessionRepository implements auth.SessionRepository over a Store.
type SessionRepository struct {
	store *Store
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.sessions[session.TokenHash]; exists {
		return auth.DuplicateTokenError()
	}
	r.store.sessions[session.TokenHash] = cloneSession(session)
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	s, ok := r.store.sessions[tokenHash]
	if !ok {
		return nil, auth.NotFoundError("session", "")
	}
	return cloneSession(s), nil
}

// Revoke marks a session revoked.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string, at time.Time) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	s, ok := r.store.sessions[tokenHash]
	if !ok || s.IsRevoked() {
		return nil
	}
	revoked := cloneSession(s)
	revoked.RevokedAt = &at
	r.store.sessions[tokenHash] = revoked
	return nil
}

// RevokeAllForUser marks every unrevoked session of userID revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var n int64
	for hash, s := range r.store.sessions {
		if s.UserID != userID || s.IsRevoked() {
			continue
		}
		revoked := cloneSession(s)
		revoked.RevokedAt = &at
		r.store.sessions[hash] = revoked
		n++
	}
	return n, nil
}

// ListActiveByUser returns the user's live sessions, oldest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var out []*auth.Session
	for _, s := range r.store.sessions {
		if s.UserID == userID && s.ActiveAt(now) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// DeleteExpired removes sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var n int64
	for hash, s := range r.store.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(r.store.sessions, hash)
			n++
		}
	}
	return n, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
