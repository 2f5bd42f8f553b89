// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/auth"
)

const sessionColumns = `id, token_hash, user_id, issued_at, expires_at, revoked_at`

// sessionsPrimaryKey is the primary key constraint on token_hash.
const sessionsPrimaryKey = "sessions_pkey"

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session in a single INSERT, so a concurrent lookup
// sees either nothing or the whole row.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		session.ID.String(),
		session.TokenHash,
		session.UserID.String(),
		session.IssuedAt,
		session.ExpiresAt,
		session.RevokedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == sessionsPrimaryKey {
			return auth.DuplicateTokenError()
		}
		return auth.PersistenceError("insert session", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.NotFoundError("session", "")
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Revoke marks a session revoked. Unknown and already revoked sessions are
// left untouched.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash, at)
	if err != nil {
		return auth.PersistenceError("revoke session", err)
	}
	return nil
}

// RevokeAllForUser revokes every unrevoked session of userID. The UPDATE is
// the linearization point: sessions committed before it are revoked, later
// ones are not.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID.String(), at)
	if err != nil {
		return 0, auth.PersistenceError("revoke user sessions", err)
	}
	return result.RowsAffected(), nil
}

// ListActiveByUser returns the user's live sessions, oldest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY issued_at
	`, userID.String(), now)
	if err != nil {
		return nil, auth.PersistenceError("list user sessions", err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.PersistenceError("iterate session rows", err)
	}
	return sessions, nil
}

// DeleteExpired removes sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR revoked_at < $1
	`, cutoff)
	if err != nil {
		return 0, auth.PersistenceError("delete expired sessions", err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// pgx.ErrNoRows is returned unchanged for callers to handle.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr     string
		tokenHash string
		userIDStr string
		issuedAt  time.Time
		expiresAt time.Time
		revokedAt *time.Time
	)

	err := row.Scan(&idStr, &tokenHash, &userIDStr, &issuedAt, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, auth.PersistenceError("scan session", err)
	}

	id, err := parseID(idStr, "session id")
	if err != nil {
		return nil, err
	}
	userID, err := parseID(userIDStr, "session user id")
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		ID:        id,
		TokenHash: tokenHash,
		UserID:    userID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		RevokedAt: revokedAt,
	}, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
