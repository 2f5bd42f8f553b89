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

// usernameIndex is the unique index on lower(username).
const usernameIndex = "users_username_lower_idx"

const userColumns = `id, username, password_hash, display_name, email, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
	now  func() time.Time
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool, now: time.Now}
}

// Create stores a new user. Username uniqueness is enforced by
// users_username_lower_idx, so concurrent registrations cannot both succeed.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		user.ID.String(),
		user.Username,
		user.PasswordHash.Encode(),
		user.DisplayName,
		user.Email,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == usernameIndex {
			return auth.DuplicateUsernameError(user.Username)
		}
		return auth.PersistenceError("insert user", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.NotFoundError("user", id.String())
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(username) = lower($1)
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.NotFoundError("user", username)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateProfile locks the row, applies patch and writes it back in one
// transaction.
func (r *UserRepository) UpdateProfile(ctx context.Context, id ulid.ULID, patch auth.ProfilePatch) (*auth.User, error) {
	var updated *auth.User
	err := inTx(ctx, r.pool, func(ctx context.Context, q querier) error {
		row := q.QueryRow(ctx, `
			SELECT `+userColumns+`
			FROM users
			WHERE id = $1
			FOR UPDATE
		`, id.String())

		user, err := scanUser(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.NotFoundError("user", id.String())
		}
		if err != nil {
			return err
		}

		if err := patch.Apply(user, r.now()); err != nil {
			return err
		}

		_, err = q.Exec(ctx, `
			UPDATE users
			SET username = $2, display_name = $3, email = $4, updated_at = $5
			WHERE id = $1
		`, id.String(), user.Username, user.DisplayName, user.Email, user.UpdatedAt)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok && constraint == usernameIndex {
				return auth.DuplicateUsernameError(user.Username)
			}
			return auth.PersistenceError("update user profile", err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, hash auth.HashRecord) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), hash.Encode(), r.now().UTC())
	if err != nil {
		return auth.PersistenceError("update password hash", err)
	}
	if result.RowsAffected() == 0 {
		return auth.NotFoundError("user", id.String())
	}
	return nil
}

// UpgradePassword swaps the password hash if it still matches current.
func (r *UserRepository) UpgradePassword(ctx context.Context, id ulid.ULID, current, replacement auth.HashRecord) (bool, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), current.Encode(), replacement.Encode(), r.now().UTC())
	if err != nil {
		return false, auth.PersistenceError("upgrade password hash", err)
	}
	return result.RowsAffected() == 1, nil
}

// Delete removes a user. Deleting an unknown id is not an error.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return auth.PersistenceError("delete user", err)
	}
	return nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged for callers to handle.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr       string
		username    string
		hashStr     string
		displayName string
		email       *string
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(&idStr, &username, &hashStr, &displayName, &email, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, auth.PersistenceError("scan user", err)
	}

	id, err := parseID(idStr, "user id")
	if err != nil {
		return nil, err
	}
	hash, err := auth.ParseHashRecord(hashStr)
	if err != nil {
		return nil, err
	}

	return &auth.User{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		DisplayName:  displayName,
		Email:        email,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
