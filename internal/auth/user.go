// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// MaxDisplayNameLength bounds the display name in runes.
const MaxDisplayNameLength = 64

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// User is an account record.
type User struct {
	ID           ulid.ULID
	Username     string
	PasswordHash HashRecord `json:"-"`
	DisplayName  string
	Email        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the outward view of a User.
type PublicUser struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUser creates a validated User with a fresh ID and timestamps.
func NewUser(username string, hash HashRecord, now time.Time) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, invalidInput("password_hash", "password hash cannot be empty")
	}
	now = now.UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Public returns the attributes other services may see.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID.String(),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return invalidInput("username", "username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidInput).
			With("field", "username").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidInput).
			With("field", "username").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return invalidInput("username",
			"username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks the address shape. Delivery is not attempted.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return invalidInput("email", "invalid email address")
	}
	return nil
}

// UsernameKey is the case-folded form used for uniqueness.
func UsernameKey(username string) string {
	return strings.ToLower(username)
}

// UserRepository manages user persistence.
//
// Implementations enforce username uniqueness atomically (unique index or
// equivalent), return ErrNotFound-wrapping errors for unknown ids and
// PersistenceError for backend failures.
type UserRepository interface {
	// Create stores a new user. Fails with DUPLICATE_USERNAME when the
	// username is taken (case-insensitive).
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdateProfile applies patch to the user atomically and returns the
	// updated record.
	UpdateProfile(ctx context.Context, id ulid.ULID, patch ProfilePatch) (*User, error)

	// UpdatePassword replaces the password hash and bumps UpdatedAt.
	UpdatePassword(ctx context.Context, id ulid.ULID, hash HashRecord) error

	// UpgradePassword replaces the password hash only if the stored hash
	// still equals current, and reports whether it did. A hash changed in
	// the meantime is left alone.
	UpgradePassword(ctx context.Context, id ulid.ULID, current, replacement HashRecord) (bool, error)

	// Delete removes a user. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id ulid.ULID) error
}
