// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/auth"
)

// UserRepository implements auth.UserRepository over a Store.
type UserRepository struct {
	store *Store
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	key := auth.UsernameKey(user.Username)
	if _, taken := r.store.usernames[key]; taken {
		return auth.DuplicateUsernameError(user.Username)
	}
	if _, exists := r.store.users[user.ID]; exists {
		return auth.PersistenceError("create user", errDuplicateID)
	}

	r.store.users[user.ID] = cloneUser(user)
	r.store.usernames[key] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	u, ok := r.store.users[id]
	if !ok {
		return nil, auth.NotFoundError("user", id.String())
	}
	return cloneUser(u), nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	id, ok := r.store.usernames[auth.UsernameKey(username)]
	if !ok {
		return nil, auth.NotFoundError("user", username)
	}
	return cloneUser(r.store.users[id]), nil
}

// UpdateProfile applies patch to the user.
func (r *UserRepository) UpdateProfile(ctx context.Context, id ulid.ULID, patch auth.ProfilePatch) (*auth.User, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.users[id]
	if !ok {
		return nil, auth.NotFoundError("user", id.String())
	}

	updated := cloneUser(current)
	if err := patch.Apply(updated, r.store.now()); err != nil {
		return nil, err
	}

	oldKey := auth.UsernameKey(current.Username)
	newKey := auth.UsernameKey(updated.Username)
	if newKey != oldKey {
		if _, taken := r.store.usernames[newKey]; taken {
			return nil, auth.DuplicateUsernameError(updated.Username)
		}
		delete(r.store.usernames, oldKey)
		r.store.usernames[newKey] = id
	}

	r.store.users[id] = updated
	return cloneUser(updated), nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, hash auth.HashRecord) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.users[id]
	if !ok {
		return auth.NotFoundError("user", id.String())
	}

	updated := cloneUser(current)
	updated.PasswordHash = hash
	updated.UpdatedAt = r.store.now().UTC()
	r.store.users[id] = updated
	return nil
}

// UpgradePassword swaps the password hash if it still matches current.
func (r *UserRepository) UpgradePassword(ctx context.Context, id ulid.ULID, current, replacement auth.HashRecord) (bool, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	stored, ok := r.store.users[id]
	if !ok || stored.PasswordHash.Encode() != current.Encode() {
		return false, nil
	}

	updated := cloneUser(stored)
	updated.PasswordHash = replacement
	updated.UpdatedAt = r.store.now().UTC()
	r.store.users[id] = updated
	return true, nil
}

// Delete removes a user. Unknown ids are ignored.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	u, ok := r.store.users[id]
	if !ok {
		return nil
	}
	delete(r.store.usernames, auth.UsernameKey(u.Username))
	delete(r.store.users, id)
	return nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
