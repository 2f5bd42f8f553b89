// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/accounts/pkg/errutil"
)

// DefaultReadBackoff is the delay before the single retry of a failed read.
const DefaultReadBackoff = 50 * time.Millisecond

// Revocation reasons reported to Metrics.
const (
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonAccountDeleted = "account_deleted"
	RevokeReasonOrphaned       = "orphaned"
)

// Manager orchestrates account and session operations. Every operation is
// atomic from the caller's perspective, and it is the only layer that turns
// repository errors into the caller-facing codes.
type Manager struct {
	users       UserRepository
	sessions    *SessionStore
	codec       *CredentialCodec
	tx          Transactor
	policy      PasswordPolicy
	logger      *slog.Logger
	metrics     Metrics
	now         func() time.Time
	readBackoff time.Duration

	// dummyHash is verified against when a login names an unknown user so
	// both failure paths cost one hash evaluation.
	dummyHash HashRecord
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for operational warnings.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithPasswordPolicy sets the policy applied to new passwords.
func WithPasswordPolicy(policy PasswordPolicy) ManagerOption {
	return func(m *Manager) {
		m.policy = policy
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithReadBackoff sets the delay before retrying a failed read.
func WithReadBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.readBackoff = d
		}
	}
}

// NewManager creates a Manager. It computes a throwaway hash with the
// codec's current parameters, so construction costs one hash evaluation.
func NewManager(users UserRepository, sessions *SessionStore, codec *CredentialCodec, tx Transactor, opts ...ManagerOption) (*Manager, error) {
	if users == nil {
		return nil, oops.Code("MANAGER_INVALID_CONFIG").Errorf("user repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("MANAGER_INVALID_CONFIG").Errorf("session store is required")
	}
	if codec == nil {
		return nil, oops.Code("MANAGER_INVALID_CONFIG").Errorf("credential codec is required")
	}
	if tx == nil {
		return nil, oops.Code("MANAGER_INVALID_CONFIG").Errorf("transactor is required")
	}

	m := &Manager{
		users:       users,
		sessions:    sessions,
		codec:       codec,
		tx:          tx,
		policy:      DefaultPasswordPolicy(),
		logger:      slog.Default(),
		metrics:     noopMetrics{},
		now:         time.Now,
		readBackoff: DefaultReadBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}

	dummy, err := codec.Hash(context.Background(), "unused-"+ulid.Make().String())
	if err != nil {
		return nil, oops.Code("MANAGER_INIT_FAILED").
			With("operation", "compute dummy hash").
			Wrap(err)
	}
	m.dummyHash = dummy
	return m, nil
}

// Register creates an account. Fails with INVALID_INPUT or DUPLICATE_USERNAME.
func (m *Manager) Register(ctx context.Context, username, password string) (_ *User, err error) {
	defer m.observe("register", &err)

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := m.policy.Validate(password); err != nil {
		return nil, err
	}

	hash, err := m.codec.Hash(ctx, password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(username, hash, m.now())
	if err != nil {
		return nil, err
	}

	if err := m.users.Create(ctx, user); err != nil {
		if isDuplicateUsername(err) {
			return nil, DuplicateUsernameError(username)
		}
		return nil, m.failure("register", err)
	}

	m.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords fail identically with INVALID_CREDENTIALS.
func (m *Manager) Login(ctx context.Context, username, password string) (_ *Session, _ Token, err error) {
	defer m.observe("login", &err)

	user, lookupErr := readWithRetry(ctx, m, func(ctx context.Context) (*User, error) {
		return m.users.GetByUsername(ctx, username)
	})

	target := m.dummyHash
	exists := false
	switch {
	case lookupErr == nil:
		target = user.PasswordHash
		exists = true
	case errors.Is(lookupErr, ErrNotFound):
	case errors.Is(lookupErr, ErrCorruptRecord):
		errutil.LogError(m.logger, "unreadable user record at login", lookupErr)
	default:
		return nil, "", m.failure("login", lookupErr)
	}

	ok, verifyErr := m.codec.Verify(ctx, password, target)
	if verifyErr != nil {
		if !errors.Is(verifyErr, ErrCorruptRecord) {
			return nil, "", oops.With("operation", "verify password").Wrap(verifyErr)
		}
		errutil.LogError(m.logger, "unreadable password hash at login", verifyErr)
		ok = false
	}
	if !exists || !ok {
		return nil, "", invalidCredentials()
	}

	if m.codec.NeedsUpgrade(user.PasswordHash) {
		m.upgradeHash(ctx, user, password)
	}

	session, token, err := m.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, "", m.failure("login", err)
	}
	return session, token, nil
}

// ValidateSession resolves a token to its user. Fails with SESSION_INVALID
// when the session is unknown, revoked or expired, or its user is gone.
func (m *Manager) ValidateSession(ctx context.Context, token Token) (_ *User, err error) {
	defer m.observe("validate_session", &err)

	user, _, err := m.authenticate(ctx, token)
	return user, err
}

// ChangePassword replaces the caller's password after re-verifying the old
// one and revokes every session of the user, including the caller's.
func (m *Manager) ChangePassword(ctx context.Context, token Token, oldPassword, newPassword string) (err error) {
	defer m.observe("change_password", &err)

	user, _, err := m.authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := m.checkPassword(ctx, user, oldPassword); err != nil {
		return err
	}
	if err := m.policy.Validate(newPassword); err != nil {
		return err
	}

	hash, err := m.codec.Hash(ctx, newPassword)
	if err != nil {
		return oops.With("operation", "hash password").Wrap(err)
	}

	var revoked int64
	err = m.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := m.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		n, err := m.sessions.RevokeAllForUser(ctx, user.ID)
		revoked = n
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return sessionInvalid()
		}
		return m.failure("change password", err)
	}

	m.metrics.SessionsRevoked(RevokeReasonPasswordChange, revoked)
	m.logger.InfoContext(ctx, "password changed",
		"user_id", user.ID.String(),
		"sessions_revoked", revoked)
	return nil
}

// UpdateProfile applies patch to the caller's account and returns the
// updated public attributes.
func (m *Manager) UpdateProfile(ctx context.Context, token Token, patch ProfilePatch) (_ PublicUser, err error) {
	defer m.observe("update_profile", &err)

	user, _, err := m.authenticate(ctx, token)
	if err != nil {
		return PublicUser{}, err
	}
	if err := patch.Validate(); err != nil {
		return PublicUser{}, err
	}

	updated, err := m.users.UpdateProfile(ctx, user.ID, patch)
	if err != nil {
		switch {
		case isDuplicateUsername(err):
			name, _ := patch.RenameTarget()
			return PublicUser{}, DuplicateUsernameError(name)
		case errors.Is(err, ErrNotFound):
			return PublicUser{}, sessionInvalid()
		case ErrorCode(err) == CodeInvalidInput:
			return PublicUser{}, err
		}
		return PublicUser{}, m.failure("update profile", err)
	}
	return updated.Public(), nil
}

// Logout revokes the session. Idempotent: unknown or already revoked
// tokens succeed.
func (m *Manager) Logout(ctx context.Context, token Token) (err error) {
	defer m.observe("logout", &err)

	if err := m.sessions.Revoke(ctx, token); err != nil {
		return m.failure("logout", err)
	}
	return nil
}

// DeleteAccount removes the caller's account after re-verifying the
// password and revokes all of its sessions.
func (m *Manager) DeleteAccount(ctx context.Context, token Token, password string) (err error) {
	defer m.observe("delete_account", &err)

	user, _, err := m.authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := m.checkPassword(ctx, user, password); err != nil {
		return err
	}

	var revoked int64
	err = m.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := m.users.Delete(ctx, user.ID); err != nil {
			return err
		}
		n, err := m.sessions.RevokeAllForUser(ctx, user.ID)
		revoked = n
		return err
	})
	if err != nil {
		return m.failure("delete account", err)
	}

	m.metrics.SessionsRevoked(RevokeReasonAccountDeleted, revoked)
	m.logger.InfoContext(ctx, "account deleted",
		"user_id", user.ID.String(),
		"sessions_revoked", revoked)
	return nil
}

// GetUser returns the public attributes of the user with the given id.
// Fails with UNKNOWN_USER when there is none.
func (m *Manager) GetUser(ctx context.Context, id string) (_ PublicUser, err error) {
	defer m.observe("get_user", &err)

	uid, parseErr := ulid.ParseStrict(id)
	if parseErr != nil {
		return PublicUser{}, unknownUser()
	}
	user, err := readWithRetry(ctx, m, func(ctx context.Context) (*User, error) {
		return m.users.GetByID(ctx, uid)
	})
	if err != nil {
		return PublicUser{}, m.queryFailure("get user", err)
	}
	return user.Public(), nil
}

// FindUser returns the public attributes of the user with the given
// username (case-insensitive). Fails with UNKNOWN_USER when there is none.
func (m *Manager) FindUser(ctx context.Context, username string) (_ PublicUser, err error) {
	defer m.observe("find_user", &err)

	if ValidateUsername(username) != nil {
		return PublicUser{}, unknownUser()
	}
	user, err := readWithRetry(ctx, m, func(ctx context.Context) (*User, error) {
		return m.users.GetByUsername(ctx, username)
	})
	if err != nil {
		return PublicUser{}, m.queryFailure("find user", err)
	}
	return user.Public(), nil
}

// ListSessions returns the caller's active sessions.
func (m *Manager) ListSessions(ctx context.Context, token Token) (_ []*Session, err error) {
	defer m.observe("list_sessions", &err)

	user, _, err := m.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	sessions, err := readWithRetry(ctx, m, func(ctx context.Context) ([]*Session, error) {
		return m.sessions.ListActive(ctx, user.ID)
	})
	if err != nil {
		return nil, m.failure("list sessions", err)
	}
	return sessions, nil
}

// authenticate resolves token to a live session and its existing user.
// A session whose user no longer exists is revoked as a side effect.
func (m *Manager) authenticate(ctx context.Context, token Token) (*User, *Session, error) {
	session, err := readWithRetry(ctx, m, func(ctx context.Context) (*Session, error) {
		return m.sessions.Lookup(ctx, token)
	})
	if err != nil {
		if ErrorCode(err) == CodeSessionInvalid {
			return nil, nil, sessionInvalid()
		}
		return nil, nil, m.failure("lookup session", err)
	}

	user, err := readWithRetry(ctx, m, func(ctx context.Context) (*User, error) {
		return m.users.GetByID(ctx, session.UserID)
	})
	switch {
	case err == nil:
		return user, session, nil
	case errors.Is(err, ErrNotFound):
		if revokeErr := m.sessions.Revoke(ctx, token); revokeErr != nil {
			errutil.LogError(m.logger, "failed to revoke orphaned session", revokeErr)
		} else {
			m.metrics.SessionsRevoked(RevokeReasonOrphaned, 1)
		}
		return nil, nil, sessionInvalid()
	case errors.Is(err, ErrCorruptRecord):
		errutil.LogError(m.logger, "unreadable user record for session", err)
		return nil, nil, sessionInvalid()
	default:
		return nil, nil, m.failure("resolve session user", err)
	}
}

// checkPassword re-verifies password for an authenticated user.
func (m *Manager) checkPassword(ctx context.Context, user *User, password string) error {
	ok, err := m.codec.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		if !errors.Is(err, ErrCorruptRecord) {
			return oops.With("operation", "verify password").Wrap(err)
		}
		errutil.LogError(m.logger, "unreadable password hash", err)
		return invalidCredentials()
	}
	if !ok {
		return invalidCredentials()
	}
	return nil
}

// upgradeHash re-hashes a legacy or weak record. The write only lands if the
// stored hash is still the one just verified. Failures are logged; the login
// succeeds regardless.
func (m *Manager) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := m.codec.Hash(ctx, password)
	if err != nil {
		errutil.LogError(m.logger, "failed to rehash password", err)
		return
	}
	swapped, err := m.users.UpgradePassword(ctx, user.ID, user.PasswordHash, hash)
	if err != nil {
		errutil.LogError(m.logger, "failed to store upgraded password hash", err)
		return
	}
	if !swapped {
		m.logger.DebugContext(ctx, "password hash changed concurrently; upgrade skipped",
			"user_id", user.ID.String())
		return
	}
	m.logger.InfoContext(ctx, "password hash upgraded",
		"user_id", user.ID.String(),
		"from", user.PasswordHash.Algorithm)
	user.PasswordHash = hash
}

// failure hides corrupt-record details from callers and annotates the rest.
func (m *Manager) failure(operation string, err error) error {
	if errors.Is(err, ErrCorruptRecord) {
		errutil.LogError(m.logger, "unreadable record", err)
		return internalFailure(operation)
	}
	return oops.With("operation", operation).Wrap(err)
}

func (m *Manager) queryFailure(operation string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return unknownUser()
	}
	return m.failure(operation, err)
}

func (m *Manager) observe(operation string, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = ErrorCode(*errp)
		if outcome == "" {
			outcome = "error"
		}
	}
	m.metrics.ObserveOperation(operation, outcome)
}

func isDuplicateUsername(err error) bool {
	return errors.Is(err, ErrDuplicateUsername) || ErrorCode(err) == CodeDuplicateUsername
}

// readWithRetry runs fn and retries it once, after the manager's backoff,
// if it fails with a persistence error.
func readWithRetry[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	backoff := retry.WithMaxRetries(1, retry.NewExponential(m.readBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if IsPersistenceFailure(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}
