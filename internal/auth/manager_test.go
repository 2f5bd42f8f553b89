// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/auth/memory"
	"github.com/holomush/accounts/pkg/errutil"
)

type managerEnv struct {
	mgr      *auth.Manager
	store    *memory.Store
	sessions *auth.SessionStore
	codec    *auth.CredentialCodec
	clock    *fakeClock
	metrics  *recordingMetrics
	logs     *logCapture
}

func newManagerEnv(t *testing.T, opts ...auth.ManagerOption) *managerEnv {
	t.Helper()
	env := &managerEnv{
		clock:   newFakeClock(),
		metrics: newRecordingMetrics(),
		logs:    &logCapture{},
		codec:   newTestCodec(),
	}
	env.store = memory.New(memory.WithClock(env.clock.Now))
	env.sessions = auth.NewSessionStore(env.store.Sessions(), auth.NewTokenService(),
		auth.WithSessionClock(env.clock.Now))

	opts = append([]auth.ManagerOption{
		auth.WithClock(env.clock.Now),
		auth.WithMetrics(env.metrics),
		auth.WithLogger(slog.New(env.logs)),
	}, opts...)
	mgr, err := auth.NewManager(env.store.Users(), env.sessions, env.codec, env.store.Transactor(), opts...)
	require.NoError(t, err)
	env.mgr = mgr
	return env
}

func (e *managerEnv) register(t *testing.T, username, password string) *auth.User {
	t.Helper()
	user, err := e.mgr.Register(context.Background(), username, password)
	require.NoError(t, err)
	return user
}

func (e *managerEnv) login(t *testing.T, username, password string) auth.Token {
	t.Helper()
	_, token, err := e.mgr.Login(context.Background(), username, password)
	require.NoError(t, err)
	return token
}

func TestNewManager_NilDependencies(t *testing.T) {
	store := memory.New()
	sessions := auth.NewSessionStore(store.Sessions(), auth.NewTokenService())
	codec := newTestCodec()

	tests := []struct {
		name        string
		build       func() (*auth.Manager, error)
		expectError string
	}{
		{"nil users", func() (*auth.Manager, error) {
			return auth.NewManager(nil, sessions, codec, store.Transactor())
		}, "user repository is required"},
		{"nil sessions", func() (*auth.Manager, error) {
			return auth.NewManager(store.Users(), nil, codec, store.Transactor())
		}, "session store is required"},
		{"nil codec", func() (*auth.Manager, error) {
			return auth.NewManager(store.Users(), sessions, nil, store.Transactor())
		}, "credential codec is required"},
		{"nil transactor", func() (*auth.Manager, error) {
			return auth.NewManager(store.Users(), sessions, codec, nil)
		}, "transactor is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, mgr)
			assert.Contains(t, err.Error(), tt.expectError)
			errutil.AssertErrorCode(t, err, "MANAGER_INVALID_CONFIG")
		})
	}
}

func TestManager_WorkedExample(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)

	user, err := env.mgr.Register(ctx, "alice", "Sw0rdfish!")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	session, token, err := env.mgr.Login(ctx, "alice", "Sw0rdfish!")
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), session.ExpiresAt)

	got, err := env.mgr.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, env.mgr.ChangePassword(ctx, token, "Sw0rdfish!", "N3wPass!"))

	_, err = env.mgr.ValidateSession(ctx, token)
	errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
}

func TestManager_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects invalid input before hashing", func(t *testing.T) {
		env := newManagerEnv(t)
		_, err := env.mgr.Register(ctx, "a!", "Sw0rdfish!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)

		_, err = env.mgr.Register(ctx, "alice", "weak")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
		assert.Equal(t, []string{auth.CodeInvalidInput, auth.CodeInvalidInput}, env.metrics.outcomes("register"))
	})

	t.Run("duplicate username differs only by case", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")

		_, err := env.mgr.Register(ctx, "ALICE", "Sw0rdfish!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUsername)
		assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
	})

	t.Run("concurrent registrations admit exactly one", func(t *testing.T) {
		env := newManagerEnv(t)
		const racers = 6

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			codes []string
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.mgr.Register(ctx, "bob", "Sw0rdfish!")
				mu.Lock()
				defer mu.Unlock()
				codes = append(codes, auth.ErrorCode(err))
			}()
		}
		wg.Wait()

		var ok, dupes int
		for _, code := range codes {
			switch code {
			case "":
				ok++
			case auth.CodeDuplicateUsername:
				dupes++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, racers-1, dupes)
	})

	t.Run("custom password policy", func(t *testing.T) {
		env := newManagerEnv(t, auth.WithPasswordPolicy(auth.PasswordPolicy{MinLength: 4}))
		_, err := env.mgr.Register(ctx, "carol", "abcd")
		require.NoError(t, err)
	})
}

func TestManager_RegisterThenLoginRoundTrips(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)

	pairs := []struct{ username, password string }{
		{"alice", "Sw0rdfish!"},
		{"Bob_2", "Passw0rdPassw0rd"},
		{"carol", "Ünïcødé9x"},
	}
	for _, p := range pairs {
		t.Run(p.username, func(t *testing.T) {
			env.register(t, p.username, p.password)
			token := env.login(t, p.username, p.password)

			user, err := env.mgr.ValidateSession(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, p.username, user.Username)
		})
	}
}

func TestManager_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("username is case-insensitive", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		env.login(t, "ALICE", "Sw0rdfish!")
	})

	t.Run("wrong password and unknown user are indistinguishable", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")

		_, wrongToken, wrongErr := env.mgr.Login(ctx, "alice", "wrong-password")
		_, unknownToken, unknownErr := env.mgr.Login(ctx, "mallory", "Sw0rdfish!")

		require.Error(t, wrongErr)
		require.Error(t, unknownErr)
		assert.Empty(t, wrongToken)
		assert.Empty(t, unknownToken)
		assert.Equal(t, wrongErr.Error(), unknownErr.Error())
		errutil.AssertErrorCode(t, wrongErr, auth.CodeInvalidCredentials)
		errutil.AssertErrorCode(t, unknownErr, auth.CodeInvalidCredentials)
		assert.Equal(t, auth.ErrorCode(wrongErr), auth.ErrorCode(unknownErr))
		assert.NotErrorIs(t, unknownErr, auth.ErrNotFound)
	})

	t.Run("unknown user still costs a hash verification", func(t *testing.T) {
		var (
			mu  sync.Mutex
			ops []string
		)
		codec := newTestCodec(auth.WithHashObserver(func(op string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, op)
		}))
		store := memory.New()
		sessions := auth.NewSessionStore(store.Sessions(), auth.NewTokenService())
		mgr, err := auth.NewManager(store.Users(), sessions, codec, store.Transactor())
		require.NoError(t, err)

		_, _, err = mgr.Login(ctx, "nobody", "Sw0rdfish!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"hash", "verify"}, ops, "dummy hash at construction, verify at login")
	})

	t.Run("each login opens a distinct session", func(t *testing.T) {
		env := newManagerEnv(t)
		user := env.register(t, "alice", "Sw0rdfish!")
		first := env.login(t, "alice", "Sw0rdfish!")
		second := env.login(t, "alice", "Sw0rdfish!")
		assert.NotEqual(t, first, second)

		active, err := env.sessions.ListActive(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("upgrades a legacy bcrypt hash", func(t *testing.T) {
		env := newManagerEnv(t)
		legacy, err := bcrypt.GenerateFromPassword([]byte("Sw0rdfish!"), bcrypt.MinCost)
		require.NoError(t, err)
		rec, err := auth.ParseHashRecord(string(legacy))
		require.NoError(t, err)
		user, err := auth.NewUser("legacy", rec, env.clock.Now())
		require.NoError(t, err)
		require.NoError(t, env.store.Users().Create(ctx, user))

		env.login(t, "legacy", "Sw0rdfish!")

		stored, err := env.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.AlgorithmArgon2id, stored.PasswordHash.Algorithm)
		assert.False(t, env.codec.NeedsUpgrade(stored.PasswordHash))
		assert.Contains(t, env.logs.messages(), "password hash upgraded")

		env.login(t, "legacy", "Sw0rdfish!")
	})

	t.Run("corrupt stored hash fails as invalid credentials", func(t *testing.T) {
		env := newManagerEnv(t)
		user, err := auth.NewUser("broken", auth.HashRecord{Algorithm: "md5", Digest: []byte("x")}, env.clock.Now())
		require.NoError(t, err)
		require.NoError(t, env.store.Users().Create(ctx, user))

		_, _, err = env.mgr.Login(ctx, "broken", "Sw0rdfish!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		assert.Contains(t, env.logs.messages(), "unreadable password hash at login")
	})
}

func TestManager_ValidateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("expired session fails without revocation", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		env.clock.Advance(auth.DefaultSessionTTL - time.Second)
		_, err := env.mgr.ValidateSession(ctx, token)
		require.NoError(t, err)

		env.clock.Advance(time.Second)
		_, err = env.mgr.ValidateSession(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("malformed token", func(t *testing.T) {
		env := newManagerEnv(t)
		_, err := env.mgr.ValidateSession(ctx, "bogus")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("orphaned session is revoked", func(t *testing.T) {
		env := newManagerEnv(t)
		user := env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		require.NoError(t, env.store.Users().Delete(ctx, user.ID))

		_, err := env.mgr.ValidateSession(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		assert.Equal(t, int64(1), env.metrics.revokedFor(auth.RevokeReasonOrphaned))

		stored, err := env.store.Sessions().GetByTokenHash(ctx, auth.NewTokenService().Digest(token))
		require.NoError(t, err)
		assert.True(t, stored.IsRevoked())
	})
}

func TestManager_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes every earlier session and accepts the new password", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		caller := env.login(t, "alice", "Sw0rdfish!")
		other := env.login(t, "alice", "Sw0rdfish!")

		require.NoError(t, env.mgr.ChangePassword(ctx, caller, "Sw0rdfish!", "N3wPass!"))

		for _, token := range []auth.Token{caller, other} {
			_, err := env.mgr.ValidateSession(ctx, token)
			errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		}
		assert.Equal(t, int64(2), env.metrics.revokedFor(auth.RevokeReasonPasswordChange))

		_, _, err := env.mgr.Login(ctx, "alice", "Sw0rdfish!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		fresh := env.login(t, "alice", "N3wPass!")
		_, err = env.mgr.ValidateSession(ctx, fresh)
		require.NoError(t, err)
	})

	t.Run("wrong old password changes nothing", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		err := env.mgr.ChangePassword(ctx, token, "guess", "N3wPass!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		_, err = env.mgr.ValidateSession(ctx, token)
		require.NoError(t, err)
		env.login(t, "alice", "Sw0rdfish!")
	})

	t.Run("new password must satisfy the policy", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		err := env.mgr.ChangePassword(ctx, token, "Sw0rdfish!", "short")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
	})

	t.Run("invalid session", func(t *testing.T) {
		env := newManagerEnv(t)
		err := env.mgr.ChangePassword(ctx, "bogus", "Sw0rdfish!", "N3wPass!")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})
}

func TestManager_UpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the patch", func(t *testing.T) {
		env := newManagerEnv(t)
		user := env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		public, err := env.mgr.UpdateProfile(ctx, token, auth.ProfilePatch{
			auth.Rename{Username: "alicia"},
			auth.SetDisplayName{DisplayName: "Alicia"},
		})
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), public.ID)
		assert.Equal(t, "alicia", public.Username)
		assert.Equal(t, "Alicia", public.DisplayName)

		env.login(t, "alicia", "Sw0rdfish!")
		_, _, err = env.mgr.Login(ctx, "alice", "Sw0rdfish!")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("rename onto a taken name", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "bob", "Sw0rdfish!")
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		_, err := env.mgr.UpdateProfile(ctx, token, auth.ProfilePatch{
			auth.SetDisplayName{DisplayName: "Bobby"},
			auth.Rename{Username: "BOB"},
		})
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUsername)

		user, err := env.mgr.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Empty(t, user.DisplayName, "patch is all or nothing")
	})

	t.Run("renaming to a different case of the own name", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		public, err := env.mgr.UpdateProfile(ctx, token, auth.ProfilePatch{auth.Rename{Username: "Alice"}})
		require.NoError(t, err)
		assert.Equal(t, "Alice", public.Username)
	})

	t.Run("invalid patch", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		_, err := env.mgr.UpdateProfile(ctx, token, nil)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
		_, err = env.mgr.UpdateProfile(ctx, token, auth.ProfilePatch{auth.SetEmail{Email: "nope"}})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
	})

	t.Run("invalid session", func(t *testing.T) {
		env := newManagerEnv(t)
		_, err := env.mgr.UpdateProfile(ctx, "bogus", auth.ProfilePatch{auth.SetDisplayName{DisplayName: "x"}})
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})
}

func TestManager_Logout(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)
	env.register(t, "alice", "Sw0rdfish!")
	token := env.login(t, "alice", "Sw0rdfish!")
	other := env.login(t, "alice", "Sw0rdfish!")

	require.NoError(t, env.mgr.Logout(ctx, token))
	_, err := env.mgr.ValidateSession(ctx, token)
	errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)

	require.NoError(t, env.mgr.Logout(ctx, token), "repeat logout")
	require.NoError(t, env.mgr.Logout(ctx, "bogus"), "malformed token")

	_, err = env.mgr.ValidateSession(ctx, other)
	require.NoError(t, err, "logout revokes a single session")
}

func TestManager_DeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the user and every session", func(t *testing.T) {
		env := newManagerEnv(t)
		user := env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")
		other := env.login(t, "alice", "Sw0rdfish!")

		require.NoError(t, env.mgr.DeleteAccount(ctx, token, "Sw0rdfish!"))

		for _, tok := range []auth.Token{token, other} {
			_, err := env.mgr.ValidateSession(ctx, tok)
			errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		}
		_, err := env.mgr.GetUser(ctx, user.ID.String())
		errutil.AssertErrorCode(t, err, auth.CodeUnknownUser)
		assert.Equal(t, int64(2), env.metrics.revokedFor(auth.RevokeReasonAccountDeleted))

		env.register(t, "alice", "Sw0rdfish!")
	})

	t.Run("wrong password keeps the account", func(t *testing.T) {
		env := newManagerEnv(t)
		env.register(t, "alice", "Sw0rdfish!")
		token := env.login(t, "alice", "Sw0rdfish!")

		err := env.mgr.DeleteAccount(ctx, token, "guess")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		_, err = env.mgr.ValidateSession(ctx, token)
		require.NoError(t, err)
	})
}

func TestManager_Queries(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)
	user := env.register(t, "alice", "Sw0rdfish!")

	t.Run("get user", func(t *testing.T) {
		public, err := env.mgr.GetUser(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.Public(), public)
	})

	t.Run("find user", func(t *testing.T) {
		public, err := env.mgr.FindUser(ctx, "Alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), public.ID)
	})

	t.Run("unknown and malformed lookups", func(t *testing.T) {
		for _, id := range []string{ulid.Make().String(), "", "not-a-ulid"} {
			_, err := env.mgr.GetUser(ctx, id)
			errutil.AssertErrorCode(t, err, auth.CodeUnknownUser)
		}
		for _, name := range []string{"mallory", "", "!!"} {
			_, err := env.mgr.FindUser(ctx, name)
			errutil.AssertErrorCode(t, err, auth.CodeUnknownUser)
		}
	})

	t.Run("list sessions", func(t *testing.T) {
		token := env.login(t, "alice", "Sw0rdfish!")
		env.clock.Advance(time.Second)
		second := env.login(t, "alice", "Sw0rdfish!")
		require.NoError(t, env.mgr.Logout(ctx, second))

		sessions, err := env.mgr.ListSessions(ctx, token)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, user.ID, sessions[0].UserID)
	})
}

func TestManager_CanceledContextLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)
	env.register(t, "alice", "Sw0rdfish!")
	token := env.login(t, "alice", "Sw0rdfish!")

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	err := env.mgr.DeleteAccount(canceled, token, "Sw0rdfish!")
	require.Error(t, err)

	_, err = env.mgr.ValidateSession(ctx, token)
	require.NoError(t, err, "nothing was deleted")
	env.login(t, "alice", "Sw0rdfish!")
}

func TestManager_ObservesOutcomes(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)
	env.register(t, "alice", "Sw0rdfish!")
	env.login(t, "alice", "Sw0rdfish!")
	_, _, err := env.mgr.Login(ctx, "alice", "nope")
	require.Error(t, err)

	assert.Equal(t, []string{"ok"}, env.metrics.outcomes("register"))
	assert.Equal(t, []string{"ok", auth.CodeInvalidCredentials}, env.metrics.outcomes("login"))
}

func TestManager_ErrorsDoNotLeakNotFound(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t)
	token, err := auth.NewTokenService().Issue()
	require.NoError(t, err)

	calls := []func() error{
		func() error { _, err := env.mgr.ValidateSession(ctx, token); return err },
		func() error { return env.mgr.ChangePassword(ctx, token, "Sw0rdfish!", "N3wPass!") },
		func() error { return env.mgr.DeleteAccount(ctx, token, "Sw0rdfish!") },
		func() error { _, err := env.mgr.ListSessions(ctx, token); return err },
		func() error { _, _, err := env.mgr.Login(ctx, "ghost", "Sw0rdfish!"); return err },
	}
	for _, call := range calls {
		err := call()
		require.Error(t, err)
		assert.False(t, errors.Is(err, auth.ErrNotFound), "raw not-found leaked: %v", err)
		assert.NotEqual(t, auth.CodeNotFound, auth.ErrorCode(err))
	}
}
