// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes carried by oops errors returned from this package and its
// repository implementations. Codes in the first group are surfaced to callers;
// the rest are internal and translated by the Manager.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeUnknownUser        = "UNKNOWN_USER"

	CodeNotFound       = "NOT_FOUND"
	CodeDuplicateToken = "DUPLICATE_TOKEN"
	CodePersistence    = "PERSISTENCE_FAILURE"
	CodeCorruptRecord  = "CORRUPT_RECORD"
	CodeInternal       = "INTERNAL"
)

// Sentinel errors wrapped by repository and codec failures.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUsername is returned when a username is already taken.
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrDuplicateToken is returned when a session token digest collides.
	ErrDuplicateToken = errors.New("session token already exists")

	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrPersistence marks a failure of the backing datastore.
	ErrPersistence = errors.New("persistence failure")
)

// ErrorCode returns the oops code attached to err, or "" if there is none.
func ErrorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// IsPersistenceFailure reports whether err was caused by the backing datastore.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistence) || ErrorCode(err) == CodePersistence
}

func invalidInput(field, format string, args ...any) error {
	return oops.Code(CodeInvalidInput).With("field", field).Errorf(format, args...)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

func sessionInvalid() error {
	return oops.Code(CodeSessionInvalid).Errorf("session is invalid or expired")
}

func unknownUser() error {
	return oops.Code(CodeUnknownUser).Errorf("user not found")
}

// internalFailure replaces a low-level error that must not reach callers.
func internalFailure(operation string) error {
	return oops.Code(CodeInternal).With("operation", operation).Errorf("internal error")
}

// PersistenceError wraps a datastore failure for the named operation.
// Repository implementations use it so callers can tell retryable
// infrastructure failures apart from domain errors.
func PersistenceError(operation string, err error) error {
	return oops.Code(CodePersistence).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrPersistence, err))
}

// CorruptRecordError reports a persisted record that could not be decoded.
func CorruptRecordError(operation string, err error) error {
	return oops.Code(CodeCorruptRecord).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrCorruptRecord, err))
}

// NotFoundError reports a missing entity of the given kind.
func NotFoundError(kind, key string) error {
	return oops.Code(CodeNotFound).
		With("kind", kind).
		With("key", key).
		Wrap(ErrNotFound)
}

// DuplicateUsernameError reports a username uniqueness violation.
func DuplicateUsernameError(username string) error {
	return oops.Code(CodeDuplicateUsername).
		With("username", username).
		Wrap(ErrDuplicateUsername)
}

// DuplicateTokenError reports a session token digest collision.
func DuplicateTokenError() error {
	return oops.Code(CodeDuplicateToken).Wrap(ErrDuplicateToken)
}
