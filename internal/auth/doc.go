// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the credential and session core of the accounts
// service.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a validated username and password hash
//   - SessionStore.Create - creates a Session and returns its plaintext Token
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types.
//
// # Components
//
//   - CredentialCodec - argon2id hashing, legacy bcrypt verification
//   - TokenService - opaque session tokens and their storage digests
//   - SessionStore - token to session mapping over a SessionRepository
//   - Manager - register, login, session validation, profile and password
//     changes, logout and account deletion
//   - Reaper - periodic purge of expired and revoked sessions
//
// Persistence is behind UserRepository, SessionRepository and Transactor;
// see the postgres and memory subpackages.
package auth
