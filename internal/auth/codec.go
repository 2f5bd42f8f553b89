// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxPasswordBytes bounds the input accepted by the codec regardless of the
// configured password policy.
const MaxPasswordBytes = 1024

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// DefaultHashParams are the OWASP-recommended argon2id parameters.
var DefaultHashParams = HashParams{
	Memory:     64 * 1024,
	Iterations: 1,
	Threads:    4,
}

// DefaultMaxConcurrentHashes bounds how many hashes run at once. Each argon2id
// evaluation allocates Params.Memory KiB.
const DefaultMaxConcurrentHashes = 4

// CredentialCodec hashes and verifies passwords.
type CredentialCodec struct {
	params  HashParams
	sem     *semaphore.Weighted
	observe func(op string, elapsed time.Duration)
}

// CodecOption configures a CredentialCodec.
type CodecOption func(*CredentialCodec)

// WithHashParams sets the argon2id parameters used for new hashes.
func WithHashParams(p HashParams) CodecOption {
	return func(c *CredentialCodec) {
		c.params = p
	}
}

// WithMaxConcurrentHashes bounds concurrent hash evaluations.
func WithMaxConcurrentHashes(n int) CodecOption {
	return func(c *CredentialCodec) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithHashObserver registers a callback receiving the duration of every
// hash ("hash") and verification ("verify").
func WithHashObserver(fn func(op string, elapsed time.Duration)) CodecOption {
	return func(c *CredentialCodec) {
		c.observe = fn
	}
}

// NewCredentialCodec creates a codec using argon2id for new hashes.
func NewCredentialCodec(opts ...CodecOption) *CredentialCodec {
	c := &CredentialCodec{
		params: DefaultHashParams,
		sem:    semaphore.NewWeighted(DefaultMaxConcurrentHashes),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params returns the parameters used for new hashes.
func (c *CredentialCodec) Params() HashParams {
	return c.params
}

// Hash produces a salted argon2id record for password.
func (c *CredentialCodec) Hash(ctx context.Context, password string) (HashRecord, error) {
	if password == "" {
		return HashRecord{}, invalidInput("password", "password cannot be empty")
	}
	if len(password) > MaxPasswordBytes {
		return HashRecord{}, invalidInput("password", "password exceeds %d bytes", MaxPasswordBytes)
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return HashRecord{}, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return HashRecord{}, err
	}
	defer release()

	start := time.Now()
	digest := argon2.IDKey([]byte(password), salt, c.params.Iterations, c.params.Memory, c.params.Threads, argon2KeyLen)
	c.record("hash", start)

	return HashRecord{
		Algorithm: AlgorithmArgon2id,
		Version:   argon2.Version,
		Params: HashParams{
			Memory:     c.params.Memory,
			Iterations: c.params.Iterations,
			Threads:    c.params.Threads,
		},
		Salt:   salt,
		Digest: digest,
	}, nil
}

// Verify checks password against rec in constant time.
// Returns (true, nil) on match, (false, nil) on mismatch and a CORRUPT_RECORD
// error when rec cannot be evaluated.
func (c *CredentialCodec) Verify(ctx context.Context, password string, rec HashRecord) (bool, error) {
	switch rec.Algorithm {
	case AlgorithmArgon2id:
		if rec.Params.Threads == 0 || rec.Params.Iterations == 0 || rec.Params.Memory == 0 ||
			len(rec.Salt) == 0 || len(rec.Digest) == 0 {
			return false, CorruptRecordError("verify password", fmt.Errorf("incomplete argon2id parameters"))
		}
		if rec.Params.Memory > MaxArgon2Memory || rec.Params.Iterations > MaxArgon2Iterations {
			return false, CorruptRecordError("verify password", fmt.Errorf("argon2id parameters exceed limits"))
		}
	case AlgorithmBcrypt:
		if len(rec.Digest) == 0 {
			return false, CorruptRecordError("verify password", fmt.Errorf("empty bcrypt digest"))
		}
	default:
		return false, CorruptRecordError("verify password",
			fmt.Errorf("unsupported hash algorithm: %q", rec.Algorithm))
	}

	if password == "" || len(password) > MaxPasswordBytes {
		return false, nil
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	defer c.record("verify", time.Now())

	if rec.Algorithm == AlgorithmBcrypt {
		err := bcrypt.CompareHashAndPassword(rec.Digest, []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
			return false, nil
		default:
			return false, CorruptRecordError("verify bcrypt password", err)
		}
	}

	computed := argon2.IDKey([]byte(password), rec.Salt, rec.Params.Iterations, rec.Params.Memory,
		rec.Params.Threads, uint32(len(rec.Digest))) //nolint:gosec // digest length bounded by ParseHashRecord
	return subtle.ConstantTimeCompare(computed, rec.Digest) == 1, nil
}

// NeedsUpgrade reports whether rec should be replaced by a fresh hash: it
// uses a legacy algorithm or parameters weaker than the current ones.
func (c *CredentialCodec) NeedsUpgrade(rec HashRecord) bool {
	if rec.Algorithm != AlgorithmArgon2id {
		return true
	}
	return rec.Params.Memory < c.params.Memory ||
		rec.Params.Iterations < c.params.Iterations ||
		rec.Params.Threads < c.params.Threads
}

func (c *CredentialCodec) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, oops.Code("AUTH_HASH_CANCELED").
			With("operation", "acquire hashing slot").
			Wrap(err)
	}
	return func() { c.sem.Release(1) }, nil
}

func (c *CredentialCodec) record(op string, start time.Time) {
	if c.observe != nil {
		c.observe(op, time.Since(start))
	}
}
