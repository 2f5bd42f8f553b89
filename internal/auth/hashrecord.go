// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm identifies the password hashing scheme of a HashRecord.
type Algorithm string

// Supported algorithms. Bcrypt is accepted for verification only; records
// using it are re-hashed with argon2id on the next successful login.
const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Upper bounds on argon2id cost parameters. A stored record above either
// ceiling is treated as corrupt rather than evaluated.
const (
	MaxArgon2Memory     uint32 = 4 * 1024 * 1024 // KiB, 4 GiB
	MaxArgon2Iterations uint32 = 16
)

// HashParams holds the cost parameters of a hash record.
type HashParams struct {
	Memory     uint32 // argon2 memory in KiB
	Iterations uint32 // argon2 passes
	Threads    uint8  // argon2 parallelism
	Cost       int    // bcrypt cost
}

// HashRecord is a decoded password hash: the algorithm tag, its parameters,
// the salt and the digest. Verification dispatches on Algorithm.
type HashRecord struct {
	Algorithm Algorithm
	Version   int
	Params    HashParams
	Salt      []byte
	// Digest is the raw key for argon2id and the full modular-crypt
	// string for bcrypt, which embeds its own salt.
	Digest []byte
}

// IsZero reports whether the record is empty.
func (r HashRecord) IsZero() bool {
	return r.Algorithm == "" && len(r.Digest) == 0
}

// Encode returns the storage form of the record: a PHC string for argon2id
// ($argon2id$v=19$m=65536,t=1,p=4$<salt>$<digest>) or the bcrypt string.
func (r HashRecord) Encode() string {
	switch r.Algorithm {
	case AlgorithmArgon2id:
		return fmt.Sprintf(
			"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
			r.Version,
			r.Params.Memory,
			r.Params.Iterations,
			r.Params.Threads,
			base64.RawStdEncoding.EncodeToString(r.Salt),
			base64.RawStdEncoding.EncodeToString(r.Digest),
		)
	case AlgorithmBcrypt:
		return string(r.Digest)
	default:
		return ""
	}
}

// String never exposes salt or digest.
func (r HashRecord) String() string {
	return "hashrecord(" + string(r.Algorithm) + ")"
}

// LogValue implements slog.LogValuer.
func (r HashRecord) LogValue() slog.Value {
	return slog.GroupValue(slog.String("algorithm", string(r.Algorithm)))
}

// ParseHashRecord decodes a stored hash string. Malformed input yields a
// CORRUPT_RECORD error.
func ParseHashRecord(encoded string) (HashRecord, error) {
	if isBcryptHash(encoded) {
		cost, err := bcrypt.Cost([]byte(encoded))
		if err != nil {
			return HashRecord{}, CorruptRecordError("parse bcrypt hash", err)
		}
		return HashRecord{
			Algorithm: AlgorithmBcrypt,
			Params:    HashParams{Cost: cost},
			Digest:    []byte(encoded),
		}, nil
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return HashRecord{}, CorruptRecordError("parse hash record", fmt.Errorf("invalid hash format"))
	}

	if Algorithm(parts[1]) != AlgorithmArgon2id {
		return HashRecord{}, CorruptRecordError("parse hash record",
			fmt.Errorf("unsupported hash algorithm: %s", parts[1]))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return HashRecord{}, CorruptRecordError("parse hash version", err)
	}
	if version != argon2.Version {
		return HashRecord{}, CorruptRecordError("parse hash version",
			fmt.Errorf("unsupported argon2 version %d", version))
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return HashRecord{}, CorruptRecordError("parse hash parameters", err)
	}
	// threads is a uint8 in argon2; reject instead of truncating.
	if threads == 0 || threads > 255 {
		return HashRecord{}, CorruptRecordError("parse hash parameters",
			fmt.Errorf("threads value %d out of range", threads))
	}
	if memory == 0 || iterations == 0 {
		return HashRecord{}, CorruptRecordError("parse hash parameters",
			fmt.Errorf("memory and iterations must be positive"))
	}
	if memory > MaxArgon2Memory || iterations > MaxArgon2Iterations {
		return HashRecord{}, CorruptRecordError("parse hash parameters",
			fmt.Errorf("cost parameters m=%d,t=%d exceed limits", memory, iterations))
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return HashRecord{}, CorruptRecordError("decode hash salt", err)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return HashRecord{}, CorruptRecordError("decode hash digest", err)
	}
	if len(salt) == 0 || len(digest) == 0 || len(digest) > 1024 {
		return HashRecord{}, CorruptRecordError("parse hash record",
			fmt.Errorf("invalid salt or digest length"))
	}

	return HashRecord{
		Algorithm: AlgorithmArgon2id,
		Version:   version,
		Params: HashParams{
			Memory:     memory,
			Iterations: iterations,
			Threads:    uint8(threads),
		},
		Salt:   salt,
		Digest: digest,
	}, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
