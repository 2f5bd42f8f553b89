// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// Session token format: prefix + base64 raw-URL body of TokenBytes random bytes.
const (
	TokenPrefix     = "hmst_"
	TokenBytes      = 32
	TokenBodyLength = 43 // base64 raw-URL length of 32 bytes
	TokenLength     = len(TokenPrefix) + TokenBodyLength
)

// Token is an opaque session token. It carries no claims; its authority
// comes solely from a live session stored under its digest.
type Token string

// LogValue implements slog.LogValuer so tokens never reach log output.
func (t Token) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// TokenService issues and shape-checks session tokens.
type TokenService struct{}

// NewTokenService creates a TokenService.
func NewTokenService() *TokenService {
	return &TokenService{}
}

// Issue generates a new random token.
func (s *TokenService) Issue() (Token, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	return Token(TokenPrefix + base64.RawURLEncoding.EncodeToString(b)), nil
}

// ValidateShape reports whether s is structurally a token: prefix, length and
// base64 raw-URL alphabet. It does not consult any session state.
func (s *TokenService) ValidateShape(token string) bool {
	if len(token) != TokenLength || !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	for _, c := range token[len(TokenPrefix):] {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Digest returns the hex SHA-256 of token, used as its storage key so a
// leaked sessions table cannot be replayed.
func (s *TokenService) Digest(token Token) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
