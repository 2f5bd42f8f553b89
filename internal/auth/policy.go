// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// PasswordPolicy constrains new passwords at registration and change.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireDigit     bool
	RequireMixedCase bool
}

// DefaultPasswordPolicy returns the policy used when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		MaxLength:        128,
		RequireDigit:     true,
		RequireMixedCase: true,
	}
}

// Validate checks password against the policy. Lengths count runes.
func (p PasswordPolicy) Validate(password string) error {
	if password == "" {
		return invalidInput("password", "password cannot be empty")
	}
	if !utf8.ValidString(password) {
		return invalidInput("password", "password must be valid UTF-8")
	}
	if len(password) > MaxPasswordBytes {
		return invalidInput("password", "password exceeds %d bytes", MaxPasswordBytes)
	}

	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("min", p.MinLength).
			Errorf("password must be at least %d characters", p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("max", p.MaxLength).
			Errorf("password must be at most %d characters", p.MaxLength)
	}

	var hasDigit, hasUpper, hasLower bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if p.RequireDigit && !hasDigit {
		return invalidInput("password", "password must contain at least one digit")
	}
	if p.RequireMixedCase && (!hasUpper || !hasLower) {
		return invalidInput("password", "password must contain both upper and lower case letters")
	}
	return nil
}
