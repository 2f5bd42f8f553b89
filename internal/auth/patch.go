// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ProfileChange is one mutation of a user's public attributes. The set of
// implementations is closed: Rename, SetDisplayName and SetEmail.
type ProfileChange interface {
	validate() error
	apply(u *User)
}

// Rename changes the username. Uniqueness is enforced by the repository.
type Rename struct {
	Username string
}

func (c Rename) validate() error { return ValidateUsername(c.Username) }
func (c Rename) apply(u *User)   { u.Username = c.Username }

// SetDisplayName replaces the display name. Surrounding whitespace is trimmed.
type SetDisplayName struct {
	DisplayName string
}

func (c SetDisplayName) validate() error {
	name := strings.TrimSpace(c.DisplayName)
	if !utf8.ValidString(name) {
		return invalidInput("display_name", "display name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return invalidInput("display_name", "display name must be at most %d characters", MaxDisplayNameLength)
	}
	return nil
}

func (c SetDisplayName) apply(u *User) { u.DisplayName = strings.TrimSpace(c.DisplayName) }

// SetEmail replaces the email address; an empty Email clears it.
type SetEmail struct {
	Email string
}

func (c SetEmail) validate() error {
	if c.Email == "" {
		return nil
	}
	return ValidateEmail(c.Email)
}

func (c SetEmail) apply(u *User) {
	if c.Email == "" {
		u.Email = nil
		return
	}
	email := c.Email
	u.Email = &email
}

// ProfilePatch is an ordered list of changes applied atomically.
type ProfilePatch []ProfileChange

// Validate checks every change. An empty patch is invalid.
func (p ProfilePatch) Validate() error {
	if len(p) == 0 {
		return invalidInput("patch", "profile patch is empty")
	}
	for _, c := range p {
		if c == nil {
			return invalidInput("patch", "profile patch contains an empty change")
		}
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// RenameTarget returns the final username the patch renames to, if any.
func (p ProfilePatch) RenameTarget() (string, bool) {
	var (
		name string
		ok   bool
	)
	for _, c := range p {
		if r, isRename := c.(Rename); isRename {
			name, ok = r.Username, true
		}
	}
	return name, ok
}

// Apply validates the patch and applies it to u, bumping UpdatedAt.
func (p ProfilePatch) Apply(u *User, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, c := range p {
		c.apply(u)
	}
	u.UpdatedAt = now.UTC()
	return nil
}
