// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package user defines the credential record owned by the document store and
// the repository contract the auth core consumes.
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Repository errors.
var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("user already exists")
)

// Role values.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the stored credential record.
// Token fields are either empty or paired with a non-nil expiry.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string

	EmailVerified              bool
	EmailVerificationToken     string
	EmailVerificationExpiresAt *time.Time

	PasswordResetToken     string
	PasswordResetExpiresAt *time.Time

	EmailResetToken     string
	EmailResetExpiresAt *time.Time
	PendingEmail        string

	RefCode    string
	RefFrom    string
	APIKey     string
	Role       string
	Permission string
	Img        string
	LastIP     string

	UsernameChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile is the only representation of a user that leaves the auth core.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	Img           string `json:"img"`
}

// Profile projects u onto its public fields.
func (u *User) Profile() Profile {
	return Profile{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.EmailVerified,
		Role:          u.Role,
		Img:           u.Img,
	}
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SetEmailVerificationToken replaces any pending verification token.
func (u *User) SetEmailVerificationToken(token string, expiresAt time.Time) {
	u.EmailVerificationToken = token
	u.EmailVerificationExpiresAt = &expiresAt
}

// ClearEmailVerificationToken drops the verification token and its expiry.
func (u *User) ClearEmailVerificationToken() {
	u.EmailVerificationToken = ""
	u.EmailVerificationExpiresAt = nil
}

// SetPasswordResetToken replaces any pending password reset token.
func (u *User) SetPasswordResetToken(token string, expiresAt time.Time) {
	u.PasswordResetToken = token
	u.PasswordResetExpiresAt = &expiresAt
}

// ClearPasswordResetToken drops the password reset token and its expiry.
func (u *User) ClearPasswordResetToken() {
	u.PasswordResetToken = ""
	u.PasswordResetExpiresAt = nil
}

// SetEmailResetToken records a pending email change.
func (u *User) SetEmailResetToken(token, pendingEmail string, expiresAt time.Time) {
	u.EmailResetToken = token
	u.EmailResetExpiresAt = &expiresAt
	u.PendingEmail = pendingEmail
}

// ClearEmailResetToken drops the pending email change.
func (u *User) ClearEmailResetToken() {
	u.EmailResetToken = ""
	u.EmailResetExpiresAt = nil
	u.PendingEmail = ""
}

// Field names a uniquely indexed lookup column.
type Field string

// Lookup fields.
const (
	FieldUsername               Field = "username"
	FieldEmail                  Field = "email"
	FieldEmailVerificationToken Field = "email_verification_token"
	FieldPasswordResetToken     Field = "password_reset_token"
	FieldEmailResetToken        Field = "email_reset_token"
	FieldRefCode                Field = "ref_code"
	FieldAPIKey                 Field = "api_key"
)

// Valid reports whether f is one of the lookup fields.
func (f Field) Valid() bool {
	switch f {
	case FieldUsername, FieldEmail, FieldEmailVerificationToken, FieldPasswordResetToken,
		FieldEmailResetToken, FieldRefCode, FieldAPIKey:
		return true
	}
	return false
}

// Repository persists users.
//
// Create and Update return an error wrapping ErrDuplicate when a unique field
// collides. Getters return an error wrapping ErrNotFound when no user matches.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)
	// GetByUsernameOrEmail matches identifier against both username and email.
	GetByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)
	// GetByField looks up by equality on a lookup field.
	GetByField(ctx context.Context, field Field, value string) (*User, error)
	// Exists reports whether any user has value in field.
	Exists(ctx context.Context, field Field, value string) (bool, error)
	Update(ctx context.Context, u *User) error
}

// NormalizeIdentifier collapses whitespace runs, trims, and lowercases a
// username or email.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
