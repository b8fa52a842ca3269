// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail defines the outbound mail contract of the auth core and the
// best-effort dispatcher that decouples flows from delivery.
package mail

import (
	"context"
	"net/url"

	"github.com/samber/oops"
)

// Message names used for logs and metrics.
const (
	MessageVerificationLink  = "verification_link"
	MessagePasswordResetLink = "password_reset_link"
	MessageEmailResetLink    = "email_reset_link"
	MessageNewLogin          = "new_login"
)

// Mailer delivers account notifications.
type Mailer interface {
	SendVerificationLink(ctx context.Context, email, token string) error
	SendPasswordResetLink(ctx context.Context, email, token string) error
	SendEmailResetLink(ctx context.Context, email, token string) error
	NotifyNewLogin(ctx context.Context, email, ip string) error
}

// Links builds the user-facing URLs embedded in messages.
type Links struct {
	base *url.URL
}

// NewLinks parses baseURL, the root of the user interface.
func NewLinks(baseURL string) (*Links, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("base_url", baseURL).Wrap(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("CONFIG_INVALID").With("base_url", baseURL).Errorf("mail base url must be absolute")
	}
	return &Links{base: u}, nil
}

// VerifyEmail returns the email verification link for token.
func (l *Links) VerifyEmail(token string) string {
	return l.base.JoinPath("verify-email", token).String()
}

// ResetPassword returns the password reset link for token.
func (l *Links) ResetPassword(token string) string {
	return l.base.JoinPath("reset-password", token).String()
}

// ResetEmail returns the email change confirmation link for token.
func (l *Links) ResetEmail(token string) string {
	return l.base.JoinPath("reset-email", token).String()
}
