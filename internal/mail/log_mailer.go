// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
)

// LogMailer writes messages to a logger instead of delivering them. Tokens
// are redacted unless links are revealed, which is only meant for local
// development.
type LogMailer struct {
	logger      *slog.Logger
	links       *Links
	revealLinks bool
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger, links *Links, revealLinks bool) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, links: links, revealLinks: revealLinks}
}

// SendVerificationLink implements Mailer.
func (m *LogMailer) SendVerificationLink(ctx context.Context, email, token string) error {
	m.log(ctx, MessageVerificationLink, email, m.links.VerifyEmail(m.token(token)))
	return nil
}

// SendPasswordResetLink implements Mailer.
func (m *LogMailer) SendPasswordResetLink(ctx context.Context, email, token string) error {
	m.log(ctx, MessagePasswordResetLink, email, m.links.ResetPassword(m.token(token)))
	return nil
}

// SendEmailResetLink implements Mailer.
func (m *LogMailer) SendEmailResetLink(ctx context.Context, email, token string) error {
	m.log(ctx, MessageEmailResetLink, email, m.links.ResetEmail(m.token(token)))
	return nil
}

// NotifyNewLogin implements Mailer.
func (m *LogMailer) NotifyNewLogin(ctx context.Context, email, ip string) error {
	m.logger.InfoContext(ctx, "mail", "message", MessageNewLogin, "to", email, "ip", ip)
	return nil
}

func (m *LogMailer) token(t string) string {
	if m.revealLinks {
		return t
	}
	return "REDACTED"
}

func (m *LogMailer) log(ctx context.Context, message, email, link string) {
	m.logger.InfoContext(ctx, "mail", "message", message, "to", email, "link", link)
}
