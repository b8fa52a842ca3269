// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/mail"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/user"
)

// ChangePassword replaces the password of userID after checking the current
// one. Other sessions of the user stay valid.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, current, newPassword, confirm string) (user.Profile, error) {
	if err := validateNewPassword(newPassword, confirm); err != nil {
		return user.Profile{}, invalid("change password", err)
	}

	u, err := s.loadUser(ctx, "change password", userID)
	if err != nil {
		return user.Profile{}, err
	}

	valid, err := s.hasher.Verify(current, u.PasswordHash)
	if err != nil {
		return user.Profile{}, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !valid {
		return user.Profile{}, oops.Code("AUTH_INVALID_CREDENTIALS").
			With("operation", "change password").
			With("user_id", userID.String()).
			Wrap(ErrCredential)
	}

	if u.PasswordHash, err = s.hasher.Hash(newPassword); err != nil {
		return user.Profile{}, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	u.UpdatedAt = s.now()

	if err := s.update(ctx, "change password", u); err != nil {
		return user.Profile{}, err
	}
	return u.Profile(), nil
}

// RequestPasswordReset issues a password reset token for the account owning
// email and mails the link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = user.NormalizeIdentifier(email)
	if err := validateEmail(email); err != nil {
		return invalid("request password reset", err)
	}

	u, err := s.users.GetByField(ctx, user.FieldEmail, email)
	if errors.Is(err, user.ErrNotFound) {
		return oops.Code("AUTH_USER_NOT_FOUND").With("operation", "request password reset").Wrap(ErrNotFound)
	}
	if err != nil {
		return oops.Code("AUTH_REQUEST_PASSWORD_RESET_FAILED").With("operation", "get user by email").Wrap(err)
	}

	tok, err := s.generate(ctx, token.PasswordReset(), user.FieldPasswordResetToken)
	if err != nil {
		return oops.Code("AUTH_REQUEST_PASSWORD_RESET_FAILED").With("operation", "generate reset token").Wrap(err)
	}
	now := s.now()
	u.SetPasswordResetToken(tok, now.Add(s.opts.PasswordResetTTL))
	u.UpdatedAt = now

	if err := s.update(ctx, "request password reset", u); err != nil {
		return err
	}

	s.deliver(ctx, mail.MessagePasswordResetLink, u.ID, func() error {
		return s.mailer.SendPasswordResetLink(ctx, u.Email, tok)
	})
	return nil
}

// ResetPasswordComplete consumes a password reset token, sets the new
// password and drops every session of the user.
func (s *Service) ResetPasswordComplete(ctx context.Context, tok, newPassword, confirm string) (user.Profile, error) {
	if err := validateNewPassword(newPassword, confirm); err != nil {
		return user.Profile{}, invalid("reset password", err)
	}

	u, err := s.resolveToken(ctx, "reset password", user.FieldPasswordResetToken, tok,
		func(u *user.User) *time.Time { return u.PasswordResetExpiresAt })
	if err != nil {
		return user.Profile{}, err
	}

	if u.PasswordHash, err = s.hasher.Hash(newPassword); err != nil {
		return user.Profile{}, oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	u.ClearPasswordResetToken()
	u.UpdatedAt = s.now()

	if err := s.update(ctx, "reset password", u); err != nil {
		return user.Profile{}, err
	}

	n, err := s.sessions.InvalidateAllForUser(ctx, u.ID)
	if err != nil {
		return user.Profile{}, oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "invalidate sessions").
			With("user_id", u.ID.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "password reset completed",
		"operation", "reset password",
		"user_id", u.ID.String(),
		"sessions_invalidated", n,
	)
	return u.Profile(), nil
}

// VerifyEmail consumes an email verification token.
func (s *Service) VerifyEmail(ctx context.Context, tok string) (user.Profile, error) {
	u, err := s.resolveToken(ctx, "verify email", user.FieldEmailVerificationToken, tok,
		func(u *user.User) *time.Time { return u.EmailVerificationExpiresAt })
	if err != nil {
		return user.Profile{}, err
	}

	u.EmailVerified = true
	u.ClearEmailVerificationToken()
	u.UpdatedAt = s.now()

	if err := s.update(ctx, "verify email", u); err != nil {
		return user.Profile{}, err
	}
	return u.Profile(), nil
}

// ResendVerificationLink reissues the verification token of an unverified
// account. The previous token stops working.
func (s *Service) ResendVerificationLink(ctx context.Context, userID ulid.ULID) error {
	u, err := s.loadUser(ctx, "resend verification link", userID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return oops.Code("AUTH_ALREADY_VERIFIED").
			With("operation", "resend verification link").
			With("user_id", userID.String()).
			Wrapf(ErrValidation, "email is already verified")
	}

	tok, err := s.issueVerification(ctx, "resend verification link", u)
	if err != nil {
		return err
	}
	if err := s.update(ctx, "resend verification link", u); err != nil {
		return err
	}

	s.deliver(ctx, mail.MessageVerificationLink, u.ID, func() error {
		return s.mailer.SendVerificationLink(ctx, u.Email, tok)
	})
	return nil
}

// RequestEmailReset starts an email change for userID. The link goes to the
// new address; the current address stays in place until it is followed.
func (s *Service) RequestEmailReset(ctx context.Context, userID ulid.ULID, newEmail string) error {
	email := user.NormalizeIdentifier(newEmail)
	if err := validateEmail(email); err != nil {
		return invalid("request email reset", err)
	}

	u, err := s.loadUser(ctx, "request email reset", userID)
	if err != nil {
		return err
	}
	if email == u.Email {
		return oops.Code("AUTH_NO_CHANGES").
			With("operation", "request email reset").
			With("user_id", userID.String()).
			Wrapf(ErrValidation, "email is unchanged")
	}
	if err := s.ensureFree(ctx, "request email reset", user.FieldEmail, email); err != nil {
		return err
	}

	tok, err := s.generate(ctx, token.EmailReset(), user.FieldEmailResetToken)
	if err != nil {
		return oops.Code("AUTH_REQUEST_EMAIL_RESET_FAILED").With("operation", "generate reset token").Wrap(err)
	}
	now := s.now()
	u.SetEmailResetToken(tok, email, now.Add(s.opts.EmailResetTTL))
	u.UpdatedAt = now

	if err := s.update(ctx, "request email reset", u); err != nil {
		return err
	}

	s.deliver(ctx, mail.MessageEmailResetLink, u.ID, func() error {
		return s.mailer.SendEmailResetLink(ctx, email, tok)
	})
	return nil
}

// ResetEmailComplete consumes an email reset token. newEmail must repeat the
// pending address. The account becomes unverified and a verification link is
// mailed to the new address. Sessions are kept.
func (s *Service) ResetEmailComplete(ctx context.Context, tok, newEmail string) (user.Profile, error) {
	email := user.NormalizeIdentifier(newEmail)
	if err := validateEmail(email); err != nil {
		return user.Profile{}, invalid("reset email", err)
	}

	u, err := s.resolveToken(ctx, "reset email", user.FieldEmailResetToken, tok,
		func(u *user.User) *time.Time { return u.EmailResetExpiresAt })
	if err != nil {
		return user.Profile{}, err
	}

	if email != u.PendingEmail {
		return user.Profile{}, oops.Code("AUTH_EMAIL_MISMATCH").
			With("operation", "reset email").
			With("user_id", u.ID.String()).
			Wrapf(ErrValidation, "email does not match the requested address")
	}
	if err := s.ensureFree(ctx, "reset email", user.FieldEmail, email); err != nil {
		return user.Profile{}, err
	}

	u.Email = email
	u.EmailVerified = false
	u.ClearEmailResetToken()
	verification, err := s.issueVerification(ctx, "reset email", u)
	if err != nil {
		return user.Profile{}, err
	}

	if err := s.update(ctx, "reset email", u); err != nil {
		return user.Profile{}, err
	}

	s.deliver(ctx, mail.MessageVerificationLink, u.ID, func() error {
		return s.mailer.SendVerificationLink(ctx, u.Email, verification)
	})
	return u.Profile(), nil
}

// issueVerification sets a fresh verification token on u without persisting it.
func (s *Service) issueVerification(ctx context.Context, operation string, u *user.User) (string, error) {
	tok, err := s.generate(ctx, token.EmailVerification(), user.FieldEmailVerificationToken)
	if err != nil {
		return "", oops.Code(failureCode(operation)).
			With("operation", "generate verification token").
			With("user_id", u.ID.String()).
			Wrap(err)
	}
	now := s.now()
	u.SetEmailVerificationToken(tok, now.Add(s.opts.EmailVerificationTTL))
	u.UpdatedAt = now
	return tok, nil
}

// resolveToken finds the user holding tok in field and checks its expiry.
func (s *Service) resolveToken(
	ctx context.Context,
	operation string,
	field user.Field,
	tok string,
	expiresAt func(*user.User) *time.Time,
) (*user.User, error) {
	if err := validateToken(tok); err != nil {
		return nil, invalid(operation, err)
	}

	u, err := s.users.GetByField(ctx, field, tok)
	if errors.Is(err, user.ErrNotFound) {
		return nil, oops.Code("AUTH_TOKEN_INVALID").With("operation", operation).Wrap(ErrToken)
	}
	if err != nil {
		return nil, oops.Code(failureCode(operation)).
			With("operation", "get user by token").
			With("field", string(field)).
			Wrap(err)
	}

	exp := expiresAt(u)
	if exp == nil || s.now().After(*exp) {
		return nil, oops.Code("AUTH_TOKEN_EXPIRED").
			With("operation", operation).
			With("user_id", u.ID.String()).
			Wrap(ErrExpired)
	}
	return u, nil
}
