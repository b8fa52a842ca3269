// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the account state machine: signup, signin,
// signout, password change and reset, email verification and reset, and
// profile edits.
//
// # Services
//
// Service is created with NewService, which rejects nil collaborators. All
// collaborators are interfaces so tests can substitute fakes:
//   - user.Repository - credential records
//   - SessionStore - opaque session ids bound to a user and ip
//   - mail.Mailer - fire-and-forget link delivery
//   - captcha.Verifier - signup bot check
//
// # Errors
//
// Flow errors wrap one of the sentinels in errors.go and carry an oops code,
// so callers can use errors.Is for classification and errutil for logging.
//
// # Sessions
//
// ResetPasswordComplete drops every session of the user. ChangePassword does
// not: the caller already proved knowledge of the current password, and
// other sessions stay valid.
package auth
