// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Flow error classes. Every error a Service returns wraps exactly one of
// these, or is an I/O failure carrying an operation code.
var (
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate")
	ErrNotFound   = errors.New("not found")
	ErrCredential = errors.New("invalid credentials")
	ErrToken      = errors.New("invalid token")
	ErrExpired    = errors.New("token expired")
	ErrCaptcha    = errors.New("captcha failed")
)
