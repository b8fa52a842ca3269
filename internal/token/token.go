// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package token generates random security tokens that are unique within a
// caller-supplied scope.
//
// Uniqueness is established by repeatedly drawing candidates until an
// ExistsFunc reports the candidate is free. The loop has no cap unless one is
// configured with WithMaxAttempts.
package token

import (
	"context"
	"crypto/rand"
	"errors"
	"io"

	"github.com/samber/oops"
)

// Alphabets used by the token kinds.
const (
	Alphanumeric      = "qwertyuiopasdfghjklzxcvbnmQWERTYUIOPASDFGHJKLZXCVBNM1234567890"
	UpperAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Kind names a token use. It labels metrics and errors.
type Kind string

// Token kinds.
const (
	KindSessionID         Kind = "session_id"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindEmailReset        Kind = "email_reset"
	KindRefCode           Kind = "ref_code"
	KindAPIKey            Kind = "api_key"
)

// ErrTokenSpaceExhausted is returned when a capped generator hits its attempt
// limit without finding a free candidate.
var ErrTokenSpaceExhausted = errors.New("token space exhausted")

// Spec describes the shape of a token.
// Length is the total length including Prefix.
type Spec struct {
	Kind     Kind
	Alphabet string
	Length   int
	Prefix   string
}

// SessionID describes opaque session identifiers.
func SessionID() Spec {
	return Spec{Kind: KindSessionID, Alphabet: Alphanumeric, Length: 128}
}

// EmailVerification describes email verification tokens.
func EmailVerification() Spec {
	return Spec{Kind: KindEmailVerification, Alphabet: Alphanumeric, Length: 128}
}

// PasswordReset describes password reset tokens.
func PasswordReset() Spec {
	return Spec{Kind: KindPasswordReset, Alphabet: Alphanumeric, Length: 128}
}

// EmailReset describes email change tokens.
func EmailReset() Spec {
	return Spec{Kind: KindEmailReset, Alphabet: Alphanumeric, Length: 128}
}

// RefCode describes referral codes.
func RefCode() Spec {
	return Spec{Kind: KindRefCode, Alphabet: UpperAlphanumeric, Length: 6}
}

// APIKey describes API keys. Keys are namespace + "_" + random
// characters, 40 characters in total.
func APIKey(namespace string) Spec {
	return Spec{Kind: KindAPIKey, Alphabet: Alphanumeric, Length: 40, Prefix: namespace + "_"}
}

// ExistsFunc reports whether candidate is already taken in the token's scope.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// CollisionRecorder is notified whenever a candidate collides.
type CollisionRecorder interface {
	RecordTokenCollision(kind string)
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom replaces the randomness source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// WithMaxAttempts caps the number of candidates drawn per Generate call.
// Zero or negative means unbounded.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) { g.maxAttempts = n }
}

// WithCollisionRecorder attaches a collision metric sink.
func WithCollisionRecorder(rec CollisionRecorder) Option {
	return func(g *Generator) { g.recorder = rec }
}

// Generator draws random tokens and retries on collision.
type Generator struct {
	rand        io.Reader
	maxAttempts int
	recorder    CollisionRecorder
}

// NewGenerator creates a Generator backed by crypto/rand unless overridden.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{rand: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a token matching spec for which exists reports false.
// A nil exists skips the uniqueness check.
func (g *Generator) Generate(ctx context.Context, spec Spec, exists ExistsFunc) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		candidate, err := g.draw(spec)
		if err != nil {
			return "", err
		}
		if exists == nil {
			return candidate, nil
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", oops.Code("TOKEN_EXISTS_CHECK_FAILED").
				With("kind", string(spec.Kind)).
				With("attempt", attempt).
				Wrap(err)
		}
		if !taken {
			return candidate, nil
		}

		if g.recorder != nil {
			g.recorder.RecordTokenCollision(string(spec.Kind))
		}
		if g.maxAttempts > 0 && attempt >= g.maxAttempts {
			return "", oops.Code("TOKEN_SPACE_EXHAUSTED").
				With("kind", string(spec.Kind)).
				With("attempts", attempt).
				Wrap(ErrTokenSpaceExhausted)
		}
	}
}

// draw produces one candidate using rejection sampling over random bytes so
// every alphabet character is equally likely.
func (g *Generator) draw(spec Spec) (string, error) {
	n := spec.Length - len(spec.Prefix)
	alphabetLen := len(spec.Alphabet)
	// Largest multiple of alphabetLen that fits in a byte.
	limit := 256 - (256 % alphabetLen)

	out := make([]byte, 0, spec.Length)
	out = append(out, spec.Prefix...)

	buf := make([]byte, n)
	for len(out) < spec.Length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", oops.Code("TOKEN_RANDOM_FAILED").With("kind", string(spec.Kind)).Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, spec.Alphabet[int(b)%alphabetLen])
			if len(out) == spec.Length {
				break
			}
		}
	}
	return string(out), nil
}

func (s Spec) validate() error {
	if len(s.Alphabet) < 2 || len(s.Alphabet) > 256 {
		return oops.Code("TOKEN_SPEC_INVALID").
			With("kind", string(s.Kind)).
			Errorf("alphabet must have between 2 and 256 characters, got %d", len(s.Alphabet))
	}
	if s.Length <= len(s.Prefix) {
		return oops.Code("TOKEN_SPEC_INVALID").
			With("kind", string(s.Kind)).
			Errorf("length %d leaves no room after prefix %q", s.Length, s.Prefix)
	}
	return nil
}
