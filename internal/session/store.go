// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session stores IP-bound, fixed-lifetime sessions in a hash of a
// key-value store.
//
// Each session is one field of the namespace hash: the field is the opaque
// session id and the value is an encoded Record. Expiry is evaluated at read
// time; the store itself never expires entries. Bulk invalidation and the
// expiry sweep walk the whole namespace.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/kv"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/user"
)

// Defaults.
const (
	DefaultNamespace = "sessions"
	DefaultLifetime  = 5 * time.Hour
)

// Deletion reasons used for metrics.
const (
	ReasonSignout     = "signout"
	ReasonUserRevoked = "user_revoked"
	ReasonExpired     = "expired"
)

// UserLookup resolves the user a session belongs to.
type UserLookup interface {
	GetByID(ctx context.Context, id ulid.ULID) (*user.User, error)
}

// Recorder receives session lifecycle counts.
type Recorder interface {
	RecordSessionCreated()
	RecordSessionsDeleted(reason string, n int)
}

// Config configures a Store.
type Config struct {
	Namespace string
	Lifetime  time.Duration
}

// Store manages session records.
type Store struct {
	hash      kv.HashStore
	users     UserLookup
	tokens    *token.Generator
	namespace string
	lifetime  time.Duration
	now       func() time.Time
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger sets the logger used for skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store. Zero Config fields take the package defaults.
func NewStore(hash kv.HashStore, users UserLookup, tokens *token.Generator, cfg Config, opts ...Option) (*Store, error) {
	if hash == nil {
		return nil, oops.Errorf("hash store is required")
	}
	if users == nil {
		return nil, oops.Errorf("user lookup is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token generator is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}

	s := &Store{
		hash:      hash,
		users:     users,
		tokens:    tokens,
		namespace: cfg.Namespace,
		lifetime:  cfg.Lifetime,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lifetime returns the configured session lifetime.
func (s *Store) Lifetime() time.Duration {
	return s.lifetime
}

// Create stores a new session for userID bound to ip and returns its id.
func (s *Store) Create(ctx context.Context, userID ulid.ULID, ip string) (string, error) {
	if strings.Contains(ip, recordDelimiter) {
		return "", oops.Code("SESSION_INVALID_IP").
			With("user_id", userID.String()).
			Wrapf(ErrMalformedRecord, "ip must not contain %q", recordDelimiter)
	}

	sid, err := s.tokens.Generate(ctx, token.SessionID(), func(ctx context.Context, candidate string) (bool, error) {
		return s.hash.HExists(ctx, s.namespace, candidate)
	})
	if err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").With("operation", "generate session id").Wrap(err)
	}

	value := Encode(Record{UserID: userID.String(), IP: ip, CreatedAt: s.now()})
	if err := s.hash.HSet(ctx, s.namespace, sid, value); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "write session").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if s.recorder != nil {
		s.recorder.RecordSessionCreated()
	}
	return sid, nil
}

// Validate returns the user owning sessionID when the session exists, has not
// expired, and was created from requestIP. It returns (nil, nil) for every
// invalid session; an error means the stores could not be read.
func (s *Store) Validate(ctx context.Context, sessionID, requestIP string) (*user.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	value, ok, err := s.hash.HGet(ctx, s.namespace, sessionID)
	if err != nil {
		return nil, oops.Code("SESSION_VALIDATE_FAILED").With("operation", "read session").Wrap(err)
	}
	if !ok {
		return nil, nil
	}

	rec, err := Decode(value)
	if err != nil {
		return nil, nil //nolint:nilerr // undecodable sessions are invalid, not failures
	}
	if rec.ExpiredAt(s.now(), s.lifetime) || rec.IP != requestIP {
		return nil, nil
	}

	id, err := ulid.Parse(rec.UserID)
	if err != nil {
		return nil, nil //nolint:nilerr // a foreign user id cannot name a live user
	}

	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "resolve user").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return u, nil
}

// Invalidate deletes sessionID. Deleting an absent session succeeds.
func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	n, err := s.hash.HDel(ctx, s.namespace, sessionID)
	if err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").With("operation", "delete session").Wrap(err)
	}
	s.recordDeleted(ReasonSignout, int(n))
	return nil
}

// InvalidateAllForUser deletes every session belonging to userID and returns
// how many were removed.
func (s *Store) InvalidateAllForUser(ctx context.Context, userID ulid.ULID) (int, error) {
	want := userID.String()
	n, err := s.deleteMatching(ctx, ReasonUserRevoked, func(rec Record) bool {
		return rec.UserID == want
	})
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").With("user_id", want).Wrap(err)
	}
	return n, nil
}

// SweepExpired deletes every session expired at now and returns how many
// were removed. It is safe to call repeatedly and concurrently with other
// session operations.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.deleteMatching(ctx, ReasonExpired, func(rec Record) bool {
		return rec.ExpiredAt(now, s.lifetime)
	})
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}

// deleteMatching scans the namespace, collects sessions for which match is
// true, and deletes them in one call. Malformed entries are skipped.
func (s *Store) deleteMatching(ctx context.Context, reason string, match func(Record) bool) (int, error) {
	var doomed []string
	skipped := 0

	err := s.hash.HScan(ctx, s.namespace, func(field, value string) error {
		rec, err := Decode(value)
		if err != nil {
			skipped++
			return nil
		}
		if match(rec) {
			doomed = append(doomed, field)
		}
		return nil
	})
	if err != nil {
		return 0, oops.With("operation", "scan sessions").With("reason", reason).Wrap(err)
	}
	if skipped > 0 {
		s.logger.WarnContext(ctx, "skipped malformed session records",
			"namespace", s.namespace,
			"reason", reason,
			"count", skipped)
	}

	n, err := s.hash.HDel(ctx, s.namespace, doomed...)
	if err != nil {
		return 0, oops.With("operation", "delete sessions").With("reason", reason).With("count", len(doomed)).Wrap(err)
	}
	s.recordDeleted(reason, int(n))
	return int(n), nil
}

func (s *Store) recordDeleted(reason string, n int) {
	if s.recorder != nil && n > 0 {
		s.recorder.RecordSessionsDeleted(reason, n)
	}
}
