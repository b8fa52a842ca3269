// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/captcha"
	"github.com/holomush/authcore/internal/kv"
	"github.com/holomush/authcore/internal/mail"
	"github.com/holomush/authcore/internal/session"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/user"
)

// memRepo is an in-memory user.Repository enforcing username and email
// uniqueness. It stores copies so callers cannot mutate stored records.
type memRepo struct {
	mu        sync.Mutex
	users     map[ulid.ULID]user.User
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[ulid.ULID]user.User{}}
}

func (r *memRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(u) {
		return user.ErrDuplicate
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id ulid.ULID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetByUsernameOrEmail(_ context.Context, identifier string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == identifier || u.Email == identifier {
			return &u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) GetByField(_ context.Context, field user.Field, value string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if fieldValue(&u, field) == value {
			return &u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) Exists(ctx context.Context, field user.Field, value string) (bool, error) {
	_, err := r.GetByField(ctx, field, value)
	if err == user.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *memRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.users[u.ID]; !ok {
		return user.ErrNotFound
	}
	if r.conflicts(u) {
		return user.ErrDuplicate
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memRepo) conflicts(u *user.User) bool {
	for id, other := range r.users {
		if id != u.ID && (other.Username == u.Username || other.Email == u.Email) {
			return true
		}
	}
	return false
}

func (r *memRepo) put(u user.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memRepo) get(t *testing.T, id ulid.ULID) user.User {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	require.True(t, ok, "user %s not stored", id)
	return u
}

// racingRepo never reports a value as taken, as if every check raced a
// concurrent writer. Uniqueness is left to Create and Update.
type racingRepo struct {
	*memRepo
}

func (r *racingRepo) Exists(context.Context, user.Field, string) (bool, error) {
	return false, nil
}

func fieldValue(u *user.User, field user.Field) string {
	switch field {
	case user.FieldUsername:
		return u.Username
	case user.FieldEmail:
		return u.Email
	case user.FieldEmailVerificationToken:
		return u.EmailVerificationToken
	case user.FieldPasswordResetToken:
		return u.PasswordResetToken
	case user.FieldEmailResetToken:
		return u.EmailResetToken
	case user.FieldRefCode:
		return u.RefCode
	case user.FieldAPIKey:
		return u.APIKey
	}
	return ""
}

type sentMail struct {
	message string
	email   string
	value   string
}

// recordingMailer captures every call and optionally fails them.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) record(message, email, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{message: message, email: email, value: value})
	return m.err
}

func (m *recordingMailer) SendVerificationLink(_ context.Context, email, tok string) error {
	return m.record(mail.MessageVerificationLink, email, tok)
}

func (m *recordingMailer) SendPasswordResetLink(_ context.Context, email, tok string) error {
	return m.record(mail.MessagePasswordResetLink, email, tok)
}

func (m *recordingMailer) SendEmailResetLink(_ context.Context, email, tok string) error {
	return m.record(mail.MessageEmailResetLink, email, tok)
}

func (m *recordingMailer) NotifyNewLogin(_ context.Context, email, ip string) error {
	return m.record(mail.MessageNewLogin, email, ip)
}

// last returns the most recent mail of the given kind.
func (m *recordingMailer) last(t *testing.T, message string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].message == message {
			return m.sent[i]
		}
	}
	require.Failf(t, "no mail sent", "message %s", message)
	return sentMail{}
}

func (m *recordingMailer) count(message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.message == message {
			n++
		}
	}
	return n
}

// testEnv wires a Service over miniredis sessions and an in-memory repository.
type testEnv struct {
	svc      *auth.Service
	repo     *memRepo
	sessions *session.Store
	mailer   *recordingMailer
	hasher   auth.PasswordHasher
	logs     *bytes.Buffer
	mr       *miniredis.Miniredis
	now      time.Time
}

func (e *testEnv) clock() time.Time        { return e.now }
func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }
func (e *testEnv) ctx() context.Context    { return context.Background() }
func (e *testEnv) sessionCount(t *testing.T) int {
	t.Helper()
	if !e.mr.Exists(session.DefaultNamespace) {
		return 0
	}
	keys, err := e.mr.HKeys(session.DefaultNamespace)
	require.NoError(t, err)
	return len(keys)
}

func (e *testEnv) user(t *testing.T, id string) user.User {
	t.Helper()
	return e.repo.get(t, ulid.MustParse(id))
}

type envOption func(*auth.Deps)

func withCaptcha(v captcha.Verifier) envOption {
	return func(d *auth.Deps) { d.Captcha = v }
}

func withUsers(repo user.Repository) envOption {
	return func(d *auth.Deps) { d.Users = repo }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		repo:   newMemRepo(),
		mailer: &recordingMailer{},
		hasher: auth.NewLegacyAwareHasher(auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 1, Memory: 1024, Threads: 1, SaltLen: 8, KeyLen: 16,
		})),
		logs: &bytes.Buffer{},
		mr:   mr,
		now:  time.UnixMilli(1_700_000_000_000),
	}

	tokens := token.NewGenerator()
	store, err := session.NewStore(
		kv.NewRedisHashStore(client),
		env.repo,
		tokens,
		session.Config{Lifetime: session.DefaultLifetime},
		session.WithClock(env.clock),
	)
	require.NoError(t, err)
	env.sessions = store

	deps := auth.Deps{
		Users:    env.repo,
		Sessions: store,
		Tokens:   tokens,
		Hasher:   env.hasher,
		Mailer:   env.mailer,
		Captcha:  captcha.Static(true),
		Logger:   slog.New(slog.NewTextHandler(env.logs, nil)),
		Clock:    env.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := auth.NewService(deps, auth.Options{})
	require.NoError(t, err)
	env.svc = svc
	return env
}

func signupInput(username, email string) auth.SignupInput {
	return auth.SignupInput{
		Username:        username,
		Email:           email,
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
		IP:              "203.0.113.5",
		CaptchaProof:    "proof",
	}
}

func (e *testEnv) signup(t *testing.T, username, email string) *auth.Result {
	t.Helper()
	res, err := e.svc.Signup(e.ctx(), signupInput(username, email))
	require.NoError(t, err)
	return res
}
