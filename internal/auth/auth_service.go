// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/captcha"
	"github.com/holomush/authcore/internal/mail"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/user"
	"github.com/holomush/authcore/pkg/errutil"
)

// Default token lifetimes and limits.
const (
	DefaultEmailVerificationTTL   = 24 * time.Hour
	DefaultPasswordResetTTL       = time.Hour
	DefaultEmailResetTTL          = time.Hour
	DefaultUsernameChangeInterval = 30 * 24 * time.Hour
	DefaultAPIKeyNamespace        = "authcore"
)

// SessionStore issues and resolves opaque session ids.
// *session.Store satisfies it.
type SessionStore interface {
	Create(ctx context.Context, userID ulid.ULID, ip string) (string, error)
	Validate(ctx context.Context, sessionID, requestIP string) (*user.User, error)
	Invalidate(ctx context.Context, sessionID string) error
	InvalidateAllForUser(ctx context.Context, userID ulid.ULID) (int, error)
}

// Deps are the collaborators of a Service. Logger and Clock are optional.
type Deps struct {
	Users    user.Repository
	Sessions SessionStore
	Tokens   *token.Generator
	Hasher   PasswordHasher
	Mailer   mail.Mailer
	Captcha  captcha.Verifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Options tune token lifetimes. Zero values take the package defaults.
type Options struct {
	EmailVerificationTTL   time.Duration
	PasswordResetTTL       time.Duration
	EmailResetTTL          time.Duration
	UsernameChangeInterval time.Duration
	APIKeyNamespace        string
}

func (o Options) withDefaults() Options {
	if o.EmailVerificationTTL <= 0 {
		o.EmailVerificationTTL = DefaultEmailVerificationTTL
	}
	if o.PasswordResetTTL <= 0 {
		o.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if o.EmailResetTTL <= 0 {
		o.EmailResetTTL = DefaultEmailResetTTL
	}
	if o.UsernameChangeInterval <= 0 {
		o.UsernameChangeInterval = DefaultUsernameChangeInterval
	}
	if o.APIKeyNamespace == "" {
		o.APIKeyNamespace = DefaultAPIKeyNamespace
	}
	return o
}

// Service provides the account flows.
type Service struct {
	users    user.Repository
	sessions SessionStore
	tokens   *token.Generator
	hasher   PasswordHasher
	mailer   mail.Mailer
	captcha  captcha.Verifier
	logger   *slog.Logger
	now      func() time.Time
	opts     Options
}

// NewService creates a new Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Errorf("session store is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Errorf("token generator is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if deps.Mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	if deps.Captcha == nil {
		return nil, oops.Errorf("captcha verifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		mailer:   deps.Mailer,
		captcha:  deps.Captcha,
		logger:   deps.Logger,
		now:      deps.Clock,
		opts:     opts.withDefaults(),
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SignupInput carries the signup form.
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	IP              string
	CaptchaProof    string
	// RefFrom is the referral code of the inviting user, if any.
	RefFrom string
}

// Result is returned by flows that open a session.
type Result struct {
	Profile   user.Profile
	SessionID string
}

// Signup creates an account, opens a session for it and mails a verification
// link.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Result, error) {
	in.Username = user.NormalizeIdentifier(in.Username)
	in.Email = user.NormalizeIdentifier(in.Email)
	if err := validateSignup(in); err != nil {
		return nil, invalid("signup", err)
	}

	ok, err := s.captcha.Verify(ctx, in.CaptchaProof)
	if err != nil {
		return nil, oops.Code("AUTH_CAPTCHA_FAILED").
			With("operation", "signup").
			Wrap(fmt.Errorf("%w: %w", ErrCaptcha, err))
	}
	if !ok {
		return nil, oops.Code("AUTH_CAPTCHA_FAILED").With("operation", "signup").Wrap(ErrCaptcha)
	}

	username, email := in.Username, in.Email

	if err := s.ensureFree(ctx, "signup", user.FieldUsername, username); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, "signup", user.FieldEmail, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := s.now()
	u := &user.User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleUser,
		Permission:   user.RoleUser,
		LastIP:       in.IP,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	verification, err := s.generate(ctx, token.EmailVerification(), user.FieldEmailVerificationToken)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "generate verification token").Wrap(err)
	}
	u.SetEmailVerificationToken(verification, now.Add(s.opts.EmailVerificationTTL))

	if u.RefCode, err = s.generate(ctx, token.RefCode(), user.FieldRefCode); err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "generate ref code").Wrap(err)
	}
	if u.APIKey, err = s.generate(ctx, token.APIKey(s.opts.APIKeyNamespace), user.FieldAPIKey); err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "generate api key").Wrap(err)
	}

	if u.RefFrom, err = s.resolveReferrer(ctx, in.RefFrom); err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "resolve referrer").Wrap(err)
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrDuplicate) {
			return nil, oops.Code("AUTH_DUPLICATE").With("operation", "signup").Wrap(ErrDuplicate)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "create user").Wrap(err)
	}

	sid, err := s.sessions.Create(ctx, u.ID, in.IP)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create session").
			With("user_id", u.ID.String()).
			Wrap(err)
	}

	s.deliver(ctx, mail.MessageVerificationLink, u.ID, func() error {
		return s.mailer.SendVerificationLink(ctx, u.Email, verification)
	})

	return &Result{Profile: u.Profile(), SessionID: sid}, nil
}

// Signin authenticates by username or email and opens a session.
// Uses constant-time operations to prevent timing-based username enumeration.
func (s *Service) Signin(ctx context.Context, identifier, password, ip string) (*Result, error) {
	if err := validateIP(ip); err != nil {
		return nil, invalid("signin", err)
	}

	u, lookupErr := s.users.GetByUsernameOrEmail(ctx, user.NormalizeIdentifier(identifier))

	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = u.PasswordHash
	case !errors.Is(lookupErr, user.ErrNotFound):
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "get user by username or email").
			Wrap(lookupErr)
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if lookupErr != nil {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").With("operation", "signin").Wrap(ErrNotFound)
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "verify password").
			With("user_id", u.ID.String()).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").With("operation", "signin").Wrap(ErrCredential)
	}

	sid, err := s.sessions.Create(ctx, u.ID, ip)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "create session").
			With("user_id", u.ID.String()).
			Wrap(err)
	}

	previousIP := u.LastIP
	u.LastIP = ip
	if s.hasher.NeedsUpgrade(u.PasswordHash) {
		if upgraded, hashErr := s.hasher.Hash(password); hashErr == nil {
			u.PasswordHash = upgraded
		} else {
			s.bestEffortFailed(ctx, "upgrade password hash", u.ID, hashErr)
		}
	}
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		s.bestEffortFailed(ctx, "update last ip", u.ID, err)
	}

	if previousIP != "" && previousIP != ip && net.ParseIP(previousIP) != nil {
		s.deliver(ctx, mail.MessageNewLogin, u.ID, func() error {
			return s.mailer.NotifyNewLogin(ctx, u.Email, ip)
		})
	}

	return &Result{Profile: u.Profile(), SessionID: sid}, nil
}

// Signout drops the session. Signing out of an unknown session succeeds.
func (s *Service) Signout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return oops.Code("AUTH_SIGNOUT_FAILED").With("operation", "invalidate session").Wrap(err)
	}
	return nil
}

// Authenticate resolves the user behind a session. An absent, expired or
// foreign-ip session is ErrNotFound.
func (s *Service) Authenticate(ctx context.Context, sessionID, ip string) (*user.User, error) {
	u, err := s.sessions.Validate(ctx, sessionID, ip)
	if err != nil {
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").With("operation", "validate session").Wrap(err)
	}
	if u == nil {
		return nil, oops.Code("SESSION_INVALID").With("operation", "authenticate").Wrap(ErrNotFound)
	}
	return u, nil
}

// Profile returns the public profile behind a session.
func (s *Service) Profile(ctx context.Context, sessionID, ip string) (user.Profile, error) {
	u, err := s.Authenticate(ctx, sessionID, ip)
	if err != nil {
		return user.Profile{}, err
	}
	return u.Profile(), nil
}

// IsAdmin reports whether the session belongs to an administrator.
func (s *Service) IsAdmin(ctx context.Context, sessionID, ip string) (bool, error) {
	u, err := s.Authenticate(ctx, sessionID, ip)
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

// EditProfileInput carries profile changes. Img is an already uploaded image URL;
// an empty Img keeps the current one.
type EditProfileInput struct {
	Username string
	Img      string
}

// EditProfile changes the username and image of userID. The username can change
// once per UsernameChangeInterval.
func (s *Service) EditProfile(ctx context.Context, userID ulid.ULID, in EditProfileInput) (user.Profile, error) {
	in.Username = user.NormalizeIdentifier(in.Username)
	in.Img = strings.TrimSpace(in.Img)
	if err := validateEditProfile(in); err != nil {
		return user.Profile{}, invalid("edit profile", err)
	}

	u, err := s.loadUser(ctx, "edit profile", userID)
	if err != nil {
		return user.Profile{}, err
	}

	username, img := in.Username, in.Img
	usernameChanged := username != u.Username
	imgChanged := img != "" && img != u.Img

	if !usernameChanged && !imgChanged {
		return user.Profile{}, oops.Code("AUTH_NO_CHANGES").
			With("operation", "edit profile").
			With("user_id", userID.String()).
			Wrapf(ErrValidation, "no changes have been made")
	}

	now := s.now()
	if usernameChanged {
		if u.UsernameChangedAt != nil {
			next := u.UsernameChangedAt.Add(s.opts.UsernameChangeInterval)
			if now.Before(next) {
				return user.Profile{}, oops.Code("AUTH_USERNAME_CHANGE_TOO_SOON").
					With("operation", "edit profile").
					With("user_id", userID.String()).
					With("next_allowed_at", next).
					Wrapf(ErrValidation, "username can change again at %s", next.Format(time.RFC3339))
			}
		}
		if err := s.ensureFree(ctx, "edit profile", user.FieldUsername, username); err != nil {
			return user.Profile{}, err
		}
		u.Username = username
		u.UsernameChangedAt = &now
	}
	if imgChanged {
		u.Img = img
	}
	u.UpdatedAt = now

	if err := s.update(ctx, "edit profile", u); err != nil {
		return user.Profile{}, err
	}
	return u.Profile(), nil
}

// generate issues a token unique within field.
func (s *Service) generate(ctx context.Context, spec token.Spec, field user.Field) (string, error) {
	return s.tokens.Generate(ctx, spec, func(ctx context.Context, candidate string) (bool, error) {
		return s.users.Exists(ctx, field, candidate)
	})
}

// ensureFree fails with ErrDuplicate when value is taken in field.
func (s *Service) ensureFree(ctx context.Context, operation string, field user.Field, value string) error {
	taken, err := s.users.Exists(ctx, field, value)
	if err != nil {
		return oops.Code(failureCode(operation)).
			With("operation", operation).
			With("field", string(field)).
			Wrap(err)
	}
	if !taken {
		return nil
	}
	code := "AUTH_DUPLICATE"
	switch field {
	case user.FieldUsername:
		code = "AUTH_DUPLICATE_USERNAME"
	case user.FieldEmail:
		code = "AUTH_DUPLICATE_EMAIL"
	}
	return oops.Code(code).With("operation", operation).With("field", string(field)).Wrap(ErrDuplicate)
}

// resolveReferrer keeps refFrom only when it names an existing ref code.
func (s *Service) resolveReferrer(ctx context.Context, refFrom string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(refFrom))
	if code == "" {
		return "", nil
	}
	ok, err := s.users.Exists(ctx, user.FieldRefCode, code)
	if err != nil || !ok {
		return "", err
	}
	return code, nil
}

func (s *Service) loadUser(ctx context.Context, operation string, id ulid.ULID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").
			With("operation", operation).
			With("user_id", id.String()).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code(failureCode(operation)).
			With("operation", operation).
			With("user_id", id.String()).
			Wrap(err)
	}
	return u, nil
}

func (s *Service) update(ctx context.Context, operation string, u *user.User) error {
	err := s.users.Update(ctx, u)
	if errors.Is(err, user.ErrDuplicate) {
		return oops.Code("AUTH_DUPLICATE").
			With("operation", operation).
			With("user_id", u.ID.String()).
			Wrap(ErrDuplicate)
	}
	if err != nil {
		return oops.Code(failureCode(operation)).
			With("operation", operation).
			With("user_id", u.ID.String()).
			Wrap(err)
	}
	return nil
}

// deliver runs a mail call. Failures are logged and never fail the flow.
func (s *Service) deliver(ctx context.Context, message string, userID ulid.ULID, send func() error) {
	if err := send(); err != nil {
		errutil.LogWarn(ctx, s.logger, "mail delivery failed (best-effort)", err,
			"operation", "send "+message,
			"user_id", userID.String(),
		)
	}
}

func (s *Service) bestEffortFailed(ctx context.Context, operation string, userID ulid.ULID, err error) {
	errutil.LogWarn(ctx, s.logger, "best-effort user update failed", err,
		"operation", operation,
		"user_id", userID.String(),
	)
}

// failureCode maps "edit profile" to AUTH_EDIT_PROFILE_FAILED.
func failureCode(operation string) string {
	return "AUTH_" + strings.ToUpper(strings.ReplaceAll(operation, " ", "_")) + "_FAILED"
}
