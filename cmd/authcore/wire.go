// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/captcha"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/mail"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/session"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/user"
)

// noUsers is a session.UserLookup for commands that never validate sessions.
type noUsers struct{}

func (noUsers) GetByID(context.Context, ulid.ULID) (*user.User, error) {
	return nil, user.ErrNotFound
}

// openHashStore connects to Redis with retry.
func openHashStore(ctx context.Context, deps *Deps, cfg *config.Config, logger *slog.Logger) (HashStore, error) {
	hash, err := connect(ctx, deps.Backoff(), func(ctx context.Context) (HashStore, error) {
		h, err := deps.HashStoreFactory(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("session store not reachable, retrying", "addr", cfg.Redis.Addr, "error", err)
		}
		return h, err
	})
	if err != nil {
		return nil, oops.Code("KV_CONNECT_FAILED").With("operation", "connect to session store").Wrap(err)
	}
	return hash, nil
}

// openUsers connects to the configured user store with retry.
func openUsers(ctx context.Context, deps *Deps, cfg *config.Config, logger *slog.Logger) (UserStore, error) {
	if err := cfg.RequireDatabaseURL(); err != nil {
		return nil, err
	}
	users, err := connect(ctx, deps.Backoff(), func(ctx context.Context) (UserStore, error) {
		u, err := deps.UserStoreFactory(ctx, cfg.Database)
		if err != nil {
			logger.Warn("user store not reachable, retrying", "driver", cfg.Database.Driver, "error", err)
		}
		return u, err
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to user store").Wrap(err)
	}
	return users, nil
}

func newSessionStore(
	hash HashStore,
	users session.UserLookup,
	tokens *token.Generator,
	cfg *config.Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
	deps *Deps,
) (*session.Store, error) {
	return session.NewStore(hash, users, tokens, session.Config{
		Namespace: cfg.Session.Namespace,
		Lifetime:  cfg.Session.Lifetime,
	},
		session.WithClock(deps.Clock),
		session.WithRecorder(metrics),
		session.WithLogger(logger),
	)
}

func newTokenGenerator(cfg *config.Config, metrics *observability.Metrics) *token.Generator {
	return token.NewGenerator(
		token.WithMaxAttempts(cfg.Tokens.MaxAttempts),
		token.WithCollisionRecorder(metrics),
	)
}

func newCaptcha(cfg config.CaptchaConfig) (captcha.Verifier, error) {
	if !cfg.Enabled {
		return captcha.Static(true), nil
	}
	var opts []captcha.HCaptchaOption
	if cfg.VerifyURL != "" {
		opts = append(opts, captcha.WithVerifyURL(cfg.VerifyURL))
	}
	if cfg.SiteKey != "" {
		opts = append(opts, captcha.WithSiteKey(cfg.SiteKey))
	}
	h, err := captcha.NewHCaptcha(cfg.Secret, opts...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// runtime is a fully wired auth core.
type runtime struct {
	service    *auth.Service
	sessions   *session.Store
	hash       HashStore
	users      UserStore
	dispatcher *mail.Dispatcher
	registry   *prometheus.Registry
}

// buildRuntime connects every backend and assembles the auth.Service graph.
// The caller must call close.
func buildRuntime(ctx context.Context, deps *Deps, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{registry: prometheus.NewRegistry()}
	metrics := observability.NewMetrics(rt.registry)

	var err error
	if rt.hash, err = openHashStore(ctx, deps, cfg, logger); err != nil {
		return nil, err
	}
	if rt.users, err = openUsers(ctx, deps, cfg, logger); err != nil {
		rt.close(ctx, logger)
		return nil, err
	}

	tokens := newTokenGenerator(cfg, metrics)
	if rt.sessions, err = newSessionStore(rt.hash, rt.users.Users(), tokens, cfg, metrics, logger, deps); err != nil {
		rt.close(ctx, logger)
		return nil, oops.Code("WIRE_FAILED").With("component", "sessions").Wrap(err)
	}

	links, err := mail.NewLinks(cfg.Mail.BaseURL)
	if err != nil {
		rt.close(ctx, logger)
		return nil, err
	}
	if rt.dispatcher, err = mail.NewDispatcher(
		mail.NewLogMailer(logger, links, false),
		mail.WithTimeout(cfg.Mail.Timeout),
		mail.WithLogger(logger),
		mail.WithFailureRecorder(metrics),
	); err != nil {
		rt.close(ctx, logger)
		return nil, oops.Code("WIRE_FAILED").With("component", "mail").Wrap(err)
	}

	verifier, err := newCaptcha(cfg.Captcha)
	if err != nil {
		rt.close(ctx, logger)
		return nil, oops.Code("WIRE_FAILED").With("component", "captcha").Wrap(err)
	}

	rt.service, err = auth.NewService(auth.Deps{
		Users:    rt.users.Users(),
		Sessions: rt.sessions,
		Tokens:   tokens,
		Hasher:   auth.NewLegacyAwareHasher(auth.NewArgon2idHasher()),
		Mailer:   rt.dispatcher,
		Captcha:  verifier,
		Logger:   logger,
		Clock:    deps.Clock,
	}, auth.Options{
		EmailVerificationTTL: cfg.Tokens.EmailVerificationTTL,
		PasswordResetTTL:     cfg.Tokens.PasswordResetTTL,
		EmailResetTTL:        cfg.Tokens.EmailResetTTL,
		APIKeyNamespace:      cfg.APIKey.Namespace,
	})
	if err != nil {
		rt.close(ctx, logger)
		return nil, oops.Code("WIRE_FAILED").With("component", "auth").Wrap(err)
	}
	return rt, nil
}

// close drains pending mail and releases connections. Errors are logged.
func (rt *runtime) close(ctx context.Context, logger *slog.Logger) {
	if rt.dispatcher != nil {
		if err := rt.dispatcher.Close(ctx); err != nil {
			logger.Warn("draining mail dispatcher", "error", err)
		}
	}
	if rt.users != nil {
		if err := rt.users.Close(ctx); err != nil {
			logger.Warn("closing user store", "error", err)
		}
	}
	if rt.hash != nil {
		if err := rt.hash.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}
}
