// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/user"
)

// NewRevokeSessionsCmd creates the revoke-sessions command.
func NewRevokeSessionsCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-sessions USER_ID",
		Short: "Sign a user out everywhere",
		Long: `Delete every session belonging to USER_ID.

The user store is consulted only to report whether the account exists;
sessions are deleted either way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevokeSessions(cmd, deps, args[0])
		},
	}
}

func runRevokeSessions(cmd *cobra.Command, deps *Deps, rawID string) error {
	ctx := cmd.Context()
	userID, err := ulid.ParseStrict(rawID)
	if err != nil {
		return oops.Code("INVALID_USER_ID").With("user_id", rawID).Wrap(err)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	hash, err := openHashStore(ctx, deps, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := hash.Close(); cerr != nil {
			logger.Warn("closing session store", "error", cerr)
		}
	}()

	users, err := openUsers(ctx, deps, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := users.Close(ctx); cerr != nil {
			logger.Warn("closing user store", "error", cerr)
		}
	}()

	_, err = users.Users().GetByID(ctx, userID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		logger.Warn("user not found, revoking sessions anyway", "user_id", userID.String())
	case err != nil:
		return oops.Code("REVOKE_FAILED").With("operation", "get user").With("user_id", userID.String()).Wrap(err)
	}

	sessions, err := newSessionStore(hash, users.Users(), newTokenGenerator(cfg, metrics), cfg, metrics, logger, deps)
	if err != nil {
		return err
	}
	n, err := sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return oops.Code("REVOKE_FAILED").With("operation", "invalidate sessions").With("user_id", userID.String()).Wrap(err)
	}

	logger.Info("sessions revoked", "user_id", userID.String(), "deleted", n)
	cmd.Printf("Revoked %d sessions for %s\n", n, userID)
	return nil
}
