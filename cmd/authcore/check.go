// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command.
func NewCheckCmd(deps *Deps) *cobra.Command {
	var sessionID, ip string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and backend connectivity",
		Long: `Load and validate configuration, connect to the session and user
stores, and assemble the auth service. Exits non-zero on the first failure.

With --session the session is also resolved the way a request would be,
using --ip as the request address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, deps, sessionID, ip)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resolve")
	cmd.Flags().StringVar(&ip, "ip", "", "request IP for --session")
	return cmd
}

func runCheck(cmd *cobra.Command, deps *Deps, sessionID, ip string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.Println("config: ok")

	rt, err := buildRuntime(ctx, deps, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(ctx, logger)

	if err := rt.hash.Ping(ctx); err != nil {
		return err
	}
	cmd.Printf("session store: ok (%s)\n", cfg.Redis.Addr)

	if err := rt.users.Ping(ctx); err != nil {
		return err
	}
	cmd.Printf("user store: ok (%s)\n", cfg.Database.Driver)
	cmd.Printf("session lifetime: %s\n", rt.sessions.Lifetime())

	if sessionID == "" {
		return nil
	}
	u, err := rt.service.Authenticate(ctx, sessionID, ip)
	if err != nil {
		return err
	}
	cmd.Printf("session: ok (user %s, %s)\n", u.ID, u.Username)
	return nil
}
