// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/pkg/errutil"
)

const sweepJob = "authcore_session_sweep"

// NewSweepCmd creates the sweep command.
func NewSweepCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions",
		Long: `Delete every session older than the configured lifetime.

Meant to run from cron. When metrics.pushgateway_url is set the deletion
count and the last-success timestamp are pushed after the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, deps)
		},
	}
}

func runSweep(cmd *cobra.Command, deps *Deps) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	hash, err := openHashStore(ctx, deps, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := hash.Close(); cerr != nil {
			logger.Warn("closing session store", "error", cerr)
		}
	}()

	sessions, err := newSessionStore(hash, noUsers{}, newTokenGenerator(cfg, metrics), cfg, metrics, logger, deps)
	if err != nil {
		return err
	}

	n, err := sessions.SweepExpired(ctx, deps.Clock())
	if err != nil {
		return err
	}
	metrics.RecordSweepSuccess()
	logger.Info("expired sessions swept", "deleted", n)
	cmd.Printf("Deleted %d expired sessions\n", n)

	if cfg.Metrics.PushgatewayURL != "" {
		if err := deps.MetricsPusher(ctx, cfg.Metrics.PushgatewayURL, sweepJob, reg); err != nil {
			// The sweep itself succeeded; a push failure must not fail the job.
			errutil.LogWarn(ctx, logger, "metrics push failed", err, "url", cfg.Metrics.PushgatewayURL)
		}
	}
	return nil
}
