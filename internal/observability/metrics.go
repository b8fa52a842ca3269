// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides Prometheus metrics for the auth core and a
// Pushgateway helper for batch jobs.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/samber/oops"
)

// Metrics holds the auth core counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SessionsCreated *prometheus.CounterVec
	SessionsDeleted *prometheus.CounterVec
	TokenCollisions *prometheus.CounterVec
	MailFailures    *prometheus.CounterVec
	SweepLastRun    prometheus.Gauge
}

// NewMetrics creates and registers the auth core metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_created_total",
				Help: "Total number of sessions created",
			},
			nil,
		),
		SessionsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_deleted_total",
				Help: "Total number of sessions deleted by reason",
			},
			[]string{"reason"},
		),
		TokenCollisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_collisions_total",
				Help: "Total number of generated token candidates that were already taken",
			},
			[]string{"kind"},
		),
		MailFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_mail_failures_total",
				Help: "Total number of mail deliveries that failed by message type",
			},
			[]string{"message"},
		),
		SweepLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_sweep_last_success_timestamp_seconds",
			Help: "Unix time of the last successful expired-session sweep",
		}),
	}

	reg.MustRegister(m.SessionsCreated, m.SessionsDeleted, m.TokenCollisions, m.MailFailures, m.SweepLastRun)
	return m
}

// RecordSessionCreated increments the created counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues().Inc()
}

// RecordSessionsDeleted adds n to the deleted counter for reason.
func (m *Metrics) RecordSessionsDeleted(reason string, n int) {
	if m == nil {
		return
	}
	m.SessionsDeleted.WithLabelValues(reason).Add(float64(n))
}

// RecordTokenCollision increments the collision counter for kind.
func (m *Metrics) RecordTokenCollision(kind string) {
	if m == nil {
		return
	}
	m.TokenCollisions.WithLabelValues(kind).Inc()
}

// RecordMailFailure increments the mail failure counter for message.
func (m *Metrics) RecordMailFailure(message string) {
	if m == nil {
		return
	}
	m.MailFailures.WithLabelValues(message).Inc()
}

// RecordSweepSuccess stamps the last successful sweep time.
func (m *Metrics) RecordSweepSuccess() {
	if m == nil {
		return
	}
	m.SweepLastRun.SetToCurrentTime()
}

// Push sends everything gathered by g to the Pushgateway at url under job.
// Batch commands exit before a scrape could reach them.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return oops.Code("METRICS_PUSH_FAILED").With("url", url).With("job", job).Wrap(err)
	}
	return nil
}
