// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// DefaultTimeout bounds a single background delivery.
const DefaultTimeout = 10 * time.Second

// FailureRecorder counts failed deliveries.
type FailureRecorder interface {
	RecordMailFailure(message string)
}

// Dispatcher implements Mailer by handing every message to a background
// goroutine. Calls return immediately with a nil error; delivery failures are
// logged and counted.
type Dispatcher struct {
	next     Mailer
	timeout  time.Duration
	logger   *slog.Logger
	recorder FailureRecorder

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) { disp.logger = l }
}

// WithFailureRecorder attaches a failure counter.
func WithFailureRecorder(r FailureRecorder) DispatcherOption {
	return func(disp *Dispatcher) { disp.recorder = r }
}

// NewDispatcher wraps next.
func NewDispatcher(next Mailer, opts ...DispatcherOption) (*Dispatcher, error) {
	if next == nil {
		return nil, oops.Errorf("mailer is required")
	}
	d := &Dispatcher{next: next, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// SendVerificationLink implements Mailer.
func (d *Dispatcher) SendVerificationLink(ctx context.Context, email, token string) error {
	d.dispatch(ctx, MessageVerificationLink, func(ctx context.Context) error {
		return d.next.SendVerificationLink(ctx, email, token)
	})
	return nil
}

// SendPasswordResetLink implements Mailer.
func (d *Dispatcher) SendPasswordResetLink(ctx context.Context, email, token string) error {
	d.dispatch(ctx, MessagePasswordResetLink, func(ctx context.Context) error {
		return d.next.SendPasswordResetLink(ctx, email, token)
	})
	return nil
}

// SendEmailResetLink implements Mailer.
func (d *Dispatcher) SendEmailResetLink(ctx context.Context, email, token string) error {
	d.dispatch(ctx, MessageEmailResetLink, func(ctx context.Context) error {
		return d.next.SendEmailResetLink(ctx, email, token)
	})
	return nil
}

// NotifyNewLogin implements Mailer.
func (d *Dispatcher) NotifyNewLogin(ctx context.Context, email, ip string) error {
	d.dispatch(ctx, MessageNewLogin, func(ctx context.Context) error {
		return d.next.NotifyNewLogin(ctx, email, ip)
	})
	return nil
}

// dispatch runs send detached from the caller's cancellation so a finished
// request does not abort its own notification.
func (d *Dispatcher) dispatch(ctx context.Context, message string, send func(context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.fail(ctx, message, oops.Code("MAIL_DISPATCHER_CLOSED").Errorf("dispatcher is closed"))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := send(sendCtx); err != nil {
			d.fail(sendCtx, message, oops.Code("MAIL_SEND_FAILED").With("message", message).Wrap(err))
		}
	}()
}

func (d *Dispatcher) fail(ctx context.Context, message string, err error) {
	errutil.LogError(ctx, d.logger, "mail delivery failed", err, "message", message)
	if d.recorder != nil {
		d.recorder.RecordMailFailure(message)
	}
}

// Close stops accepting messages and waits for in-flight deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("MAIL_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}
