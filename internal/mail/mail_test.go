// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/authcore/internal/mail"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendVerificationLink(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *mockMailer) SendPasswordResetLink(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *mockMailer) SendEmailResetLink(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *mockMailer) NotifyNewLogin(ctx context.Context, email, ip string) error {
	return m.Called(ctx, email, ip).Error(0)
}

type failureCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *failureCounter) RecordMailFailure(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[message]++
}

func TestLinks(t *testing.T) {
	links, err := mail.NewLinks("https://example.com/app")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/app/verify-email/abc", links.VerifyEmail("abc"))
	assert.Equal(t, "https://example.com/app/reset-password/abc", links.ResetPassword("abc"))
	assert.Equal(t, "https://example.com/app/reset-email/abc", links.ResetEmail("abc"))

	_, err = mail.NewLinks("example.com")
	require.Error(t, err)
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &mockMailer{}
	next.On("SendVerificationLink", mock.Anything, "bob@example.com", "tok").Return(nil)
	next.On("SendPasswordResetLink", mock.Anything, "bob@example.com", "tok").Return(nil)
	next.On("SendEmailResetLink", mock.Anything, "new@example.com", "tok").Return(nil)
	next.On("NotifyNewLogin", mock.Anything, "bob@example.com", "203.0.113.5").Return(nil)

	d, err := mail.NewDispatcher(next)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.SendVerificationLink(ctx, "bob@example.com", "tok"))
	require.NoError(t, d.SendPasswordResetLink(ctx, "bob@example.com", "tok"))
	require.NoError(t, d.SendEmailResetLink(ctx, "new@example.com", "tok"))
	require.NoError(t, d.NotifyNewLogin(ctx, "bob@example.com", "203.0.113.5"))

	require.NoError(t, d.Close(ctx))
	next.AssertExpectations(t)
}

func TestDispatcher_FailureIsSwallowedLoggedAndCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	counter := &failureCounter{}

	next := &mockMailer{}
	next.On("NotifyNewLogin", mock.Anything, "bob@example.com", "203.0.113.5").Return(errors.New("smtp down"))

	d, err := mail.NewDispatcher(next, mail.WithLogger(logger), mail.WithFailureRecorder(counter))
	require.NoError(t, err)

	require.NoError(t, d.NotifyNewLogin(context.Background(), "bob@example.com", "203.0.113.5"))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, counter.counts[mail.MessageNewLogin])
	assert.Contains(t, buf.String(), "mail delivery failed")
	assert.Contains(t, buf.String(), "MAIL_SEND_FAILED")
}

func TestDispatcher_SurvivesCallerCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &mockMailer{}
	next.On("SendVerificationLink", mock.Anything, "bob@example.com", "tok").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			assert.NoError(t, ctx.Err())
		}).
		Return(nil)

	d, err := mail.NewDispatcher(next)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.SendVerificationLink(ctx, "bob@example.com", "tok"))
	require.NoError(t, d.Close(context.Background()))
	next.AssertExpectations(t)
}

func TestDispatcher_CloseTimesOutOnSlowDelivery(t *testing.T) {
	release := make(chan struct{})
	next := &mockMailer{}
	next.On("SendVerificationLink", mock.Anything, "bob@example.com", "tok").
		Run(func(mock.Arguments) { <-release }).
		Return(nil)

	d, err := mail.NewDispatcher(next, mail.WithTimeout(time.Minute))
	require.NoError(t, err)
	require.NoError(t, d.SendVerificationLink(context.Background(), "bob@example.com", "tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	counter := &failureCounter{}
	next := &mockMailer{}
	d, err := mail.NewDispatcher(next, mail.WithFailureRecorder(counter), mail.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	require.NoError(t, d.SendPasswordResetLink(context.Background(), "bob@example.com", "tok"))
	assert.Equal(t, 1, counter.counts[mail.MessagePasswordResetLink])
	next.AssertNotCalled(t, "SendPasswordResetLink", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewDispatcher_RequiresMailer(t *testing.T) {
	_, err := mail.NewDispatcher(nil)
	require.Error(t, err)
}

func TestLogMailer_RedactsTokens(t *testing.T) {
	links, err := mail.NewLinks("https://example.com")
	require.NoError(t, err)

	var buf bytes.Buffer
	m := mail.NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)), links, false)
	require.NoError(t, m.SendPasswordResetLink(context.Background(), "bob@example.com", "secrettoken"))
	assert.NotContains(t, buf.String(), "secrettoken")
	assert.Contains(t, buf.String(), "https://example.com/reset-password/REDACTED")

	buf.Reset()
	m = mail.NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)), links, true)
	require.NoError(t, m.SendVerificationLink(context.Background(), "bob@example.com", "secrettoken"))
	assert.Contains(t, buf.String(), "https://example.com/verify-email/secrettoken")
}
