// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package captcha verifies human-presence proofs submitted at signup.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultVerifyURL is the hCaptcha siteverify endpoint.
const DefaultVerifyURL = "https://hcaptcha.com/siteverify"

// Verifier checks a captcha proof.
type Verifier interface {
	Verify(ctx context.Context, proof string) (bool, error)
}

// Static is a Verifier with a fixed answer, for development and tests.
type Static bool

// Verify implements Verifier.
func (s Static) Verify(context.Context, string) (bool, error) {
	return bool(s), nil
}

// HCaptcha verifies proofs against the hCaptcha siteverify API.
type HCaptcha struct {
	secret    string
	siteKey   string
	verifyURL string
	client    *http.Client
}

// HCaptchaOption configures an HCaptcha verifier.
type HCaptchaOption func(*HCaptcha)

// WithVerifyURL overrides DefaultVerifyURL.
func WithVerifyURL(u string) HCaptchaOption {
	return func(h *HCaptcha) { h.verifyURL = u }
}

// WithSiteKey sends the site key along with each verification.
func WithSiteKey(key string) HCaptchaOption {
	return func(h *HCaptcha) { h.siteKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HCaptchaOption {
	return func(h *HCaptcha) { h.client = c }
}

// NewHCaptcha creates a verifier using secret.
func NewHCaptcha(secret string, opts ...HCaptchaOption) (*HCaptcha, error) {
	if secret == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("captcha secret is required")
	}
	h := &HCaptcha{
		secret:    secret,
		verifyURL: DefaultVerifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts proof to siteverify. An empty proof is rejected without a
// network call.
func (h *HCaptcha) Verify(ctx context.Context, proof string) (bool, error) {
	if proof == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("response", proof)
	form.Set("secret", h.secret)
	if h.siteKey != "" {
		form.Set("sitekey", h.siteKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, oops.Code("CAPTCHA_REQUEST_FAILED").With("operation", "build request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, oops.Code("CAPTCHA_REQUEST_FAILED").With("operation", "post siteverify").Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return false, oops.Code("CAPTCHA_REQUEST_FAILED").
			With("status", resp.StatusCode).
			Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, oops.Code("CAPTCHA_RESPONSE_INVALID").Wrap(err)
	}
	return body.Success, nil
}
