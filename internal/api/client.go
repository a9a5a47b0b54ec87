// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package api is the REST client for the Readnest platform backend.
//
// The client attaches the stored bearer token to every request and recovers
// from an expired access token with a single silent refresh per request: on
// a 401 it exchanges the refresh token once via /auth/reissue and re-issues
// the original request exactly once. The retry is structural, not a shared
// mutable flag, so concurrent requests each get their own independent
// attempt while the reissue call itself is single-flighted.
//
// The client never navigates. Unrecoverable authentication failures clear
// the token store and fire the injected session-expired hook; routing is the
// owner of what happens next.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/metrics"
	"github.com/readnest/readnest-go/internal/token"
)

// ErrAuthExpired is returned when a request could not be authenticated and
// silent refresh could not recover it. Both tokens have been cleared and the
// session-expired hook has fired by the time a caller sees this error.
var ErrAuthExpired = errors.New("authentication expired")

const maxErrorBodyBytes = 4 * 1024

// Client provides access to the Readnest backend REST API.
type Client struct {
	baseURL    string
	tokens     token.Store
	httpClient *http.Client
	limiter    *rate.Limiter

	// onSessionExpired is invoked after an unrecoverable auth failure has
	// cleared the token store. Never nil; defaults to a no-op.
	onSessionExpired func()

	// refreshMu single-flights the reissue call so parallel 401s share one
	// round trip.
	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Useful for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit caps outbound request rate. perSecond <= 0 disables the
// limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithSessionExpiredHook installs the callback fired after an unrecoverable
// authentication failure. The hook must not block.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) {
		if fn != nil {
			c.onSessionExpired = fn
		}
	}
}

// New creates a backend API client.
func New(baseURL string, tokens token.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		onSessionExpired: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs a backend request and decodes a 2xx response body into out
// (out may be nil to discard the body).
//
// A 401 triggers at most one silent refresh and one retried request; a 401
// on the retried request fails the call without a second refresh.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	access, _ := c.tokens.Access(ctx)

	resp, err := c.send(ctx, method, path, encoded, access)
	if err != nil {
		metrics.APIRequestErrors.WithLabelValues(method, path).Inc()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drainAndClose(resp.Body)

		newAccess, rerr := c.silentRefresh(ctx, access)
		if rerr != nil {
			return c.authFailure(ctx, method, path, rerr)
		}

		// Exactly one retried request with the new token.
		resp, err = c.send(ctx, method, path, encoded, newAccess)
		if err != nil {
			metrics.APIRequestErrors.WithLabelValues(method, path).Inc()
			return fmt.Errorf("%s %s (retried): %w", method, path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// The refreshed token was rejected too. Give up; a second
			// refresh here would loop forever against a revoked account.
			drainAndClose(resp.Body)
			return c.authFailure(ctx, method, path, errors.New("retried request rejected"))
		}
	}

	defer drainAndClose(resp.Body)

	metrics.APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{Status: resp.StatusCode, Method: method, Path: path, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// send issues one HTTP request. A fresh request is built per attempt so the
// retried request never shares state with the first one.
func (c *Client) send(ctx context.Context, method, path string, encoded []byte, access string) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	if encoded != nil {
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	return resp, err
}

// silentRefresh exchanges the refresh token for a new access token and
// persists the result. staleAccess is the token the failed request used: if
// the store already holds a different one, a concurrent caller refreshed
// first and the round trip is skipped.
func (c *Client) silentRefresh(ctx context.Context, staleAccess string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if cur, ok := c.tokens.Access(ctx); ok && cur != staleAccess {
		return cur, nil
	}

	refresh, ok := c.tokens.Refresh(ctx)
	if !ok {
		metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		return "", errors.New("no refresh token")
	}

	encoded, err := json.Marshal(reissueRequest{RefreshToken: refresh})
	if err != nil {
		return "", fmt.Errorf("encode reissue request: %w", err)
	}

	// The reissue call goes straight to send, never through Do: a 401 here
	// is a refusal, not a trigger for another refresh.
	resp, err := c.send(ctx, http.MethodPost, "/auth/reissue", encoded, "")
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("reissue request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("reissue returned status %d", resp.StatusCode)
	}

	var rr reissueResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("decode reissue response: %w", err)
	}
	if rr.AccessToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", errors.New("reissue response missing access token")
	}

	// The store must still hold the refresh token that bought this pair. If
	// a logout cleared it (or a competing rotation replaced it) while the
	// round trip was in flight, persisting now would resurrect credentials
	// the user discarded. The logout wins; the fresh pair is dropped.
	if cur, ok := c.tokens.Refresh(ctx); !ok || cur != refresh {
		metrics.TokenRefreshTotal.WithLabelValues("discarded").Inc()
		logging.Debug().Msg("token store changed during reissue, discarding refreshed pair")
		return "", errors.New("token store changed during reissue")
	}

	if rr.RefreshToken != "" {
		// Rotated: replace the pair together.
		err = c.tokens.Save(ctx, token.Pair{Access: rr.AccessToken, Refresh: rr.RefreshToken})
	} else {
		err = c.tokens.SaveAccess(ctx, rr.AccessToken)
	}
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	logging.Debug().Msg("silent token refresh succeeded")
	return rr.AccessToken, nil
}

// authFailure clears both tokens and fires the session-expired hook. The
// original request fails with ErrAuthExpired.
func (c *Client) authFailure(ctx context.Context, method, path string, cause error) error {
	logging.Warn().Err(cause).Str("method", method).Str("path", path).Msg("unrecoverable auth failure, clearing tokens")

	if err := c.tokens.Clear(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to clear tokens after auth failure")
	}
	metrics.APIRequestsTotal.WithLabelValues(method, path, "401").Inc()

	c.onSessionExpired()

	return fmt.Errorf("%s %s: %w: %v", method, path, ErrAuthExpired, cause)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	_ = body.Close()
}
