// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/readnest/readnest-go/internal/api"
	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/metrics"
	"github.com/readnest/readnest-go/internal/token"
)

// ErrUnknownProvider is returned by LoginURL for a provider outside the
// configured set.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// logoutTimeout bounds the best-effort server-side invalidation call. Logout
// always succeeds locally even when the backend is unreachable.
const logoutTimeout = 5 * time.Second

// Controller owns the session lifecycle. It is the sole writer of session
// state; everything else reads through Current or Subscribe.
type Controller struct {
	backend   api.Backend
	tokens    token.Store
	snapshots SnapshotStore

	backendURL string
	providers  []string

	mu      sync.Mutex
	current *Session
	// gen increments on every logout or forced expiry. A fetch-and-compose
	// carries the generation it started under and is dropped if the
	// generation moved on, so a late-arriving refresh can never resurrect a
	// session the user already left.
	gen  uint64
	subs []func(*Session)
}

// NewController creates a session controller.
//
// backendURL is the platform base URL used to build provider authorization
// redirects; providers is the closed set of accepted provider names.
func NewController(backend api.Backend, tokens token.Store, snapshots SnapshotStore, backendURL string, providers []string) *Controller {
	return &Controller{
		backend:    backend,
		tokens:     tokens,
		snapshots:  snapshots,
		backendURL: backendURL,
		providers:  providers,
	}
}

// Current returns a copy of the session, or nil when unauthenticated.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// Subscribe registers a callback invoked with a session copy (nil on
// logout/expiry) after every state change. Callbacks run on the mutating
// goroutine and must not block.
func (c *Controller) Subscribe(fn func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// RestoreHint returns the persisted snapshot from the previous run, for
// display surfaces that want something to show before Initialize has
// confirmed the session with the backend. It never becomes the current
// session by itself.
func (c *Controller) RestoreHint(ctx context.Context) (Snapshot, bool) {
	return c.snapshots.Load(ctx)
}

// LoginURL returns the external identity-provider authorization URL for one
// of the configured providers. Navigation is the caller's job.
func (c *Controller) LoginURL(provider string) (string, error) {
	for _, p := range c.providers {
		if p == provider {
			return c.backendURL + "/oauth2/authorization/" + provider, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

// Initialize rehydrates the session on application start. With no stored
// access token it leaves the state unauthenticated and returns nil. With a
// token it runs the fetch-and-compose sequence; any failure clears the
// tokens and leaves the session empty, never a partially-populated one.
func (c *Controller) Initialize(ctx context.Context) error {
	if _, ok := c.tokens.Access(ctx); !ok {
		c.clearLocal(ctx, false)
		return nil
	}

	if err := c.fetchAndCompose(ctx, "initialize"); err != nil {
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			logging.Error().Err(clearErr).Msg("failed to clear tokens after initialize failure")
		}
		c.clearLocal(ctx, false)
		return fmt.Errorf("initialize session: %w", err)
	}
	return nil
}

// CompleteLogin persists the token pair delivered by the OAuth callback and
// then runs the same fetch-and-compose sequence as Initialize.
func (c *Controller) CompleteLogin(ctx context.Context, access, refresh string) error {
	if access == "" || refresh == "" {
		return errors.New("complete login: empty token in callback")
	}
	if err := c.tokens.Save(ctx, token.Pair{Access: access, Refresh: refresh}); err != nil {
		return fmt.Errorf("complete login: %w", err)
	}

	if err := c.fetchAndCompose(ctx, "login"); err != nil {
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			logging.Error().Err(clearErr).Msg("failed to clear tokens after login failure")
		}
		c.clearLocal(ctx, false)
		return fmt.Errorf("complete login: %w", err)
	}
	return nil
}

// Logout clears the session. The server-side invalidation call is best
// effort: its failure is logged and swallowed, and local state is cleared
// unconditionally. The generation bump happens first so logout always wins
// over a refresh that completes late.
func (c *Controller) Logout(ctx context.Context) {
	c.clearLocal(ctx, false)

	callCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()
	if err := c.backend.Logout(callCtx); err != nil {
		logging.Warn().Err(err).Msg("server-side logout failed, clearing local state anyway")
	}

	if err := c.tokens.Clear(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to clear tokens on logout")
	}
}

// Refresh re-runs the fetch-and-compose sequence without touching tokens.
// Call it after actions that change experience (finishing a book) so the
// displayed level and title reflect canonical backend state; the controller
// never increments experience locally.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.fetchAndCompose(ctx, "refresh"); err != nil {
		// Tokens are kept (unless the API layer already cleared them for an
		// auth failure); the session itself is dropped rather than left
		// stale.
		c.clearLocal(ctx, false)
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// UpdateProfile patches the profile server-side and then re-runs the
// fetch-and-compose sequence, so the published session reflects canonical
// backend state instead of an optimistic local merge.
func (c *Controller) UpdateProfile(ctx context.Context, update api.ProfileUpdate) error {
	if _, err := c.backend.UpdateProfile(ctx, update); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if err := c.fetchAndCompose(ctx, "update_profile"); err != nil {
		c.clearLocal(ctx, false)
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// HandleSessionExpired drops local session state after the API layer
// reports an unrecoverable authentication failure. Tokens are already
// cleared by then.
func (c *Controller) HandleSessionExpired() {
	logging.Info().Msg("session expired, dropping local state")
	c.clearLocal(context.Background(), true)
}

// fetchAndCompose fetches the profile and the experience total
// concurrently, then composes the session in a single step once both have
// arrived. The composed session is dropped when the controller's generation
// moved on while the fetches were in flight.
func (c *Controller) fetchAndCompose(ctx context.Context, op string) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	var (
		wg         sync.WaitGroup
		profile    *api.Profile
		profileErr error
		exp        int64
		expErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		profile, profileErr = c.backend.Me(ctx)
	}()
	go func() {
		defer wg.Done()
		exp, expErr = c.backend.MyExperience(ctx)
	}()
	wg.Wait()

	if profileErr != nil {
		metrics.SessionComposeTotal.WithLabelValues(op, "failure").Inc()
		return profileErr
	}
	if expErr != nil {
		metrics.SessionComposeTotal.WithLabelValues(op, "failure").Inc()
		return expErr
	}

	s := compose(profile, exp)

	if !c.publish(ctx, gen, s) {
		metrics.SessionComposeTotal.WithLabelValues(op, "stale").Inc()
		logging.Debug().Str("op", op).Msg("dropping stale session compose")
		return nil
	}

	metrics.SessionComposeTotal.WithLabelValues(op, "success").Inc()
	logging.Info().
		Str("op", op).
		Int64("user_id", s.UserID).
		Int("level", s.Level).
		Int64("exp", s.Exp).
		Msg("session composed")
	return nil
}

// publish installs a composed session if gen is still current. Returns
// false when the compose result is stale.
func (c *Controller) publish(ctx context.Context, gen uint64, s *Session) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.current = s
	subs := append([]func(*Session){}, c.subs...)
	c.mu.Unlock()

	metrics.SessionActive.Set(1)
	metrics.SessionLevel.Set(float64(s.Level))

	if err := c.snapshots.Save(ctx, Snapshot{User: s, IsAuthenticated: true, SavedAt: time.Now()}); err != nil {
		logging.Error().Err(err).Msg("failed to persist session snapshot")
	}

	for _, fn := range subs {
		copied := *s
		fn(&copied)
	}
	return true
}

// clearLocal drops the in-memory session and the persisted snapshot, bumps
// the generation, and notifies subscribers. It never touches tokens; the
// caller owns that decision. detachedCtx selects a background context for
// snapshot clearing when the triggering context may already be canceled.
func (c *Controller) clearLocal(ctx context.Context, detachedCtx bool) {
	c.mu.Lock()
	c.gen++
	hadSession := c.current != nil
	c.current = nil
	subs := append([]func(*Session){}, c.subs...)
	c.mu.Unlock()

	metrics.SessionActive.Set(0)
	metrics.SessionLevel.Set(0)

	clearCtx := ctx
	if detachedCtx {
		clearCtx = context.Background()
	}
	if err := c.snapshots.Clear(clearCtx); err != nil {
		logging.Error().Err(err).Msg("failed to clear session snapshot")
	}

	if hadSession {
		for _, fn := range subs {
			fn(nil)
		}
	}
}
