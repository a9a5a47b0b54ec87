// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package server provides the loopback HTTP surface of the Readnest
// client: the OAuth login entry and callback, session status, and
// operational endpoints (health, metrics).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/readnest/readnest-go/internal/api"
	"github.com/readnest/readnest-go/internal/level"
	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/session"
)

// returnToCookie preserves the page the user came from across the OAuth
// round trip.
const returnToCookie = "readnest_return_to"

const defaultReturnTo = "/status"

// Notifier is the notification channel view the status endpoint needs.
type Notifier interface {
	IsConnected() bool
}

// Server is the loopback HTTP server. It implements suture.Service.
type Server struct {
	sessions *session.Controller
	notifier Notifier

	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New creates the loopback server listening on addr.
func New(addr string, timeout time.Duration, sessions *session.Controller, notifier Notifier) *Server {
	s := &Server{
		sessions:        sessions,
		notifier:        notifier,
		shutdownTimeout: timeout,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(Instrument)

	r.Get("/auth/login/{provider}", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Post("/auth/logout", s.handleLogout)

	r.Get("/status", s.handleStatus)
	r.Post("/session/refresh", s.handleRefresh)
	r.Patch("/profile", s.handleUpdateProfile)
	r.Get("/levels", s.handleLevels)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleLogin redirects the browser to the external identity provider. The
// optional from query parameter names the local path to return to after the
// callback completes; anything that is not a local absolute path is
// discarded.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	target, err := s.sessions.LoginURL(provider)
	if err != nil {
		if errors.Is(err, session.ErrUnknownProvider) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login unavailable"})
		return
	}

	if from := r.URL.Query().Get("from"); isLocalPath(from) {
		http.SetCookie(w, &http.Cookie{
			Name:     returnToCookie,
			Value:    from,
			Path:     "/",
			MaxAge:   300,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	logging.Info().Str("provider", provider).Msg("Redirecting to identity provider")
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback completes the OAuth flow. The backend redirects here with
// accessToken and refreshToken query parameters; on success the browser is
// sent back to the preserved return path.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	access := q.Get("accessToken")
	refresh := q.Get("refreshToken")

	if access == "" || refresh == "" {
		logging.Warn().Msg("OAuth callback missing tokens")
		http.Redirect(w, r, defaultReturnTo+"?error=login_failed", http.StatusFound)
		return
	}

	if err := s.sessions.CompleteLogin(r.Context(), access, refresh); err != nil {
		logging.Error().Err(err).Msg("Login completion failed")
		clearReturnTo(w)
		http.Redirect(w, r, defaultReturnTo+"?error=login_failed", http.StatusFound)
		return
	}

	dest := defaultReturnTo
	if c, err := r.Cookie(returnToCookie); err == nil && isLocalPath(c.Value) {
		dest = c.Value
	}
	clearReturnTo(w)

	http.Redirect(w, r, dest, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse is the /status payload.
type statusResponse struct {
	Authenticated   bool             `json:"authenticated"`
	User            *session.Session `json:"user,omitempty"`
	Progress        *levelProgress   `json:"progress,omitempty"`
	NotifyConnected bool             `json:"notifyConnected"`
}

// levelProgress summarizes how far the user is from the next level.
type levelProgress struct {
	NextLevelExp int64 `json:"nextLevelExp"`
	RemainingExp int64 `json:"remainingExp"`
	AtMaxLevel   bool  `json:"atMaxLevel"`
}

func progressFor(exp int64) *levelProgress {
	next, ok := level.NextThreshold(exp)
	if !ok {
		return &levelProgress{AtMaxLevel: true}
	}
	return &levelProgress{NextLevelExp: next, RemainingExp: next - exp}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	current := s.sessions.Current()
	resp := statusResponse{
		Authenticated: current != nil,
		User:          current,
	}
	if current != nil {
		resp.Progress = progressFor(current.Exp)
	}
	if s.notifier != nil {
		resp.NotifyConnected = s.notifier.IsConnected()
	}

	code := http.StatusOK
	if current == nil {
		code = http.StatusUnauthorized
	}
	writeJSON(w, code, resp)
}

// handleRefresh re-fetches profile and experience from the backend and
// returns the updated status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "refresh failed"})
		return
	}
	s.handleStatus(w, r)
}

// handleUpdateProfile patches the profile via the backend and returns the
// re-fetched status. Nil fields in the body are left unchanged server-side.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Current() == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var update api.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if err := s.sessions.UpdateProfile(r.Context(), update); err != nil {
		logging.Warn().Err(err).Msg("Profile update failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "profile update failed"})
		return
	}
	s.handleStatus(w, r)
}

// handleLevels returns the static level table, so a local surface can render
// the whole ladder rather than just the next step.
func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, level.Thresholds())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve implements suture.Service. It starts the listener and blocks until
// the context is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	logging.Info().Str("addr", s.httpServer.Addr).Msg("Loopback server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("loopback server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("loopback server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Server) String() string {
	return "loopback-server"
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("Failed to encode response")
	}
}

// isLocalPath accepts only absolute local paths, rejecting scheme-relative
// and absolute URLs that would make the post-login redirect an open
// redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

func clearReturnTo(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     returnToCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
