// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package main is the entry point for the readnestd client daemon.
//
// Readnestd is a local companion for the Readnest social reading platform.
// It keeps an authenticated session alive against the platform backend,
// persists tokens across restarts, receives real-time group reading
// invitations, and exposes a loopback HTTP surface for login, status, and
// metrics.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Storage: BadgerDB for tokens and the session snapshot
//  3. API client: backend REST client with silent token refresh
//  4. Session controller: login, rehydration, logout, level derivation
//  5. Notification channel: WebSocket invitations (optional)
//  6. Loopback server: OAuth callback, status, health, metrics
//
// The notification channel and the loopback server run under a Suture
// supervisor tree so a crash in one does not take down the other.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (readnest.yaml),
// built-in defaults.
//
// Required:
//   - READNEST_BACKEND_URL: platform base URL, e.g. https://api.readnest.io
//
// Common options:
//   - READNEST_STORAGE_PATH: BadgerDB directory (default ./readnest-data)
//   - READNEST_HTTP_PORT: loopback port (default 4680)
//   - READNEST_NOTIFY_ENABLED: realtime invitations (default true)
//   - READNEST_LOG_LEVEL: trace|debug|info|warn|error (default info)
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the loopback
// server drains in-flight requests, the notification channel sends a close
// frame, and BadgerDB is closed last.
//
// # Example Usage
//
//	export READNEST_BACKEND_URL=https://api.readnest.io
//	./readnestd
//
// Then open http://127.0.0.1:4680/auth/login/kakao in a browser to sign in.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/readnest/readnest-go/internal/api"
	"github.com/readnest/readnest-go/internal/config"
	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/notify"
	"github.com/readnest/readnest-go/internal/server"
	"github.com/readnest/readnest-go/internal/session"
	"github.com/readnest/readnest-go/internal/supervisor"
	"github.com/readnest/readnest-go/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend", cfg.Backend.URL).
		Str("callback", cfg.CallbackURL()).
		Bool("notify", cfg.Notify.Enabled).
		Msg("Starting readnestd")

	// Storage for tokens and the session snapshot.
	var (
		tokens    token.Store
		snapshots session.SnapshotStore
		db        *badger.DB
	)
	if cfg.Storage.InMemory {
		logging.Warn().Msg("In-memory storage enabled, session will not survive restarts")
		tokens = token.NewMemoryStore()
		snapshots = session.NewMemorySnapshotStore()
	} else {
		opts := badger.DefaultOptions(cfg.Storage.Path).WithLogger(nil)
		db, err = badger.Open(opts)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open storage")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing storage")
			}
		}()
		tokens = token.NewBadgerStore(db)
		snapshots = session.NewBadgerSnapshotStore(db)
	}

	// The API client needs the session-expired hook before the controller
	// exists; bind it through a late-filled pointer.
	var ctrl *session.Controller
	clientOpts := []api.Option{
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithSessionExpiredHook(func() {
			if ctrl != nil {
				ctrl.HandleSessionExpired()
			}
		}),
	}
	if cfg.Backend.RatePerSecond > 0 {
		clientOpts = append(clientOpts, api.WithRateLimit(cfg.Backend.RatePerSecond, cfg.Backend.RateBurst))
	}

	client := api.New(cfg.Backend.URL, tokens, clientOpts...)
	var backend api.Backend = client
	if cfg.Backend.BreakerEnabled {
		backend = api.NewCircuitBreakerClient(backend)
	}

	ctrl = session.NewController(backend, tokens, snapshots, cfg.Backend.URL, cfg.OAuth.Providers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snap, ok := ctrl.RestoreHint(ctx); ok && snap.User != nil {
		logging.Info().
			Str("nickname", snap.User.Nickname).
			Int("level", snap.User.Level).
			Time("saved_at", snap.SavedAt).
			Msg("Found previous session snapshot")
	}

	if err := ctrl.Initialize(ctx); err != nil {
		// Not fatal: the daemon runs unauthenticated until the next login.
		logging.Warn().Err(err).Msg("Session rehydration failed")
	}

	// Realtime invitations follow the session: subscribe on login,
	// unsubscribe on logout.
	var channel *notify.Channel
	if cfg.Notify.Enabled && cfg.NotifyURL() != "" {
		channel = notify.NewChannel(cfg.NotifyURL(), tokens, notify.Options{
			PingInterval:     cfg.Notify.PingInterval,
			HandshakeTimeout: cfg.Notify.HandshakeTimeout,
			ReconnectInitial: cfg.Notify.ReconnectInitial,
			ReconnectMax:     cfg.Notify.ReconnectMax,
		})
		defer func() {
			if err := channel.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing notification channel")
			}
		}()
		bindInvitations(ctrl, channel)
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.NewTokenRefreshService(client))
	if channel != nil {
		tree.AddMessagingService(supervisor.NewNotifyService(channel))
	}

	var notifier server.Notifier
	if channel != nil {
		notifier = channel
	}
	addr := cfg.ListenAddr()
	srv := server.New(addr, cfg.Server.Timeout, ctrl, notifier)
	tree.AddSurfaceService(srv)

	logging.Info().Str("addr", addr).Msg("readnestd ready")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree terminated")
	}

	logging.Info().Msg("readnestd stopped")
}

// invitation is the payload of a group reading invitation event, decoded
// only for logging; subscribers get the raw payload.
type invitation struct {
	GroupID   int64  `json:"groupId"`
	GroupName string `json:"groupName"`
	From      string `json:"from"`
}

// bindInvitations keeps the invitation subscription in sync with the
// session: logging in subscribes the user's topic, logging out removes it.
func bindInvitations(ctrl *session.Controller, channel *notify.Channel) {
	var mu sync.Mutex
	var subscribedUser int64

	if s := ctrl.Current(); s != nil {
		subscribedUser = s.UserID
		channel.SubscribeInvitations(s.UserID, logInvitation)
	}

	ctrl.Subscribe(func(s *session.Session) {
		mu.Lock()
		defer mu.Unlock()

		if s == nil {
			if subscribedUser != 0 {
				channel.UnsubscribeInvitations(subscribedUser)
				subscribedUser = 0
			}
			return
		}
		if s.UserID == subscribedUser {
			return
		}
		if subscribedUser != 0 {
			channel.UnsubscribeInvitations(subscribedUser)
		}
		subscribedUser = s.UserID
		channel.SubscribeInvitations(s.UserID, logInvitation)
	})
}

func logInvitation(payload json.RawMessage) {
	var inv invitation
	if err := json.Unmarshal(payload, &inv); err != nil {
		logging.Warn().Err(err).Msg("Unparseable invitation event")
		return
	}
	logging.Info().
		Int64("group_id", inv.GroupID).
		Str("group", inv.GroupName).
		Str("from", inv.From).
		Msg("Group reading invitation received")
}
