// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package token persists the bearer token pair used for API authorization.
//
// Tokens are opaque strings: the store never validates their contents. The
// access token and refresh token live under separate fixed keys, apart from
// any session snapshot, so clearing one never requires parsing or rewriting
// the other. An absent token is reported as ("", false), never as an error.
package token

import "context"

// Storage keys. Fixed so that token state survives restarts under stable
// names.
const (
	accessKey  = "token:access"
	refreshKey = "token:refresh"
)

// Pair holds the access and refresh bearer tokens.
type Pair struct {
	Access  string
	Refresh string
}

// Store is the durable storage contract for the token pair.
//
// Save writes both tokens together. SaveAccess replaces only the access
// token, which is what a silent refresh does when the refresh token is not
// rotated. Clear removes both tokens; clearing an empty store is a no-op.
type Store interface {
	Save(ctx context.Context, pair Pair) error
	SaveAccess(ctx context.Context, access string) error
	Access(ctx context.Context) (string, bool)
	Refresh(ctx context.Context) (string, bool)
	Clear(ctx context.Context) error
}
