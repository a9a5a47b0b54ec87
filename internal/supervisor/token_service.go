// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package supervisor

import "context"

// TokenRefresher is the client surface that drives scheduled token reissue.
type TokenRefresher interface {
	ProactiveRefresh(ctx context.Context) error
}

// TokenRefreshService runs the proactive token refresh loop under
// supervision, so an access token is reissued shortly before its hinted
// expiry instead of waiting for the first 401.
type TokenRefreshService struct {
	refresher TokenRefresher
}

// NewTokenRefreshService wraps a refresher as a suture service.
func NewTokenRefreshService(refresher TokenRefresher) *TokenRefreshService {
	return &TokenRefreshService{refresher: refresher}
}

// Serve implements suture.Service.
func (s *TokenRefreshService) Serve(ctx context.Context) error {
	return s.refresher.ProactiveRefresh(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *TokenRefreshService) String() string {
	return "token-refresh"
}
