// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package api

import (
	"context"
	"fmt"
	"net/http"
)

// Backend is the typed surface of the platform REST API consumed by the
// session layer. Both Client and CircuitBreakerClient implement it.
type Backend interface {
	Me(ctx context.Context) (*Profile, error)
	MyExperience(ctx context.Context) (int64, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error)
}

var _ Backend = (*Client)(nil)

// Me retrieves the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.Do(ctx, http.MethodGet, "/users/me", nil, &p); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &p, nil
}

// MyExperience retrieves the authenticated user's cumulative experience
// total.
func (c *Client) MyExperience(ctx context.Context) (int64, error) {
	var e Experience
	if err := c.Do(ctx, http.MethodGet, "/exp/me", nil, &e); err != nil {
		return 0, fmt.Errorf("fetch experience: %w", err)
	}
	return e.TotalExp, nil
}

// Logout asks the backend to invalidate the current tokens. The response
// body is ignored; callers treat failures as best-effort.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// UpdateProfile patches the authenticated user's profile and returns the
// updated snapshot.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	var p Profile
	if err := c.Do(ctx, http.MethodPatch, "/users/me", update, &p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &p, nil
}
