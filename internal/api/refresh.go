// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package api

import (
	"context"
	"time"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/token"
)

// refreshLead is how far before the hinted access-token expiry a proactive
// refresh fires.
const refreshLead = time.Minute

// refreshRecheck is the wake interval when there is no stored token, or the
// token carries no readable expiry hint.
const refreshRecheck = time.Minute

// refreshMinDelay floors the sleep between attempts so a failing backend is
// not hammered while a token sits inside the lead window.
const refreshMinDelay = 10 * time.Second

// ProactiveRefresh blocks until ctx is done, silently reissuing the access
// token shortly before the expiry its JWT exp claim hints at. Tokens without
// a readable hint are left to the reactive 401-triggered refresh. A failed
// attempt is logged and retried on the next wake; it never clears the store.
func (c *Client) ProactiveRefresh(ctx context.Context) error {
	for {
		if access, ok := c.tokens.Access(ctx); ok {
			if exp, ok := token.ExpiryHint(access); ok && time.Until(exp) <= refreshLead {
				if _, err := c.silentRefresh(ctx, access); err != nil {
					logging.Warn().Err(err).Msg("proactive token refresh failed")
				} else {
					logging.Debug().Time("expiry", exp).Msg("access token refreshed ahead of expiry")
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.nextRefreshDelay(ctx)):
		}
	}
}

// nextRefreshDelay is the sleep until the next attempt: refreshLead before
// the hinted expiry, floored at refreshMinDelay, or refreshRecheck when
// there is nothing to schedule against.
func (c *Client) nextRefreshDelay(ctx context.Context) time.Duration {
	access, ok := c.tokens.Access(ctx)
	if !ok {
		return refreshRecheck
	}
	exp, ok := token.ExpiryHint(access)
	if !ok {
		return refreshRecheck
	}
	d := time.Until(exp) - refreshLead
	if d < refreshMinDelay {
		return refreshMinDelay
	}
	return d
}
