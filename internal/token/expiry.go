// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryHint inspects an access token for a JWT exp claim without verifying
// the signature.
//
// Tokens are contractually opaque: the backend may change their format at
// any time, and authorization decisions are never made from this value. The
// hint only lets the client schedule a proactive refresh a little before the
// reactive 401-triggered one would fire. A token that is not a parseable JWT
// yields (zero, false) and the caller falls back to reactive refresh only.
func ExpiryHint(access string) (time.Time, bool) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(access, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
