// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package api

import "fmt"

// Role is the closed set of account roles.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Profile is the response of GET /users/me.
type Profile struct {
	ID           int64  `json:"id"`
	LoginID      string `json:"loginId"`
	Nickname     string `json:"nickname"`
	Role         Role   `json:"role"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Experience is the response of GET /exp/me.
type Experience struct {
	TotalExp int64 `json:"totalExp"`
}

// ProfileUpdate is the request body of PATCH /users/me. Nil fields are
// omitted and left unchanged server-side.
type ProfileUpdate struct {
	Nickname       *string `json:"nickname,omitempty"`
	PreferredGenre *string `json:"preferredGenre,omitempty"`
}

// reissueRequest is the body of POST /auth/reissue.
type reissueRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// reissueResponse is the response of POST /auth/reissue. RefreshToken is
// empty when the backend does not rotate it.
type reissueResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// StatusError is returned for non-2xx backend responses that are not
// authentication failures.
type StatusError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
