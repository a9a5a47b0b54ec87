// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package notify

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Frame is the wire envelope for the notification channel. The platform
// uses plain JSON frames: a type discriminator, an optional destination
// topic, and an opaque payload handed to subscribers unmodified.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Frame types understood by the channel.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameMessage     = "message"
	framePing        = "ping"
	framePong        = "pong"
)

// InvitationTopic returns the per-user destination for group reading
// invitations.
func InvitationTopic(userID int64) string {
	return fmt.Sprintf("/topic/user/%d/invitations", userID)
}
