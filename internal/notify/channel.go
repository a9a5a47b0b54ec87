// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

/*
channel.go - Real-Time Notification Channel

This file implements a WebSocket client for receiving real-time group
reading invitations from the Readnest platform.

WebSocket Endpoint: ws://{backend}/ws?token={access_token}
*/

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/metrics"
	"github.com/readnest/readnest-go/internal/token"
)

// ErrNoEndpoint is returned by Connect when no notification endpoint is
// configured. Callers treat it as "feature off" and fall back to polling.
var ErrNoEndpoint = errors.New("notification endpoint not configured")

// ErrNotConnected is returned when a write is attempted without an open
// connection.
var ErrNotConnected = errors.New("notification channel not connected")

const readDeadline = 60 * time.Second

// Handler receives the payload of one notification event, verbatim as the
// server sent it. Handlers run on the read loop goroutine and must not
// block.
type Handler func(payload json.RawMessage)

// Options configures a Channel. Zero values fall back to sensible
// defaults.
type Options struct {
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 1 * time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 32 * time.Second
	}
}

// Channel manages the WebSocket connection for real-time notifications.
// Connect is idempotent; a lost connection is re-established with
// exponential backoff and all registered topics are resubscribed.
type Channel struct {
	endpoint string
	tokens   token.Store
	opts     Options

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	subMu sync.RWMutex
	subs  map[string]Handler
}

// NewChannel creates a notification channel. endpoint is the full ws:// or
// wss:// URL; an empty endpoint yields ErrNoEndpoint from Connect. The
// access token for the handshake is read from tokens at each (re)connect.
func NewChannel(endpoint string, tokens token.Store, opts Options) *Channel {
	opts.withDefaults()
	return &Channel{
		endpoint: endpoint,
		tokens:   tokens,
		opts:     opts,
		stopChan: make(chan struct{}),
		subs:     make(map[string]Handler),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops. Calling it while connected is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	if c.endpoint == "" {
		return ErrNoEndpoint
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}

	if err := c.dialLocked(ctx); err != nil {
		c.connMu.Unlock()
		return err
	}

	if !c.started {
		c.started = true
		c.wg.Add(2)
		go c.listen(ctx)
		go c.pingLoop(ctx)
	}
	c.connMu.Unlock()

	c.resubscribeAll()
	return nil
}

// dialLocked performs the handshake and installs the connection. The
// caller holds connMu.
func (c *Channel) dialLocked(ctx context.Context) error {
	url := c.endpoint
	if access, ok := c.tokens.Access(ctx); ok {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + access
	}

	logging.Info().Str("endpoint", c.endpoint).Msg("Connecting notification channel")

	dialer := websocket.Dialer{
		HandshakeTimeout:  c.opts.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("notification dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("notification dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("failed to close handshake response body")
		}
	}

	c.conn = conn
	metrics.NotifyConnected.Set(1)
	logging.Info().Msg("Notification channel connected")
	return nil
}

// SubscribeInvitations registers a handler for the user's invitation
// topic. A duplicate subscription for the same user is rejected with a log
// line and the existing handler stays in place.
func (c *Channel) SubscribeInvitations(userID int64, fn Handler) {
	topic := InvitationTopic(userID)

	c.subMu.Lock()
	if _, exists := c.subs[topic]; exists {
		c.subMu.Unlock()
		logging.Warn().Str("topic", topic).Msg("Duplicate subscription rejected")
		return
	}
	c.subs[topic] = fn
	c.subMu.Unlock()

	metrics.NotifySubscriptions.Inc()

	if err := c.writeFrame(Frame{Type: frameSubscribe, Destination: topic}); err != nil {
		// The topic stays registered; resubscribeAll replays it once the
		// connection is back.
		logging.Debug().Err(err).Str("topic", topic).Msg("Subscribe frame deferred")
	}
}

// UnsubscribeInvitations removes the handler for the user's invitation
// topic. Unsubscribing a topic that was never registered is a no-op.
func (c *Channel) UnsubscribeInvitations(userID int64) {
	topic := InvitationTopic(userID)

	c.subMu.Lock()
	if _, exists := c.subs[topic]; !exists {
		c.subMu.Unlock()
		return
	}
	delete(c.subs, topic)
	c.subMu.Unlock()

	metrics.NotifySubscriptions.Dec()

	if err := c.writeFrame(Frame{Type: frameUnsubscribe, Destination: topic}); err != nil {
		logging.Debug().Err(err).Str("topic", topic).Msg("Unsubscribe frame not sent")
	}
}

// resubscribeAll replays subscribe frames for every registered topic.
func (c *Channel) resubscribeAll() {
	c.subMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subMu.RUnlock()

	for _, topic := range topics {
		if err := c.writeFrame(Frame{Type: frameSubscribe, Destination: topic}); err != nil {
			logging.Warn().Err(err).Str("topic", topic).Msg("Resubscribe failed")
		}
	}
}

// listen processes incoming frames and drives reconnection.
func (c *Channel) listen(ctx context.Context) {
	defer c.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectInitial
	policy.MaxInterval = c.opts.ReconnectMax
	policy.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Notification listener stopping (context canceled)")
			return
		case <-c.stopChan:
			logging.Info().Msg("Notification listener stopping (close)")
			return
		default:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				delay := policy.NextBackOff()
				logging.Info().Dur("delay", delay).Msg("Notification channel lost, reconnecting")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-c.stopChan:
					return
				}

				metrics.NotifyReconnects.Inc()
				if err := c.reconnect(ctx); err != nil {
					logging.Warn().Err(err).Msg("Notification reconnect failed")
					continue
				}
				c.resubscribeAll()
				continue
			}

			if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
				logging.Debug().Err(err).Msg("Failed to set read deadline")
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Info().Msg("Notification channel closed by server")
				} else if ctx.Err() != nil {
					return
				} else {
					logging.Warn().Err(err).Msg("Notification read error")
				}
				c.closeConnection()
				continue
			}

			policy.Reset()
			c.handleFrame(message)
		}
	}
}

// reconnect re-dials without spawning new loops.
func (c *Channel) reconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

// handleFrame dispatches one incoming frame. Message payloads are passed
// to the topic's handler exactly as received.
func (c *Channel) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.Warn().Err(err).Msg("Failed to parse notification frame")
		return
	}

	switch frame.Type {
	case frameMessage:
		c.subMu.RLock()
		fn, ok := c.subs[frame.Destination]
		c.subMu.RUnlock()

		if !ok {
			logging.Debug().Str("topic", frame.Destination).Msg("Event for unsubscribed topic")
			return
		}
		metrics.NotifyEventsTotal.WithLabelValues("invitation").Inc()
		fn(frame.Payload)

	case framePing:
		if err := c.writeFrame(Frame{Type: framePong}); err != nil {
			logging.Debug().Err(err).Msg("Pong failed")
		}

	case framePong:
		// Keep-alive acknowledgment.

	default:
		logging.Debug().Str("type", frame.Type).Msg("Unknown notification frame type")
	}
}

// pingLoop sends periodic keep-alive frames.
func (c *Channel) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := c.writeFrame(Frame{Type: framePing}); err != nil {
				if !errors.Is(err, ErrNotConnected) {
					logging.Warn().Err(err).Msg("Keep-alive failed")
					c.closeConnection()
				}
			}
		}
	}
}

// writeFrame serializes and sends one frame.
func (c *Channel) writeFrame(frame Frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(frame)
}

// closeConnection safely tears down the WebSocket connection.
func (c *Channel) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}

	if err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(1*time.Second),
	); err != nil {
		logging.Debug().Err(err).Msg("Failed to send close frame")
	}
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close notification connection")
	}
	c.conn = nil
	metrics.NotifyConnected.Set(0)
}

// IsConnected reports whether the channel currently holds an open
// connection.
func (c *Channel) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Close shuts the channel down and waits for its goroutines.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.closeConnection()
	c.wg.Wait()
	logging.Info().Msg("Notification channel closed")
	return nil
}
