// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/notify"
)

// connectRetryDelay spaces out supervisor-level restarts when the initial
// dial fails; the channel's own backoff handles reconnects after that.
const connectRetryDelay = 2 * time.Second

// NotifyChannel is the channel surface the service needs.
type NotifyChannel interface {
	Connect(ctx context.Context) error
	IsConnected() bool
}

// NotifyService runs the notification channel under supervision. The
// channel reconnects on its own once up; this service only owns the
// initial connect and the unconfigured-endpoint case.
type NotifyService struct {
	channel NotifyChannel
}

// NewNotifyService wraps a notification channel as a suture service.
func NewNotifyService(channel NotifyChannel) *NotifyService {
	return &NotifyService{channel: channel}
}

// Serve implements suture.Service.
func (s *NotifyService) Serve(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		if errors.Is(err, notify.ErrNoEndpoint) {
			// Feature off. Park until shutdown instead of crash-looping.
			logging.Info().Msg("Notification channel disabled, no endpoint configured")
			<-ctx.Done()
			return ctx.Err()
		}
		logging.Warn().Err(err).Msg("Notification channel connect failed")
		select {
		case <-time.After(connectRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *NotifyService) String() string {
	return "notify-channel"
}
