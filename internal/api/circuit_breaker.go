// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/metrics"
)

// CircuitBreakerClient wraps a Backend with the circuit breaker pattern so a
// slow or unavailable platform backend does not pile up blocked callers.
//
// Authentication failures do not count against the breaker: an expired
// session says nothing about backend availability, and a user with a revoked
// refresh token must not open the circuit for everyone else's traffic.
type CircuitBreakerClient struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker[any]
	name    string
}

var _ Backend = (*CircuitBreakerClient)(nil)

// NewCircuitBreakerClient wraps backend with circuit breaker protection.
// Configuration:
//   - max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(backend Backend) *CircuitBreakerClient {
	cbName := "readnest-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening backend circuit")
			}
			return shouldTrip
		},

		// Auth expiry and ordinary 4xx responses are not availability
		// failures.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, ErrAuthExpired) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) && se.Status < 500 {
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("backend circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{backend: backend, cb: cb, name: cbName}
}

// execute wraps a backend call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("backend request rejected by circuit breaker")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// Me retrieves the profile with circuit breaker protection.
func (cbc *CircuitBreakerClient) Me(ctx context.Context) (*Profile, error) {
	return castResult[Profile](cbc.execute(func() (any, error) {
		return cbc.backend.Me(ctx)
	}))
}

// MyExperience retrieves the experience total with circuit breaker
// protection.
func (cbc *CircuitBreakerClient) MyExperience(ctx context.Context) (int64, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.backend.MyExperience(ctx)
	})
	if err != nil {
		return 0, err
	}
	exp, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return exp, nil
}

// Logout invalidates the session with circuit breaker protection.
func (cbc *CircuitBreakerClient) Logout(ctx context.Context) error {
	_, err := cbc.execute(func() (any, error) {
		return nil, cbc.backend.Logout(ctx)
	})
	return err
}

// UpdateProfile patches the profile with circuit breaker protection.
func (cbc *CircuitBreakerClient) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	return castResult[Profile](cbc.execute(func() (any, error) {
		return cbc.backend.UpdateProfile(ctx, update)
	}))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
