// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package metrics provides Prometheus instrumentation for the Readnest
// client: backend API latency and errors, silent token refresh outcomes,
// session lifecycle transitions, and notification channel health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backend API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readnest_api_request_duration_seconds",
			Help:    "Duration of backend API requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_api_requests_total",
			Help: "Total number of backend API requests",
		},
		[]string{"method", "path", "status_code"},
	)

	APIRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_api_request_errors_total",
			Help: "Total number of backend API transport errors",
		},
		[]string{"method", "path"},
	)

	// Silent refresh metrics
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_token_refresh_total",
			Help: "Total number of silent token refresh attempts",
		},
		[]string{"outcome"}, // "success", "failure", "rejected", "discarded"
	)

	// Session lifecycle metrics
	SessionComposeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_session_compose_total",
			Help: "Total number of session fetch-and-compose rounds",
		},
		[]string{"operation", "outcome"}, // operation: "initialize", "login", "refresh"
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readnest_session_active",
			Help: "1 when an authenticated session is held, 0 otherwise",
		},
	)

	SessionLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readnest_session_level",
			Help: "Derived reader level of the current session (0 when unauthenticated)",
		},
	)

	// Notification channel metrics
	NotifyConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readnest_notify_connected",
			Help: "1 when the notification channel is connected, 0 otherwise",
		},
	)

	NotifyReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readnest_notify_reconnects_total",
			Help: "Total number of notification channel reconnect attempts",
		},
	)

	NotifyEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_notify_events_total",
			Help: "Total number of notification events delivered to subscribers",
		},
		[]string{"type"},
	)

	NotifySubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readnest_notify_subscriptions",
			Help: "Current number of active topic subscriptions",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "readnest_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	// Loopback HTTP surface metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readnest_http_request_duration_seconds",
			Help:    "Loopback HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readnest_http_requests_total",
			Help: "Total loopback HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
)
