// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package metrics provides Prometheus metrics for OpenConduit observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all OpenConduit metrics.
const namespace = "conduit"

// Connector metrics
var (
	// ConnectorRequestsTotal counts upstream calls by outcome. The outcome is
	// "success" or a failure kind such as "timeout" or "circuit_open".
	ConnectorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_requests_total",
			Help:      "Total number of connector calls by integration and outcome",
		},
		[]string{"integration", "outcome"},
	)

	// ConnectorRequestDuration measures upstream call latency.
	ConnectorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_request_duration_seconds",
			Help:      "Upstream call duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"integration"},
	)

	// ConnectorState is 1 for the connector's current state and 0 otherwise.
	ConnectorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_state",
			Help:      "Connector lifecycle state (1 = current)",
		},
		[]string{"integration", "state"},
	)
)

// Circuit breaker metrics
var (
	// BreakerState tracks breaker position (0 = closed, 1 = half_open, 2 = open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 = closed, 1 = half_open, 2 = open)",
		},
		[]string{"integration"},
	)

	// BreakerTransitionsTotal counts breaker state changes.
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"integration", "from", "to"},
	)
)

// Rate limiter metrics
var (
	// RateLimitDecisionsTotal counts admission decisions.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total number of rate limiter decisions by result",
		},
		[]string{"integration", "decision"},
	)

	// RateLimitInFlight tracks admitted calls still running.
	RateLimitInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_in_flight",
			Help:      "Current number of admitted in-flight calls",
		},
		[]string{"integration"},
	)

	// RateLimitQueueDepth tracks calls waiting for admission.
	RateLimitQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_queue_depth",
			Help:      "Current number of calls queued for admission",
		},
		[]string{"integration"},
	)
)

// Cache metrics
var (
	// CacheRequestsTotal counts cache lookups by result.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of response cache lookups by result",
		},
		[]string{"integration", "result"},
	)
)

// Routing metrics
var (
	// RouteRequestsTotal counts aggregated route executions.
	RouteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Total number of route executions by strategy and status",
		},
		[]string{"route", "strategy", "status"},
	)

	// RouteDuration measures end-to-end route execution time.
	RouteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Route execution duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "strategy"},
	)

	// MappingCallsTotal counts executor calls per mapping.
	MappingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_calls_total",
			Help:      "Total number of mapping calls by outcome",
		},
		[]string{"route", "mapping", "outcome"},
	)
)

// Health check metrics
var (
	// HealthCheckResultsTotal counts health probe results.
	HealthCheckResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_check_results_total",
			Help:      "Total number of integration health probe results",
		},
		[]string{"integration", "result"},
	)

	// HealthCheckDuration measures health probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_duration_seconds",
			Help:      "Health probe duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"integration"},
	)
)

// Application metrics
var (
	// AppInfo exposes the running version.
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Application information",
		},
		[]string{"version"},
	)

	// ConfiguredIntegrations tracks the catalog size.
	ConfiguredIntegrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configured_integrations",
			Help:      "Number of integrations in the catalog",
		},
	)

	// ConfiguredRoutes tracks the number of routes.
	ConfiguredRoutes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configured_routes",
			Help:      "Number of routes in the catalog",
		},
	)

	// ConfigLoadTimestamp is when configuration was last loaded.
	ConfigLoadTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_load_timestamp_seconds",
			Help:      "Unix timestamp of the last configuration load",
		},
	)

	// ConfigReloadsTotal counts reload attempts.
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts",
		},
		[]string{"result"},
	)
)

// ConnectorStates lists every connector state label, so SetConnectorState can
// zero the others.
var ConnectorStates = []string{"uninitialized", "connecting", "connected", "degraded", "circuit_open", "disabled"}

// RecordConnectorRequest records an upstream call.
func RecordConnectorRequest(integration, outcome string, durationSeconds float64) {
	ConnectorRequestsTotal.WithLabelValues(integration, outcome).Inc()
	if durationSeconds > 0 {
		ConnectorRequestDuration.WithLabelValues(integration).Observe(durationSeconds)
	}
}

// SetConnectorState marks state as the connector's current state.
func SetConnectorState(integration, state string) {
	for _, s := range ConnectorStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectorState.WithLabelValues(integration, s).Set(v)
	}
}

// RecordBreakerTransition records a breaker state change.
func RecordBreakerTransition(integration, from, to string) {
	BreakerTransitionsTotal.WithLabelValues(integration, from, to).Inc()
	var v float64
	switch to {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(integration).Set(v)
}

// RecordRateLimitDecision records an admission decision.
func RecordRateLimitDecision(integration, decision string) {
	RateLimitDecisionsTotal.WithLabelValues(integration, decision).Inc()
}

// SetRateLimitLoad publishes limiter occupancy.
func SetRateLimitLoad(integration string, inFlight, queued int) {
	RateLimitInFlight.WithLabelValues(integration).Set(float64(inFlight))
	RateLimitQueueDepth.WithLabelValues(integration).Set(float64(queued))
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(integration string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequestsTotal.WithLabelValues(integration, result).Inc()
}

// RecordRouteRequest records a route execution.
func RecordRouteRequest(route, strategy, status string, durationSeconds float64) {
	RouteRequestsTotal.WithLabelValues(route, strategy, status).Inc()
	RouteDuration.WithLabelValues(route, strategy).Observe(durationSeconds)
}

// RecordMappingCall records one executor call.
func RecordMappingCall(route, mapping, outcome string) {
	MappingCallsTotal.WithLabelValues(route, mapping, outcome).Inc()
}

// RecordHealthCheck records a health probe.
func RecordHealthCheck(integration string, healthy bool, durationSeconds float64) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	HealthCheckResultsTotal.WithLabelValues(integration, result).Inc()
	HealthCheckDuration.WithLabelValues(integration).Observe(durationSeconds)
}

// ForgetIntegration drops every per-integration series, for removed
// integrations.
func ForgetIntegration(integration string) {
	match := prometheus.Labels{"integration": integration}
	ConnectorRequestsTotal.DeletePartialMatch(match)
	ConnectorRequestDuration.DeletePartialMatch(match)
	ConnectorState.DeletePartialMatch(match)
	BreakerState.DeletePartialMatch(match)
	BreakerTransitionsTotal.DeletePartialMatch(match)
	RateLimitDecisionsTotal.DeletePartialMatch(match)
	RateLimitInFlight.DeletePartialMatch(match)
	RateLimitQueueDepth.DeletePartialMatch(match)
	CacheRequestsTotal.DeletePartialMatch(match)
	HealthCheckResultsTotal.DeletePartialMatch(match)
	HealthCheckDuration.DeletePartialMatch(match)
}

// SetAppInfo sets the application info metric.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version).Set(1)
}

// SetConfigMetrics sets configuration-related metrics.
func SetConfigMetrics(integrations, routes int, loadTime float64) {
	ConfiguredIntegrations.Set(float64(integrations))
	ConfiguredRoutes.Set(float64(routes))
	ConfigLoadTimestamp.Set(loadTime)
}

// RecordReload records a configuration reload attempt.
func RecordReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	ConfigReloadsTotal.WithLabelValues(result).Inc()
}
