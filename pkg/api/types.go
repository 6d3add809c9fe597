// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package api provides the admin HTTP API and the gateway handler that
// serves canonical routes.
package api

import (
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/health"
)

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	// Kind is the failure class for gateway errors.
	Kind              string   `json:"kind,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	Details           []string `json:"details,omitempty"`
}

// ReadyResponse is the response for GET /api/v1/ready.
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// LiveResponse is the response for GET /api/v1/live.
type LiveResponse struct {
	Alive bool `json:"alive"`
}

// VersionResponse is the response for GET /api/v1/version.
type VersionResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// IntegrationResponse is an integration record with its live connector state.
type IntegrationResponse struct {
	catalog.Integration
	ConnectorState connector.State `json:"connector_state,omitempty"`
}

// IntegrationListResponse is the response for GET /api/v1/integrations.
type IntegrationListResponse struct {
	Integrations []IntegrationResponse `json:"integrations"`
	Total        int                   `json:"total"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// RouteResponse is a route with its mappings.
type RouteResponse struct {
	catalog.Route
	Mappings []catalog.Mapping `json:"mappings"`
}

// RouteListResponse is the response for GET /api/v1/routes.
type RouteListResponse struct {
	Routes      []RouteResponse `json:"routes"`
	Total       int             `json:"total"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// MappingListResponse is the response for GET /api/v1/routes/{id}/mappings.
type MappingListResponse struct {
	Mappings []catalog.Mapping `json:"mappings"`
	Total    int               `json:"total"`
}

// ConnectorListResponse is the response for GET /api/v1/connectors.
type ConnectorListResponse struct {
	Connectors  []connector.Metrics `json:"connectors"`
	Total       int                 `json:"total"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// StatsResponse is the response for GET /api/v1/stats.
type StatsResponse struct {
	Integrations int                  `json:"integrations"`
	Routes       int                  `json:"routes"`
	Mappings     int                  `json:"mappings"`
	Connectors   connector.FleetStats `json:"connectors"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// IntegrationHealth is the tracked health of one integration.
type IntegrationHealth struct {
	IntegrationID        string     `json:"integration_id"`
	Status               string     `json:"status"`
	Healthy              bool       `json:"healthy"`
	LastCheck            *time.Time `json:"last_check,omitempty"`
	LastHealthy          *time.Time `json:"last_healthy,omitempty"`
	LatencyMs            int64      `json:"latency_ms"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastError            string     `json:"last_error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Integrations []IntegrationHealth `json:"integrations"`
	LastSweep    *time.Time          `json:"last_sweep,omitempty"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// HealthCheckResult is one probe outcome of an on-demand sweep.
type HealthCheckResult struct {
	IntegrationID string `json:"integration_id"`
	Healthy       bool   `json:"healthy"`
	StatusCode    int    `json:"status_code,omitempty"`
	Stage         string `json:"stage,omitempty"`
	LatencyMs     int64  `json:"latency_ms"`
	Error         string `json:"error,omitempty"`
}

// HealthCheckResponse is the response for POST /api/v1/health/check.
type HealthCheckResponse struct {
	Results     []HealthCheckResult `json:"results"`
	Healthy     int                 `json:"healthy"`
	Unhealthy   int                 `json:"unhealthy"`
	GeneratedAt time.Time           `json:"generated_at"`
}

func healthView(s health.Snapshot) IntegrationHealth {
	v := IntegrationHealth{
		IntegrationID:        s.ID,
		Status:               s.Status.String(),
		Healthy:              s.Status == health.StatusHealthy,
		LatencyMs:            s.LastLatency.Milliseconds(),
		ConsecutiveFailures:  s.ConsecutiveFails,
		ConsecutiveSuccesses: s.ConsecutivePasses,
	}
	if !s.LastCheck.IsZero() {
		t := s.LastCheck
		v.LastCheck = &t
	}
	if !s.LastHealthy.IsZero() {
		t := s.LastHealthy
		v.LastHealthy = &t
	}
	if s.LastError != nil {
		v.LastError = s.LastError.Error()
	}
	return v
}
