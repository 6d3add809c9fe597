// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package catalog

import (
	"time"

	"github.com/loganrossus/OpenConduit/pkg/transform"
)

// Category groups integrations by the kind of source they front.
type Category string

const (
	CategoryHospital    Category = "hospital"
	CategoryBorder      Category = "border"
	CategoryTransit     Category = "transit"
	CategoryMorgue      Category = "morgue"
	CategorySocialMedia Category = "social_media"
	CategoryCustom      Category = "custom"
)

// AuthType selects how credentials are applied to outbound calls.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	// AuthOAuth2 sends a pre-issued access token as a bearer token.
	AuthOAuth2 AuthType = "oauth2"
)

// Status is the administrative status of an integration.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusError       Status = "error"
	StatusPending     Status = "pending"
	StatusConfiguring Status = "configuring"
)

// Strategy names an aggregation strategy.
type Strategy string

const (
	StrategyFirstSuccess  Strategy = "first_success"
	StrategyPriorityOrder Strategy = "priority_order"
	StrategyAllParallel   Strategy = "all_parallel"
	StrategyMergeResults  Strategy = "merge_results"
	StrategyChain         Strategy = "chain"
)

// ThrottlePolicy selects what happens to calls that exceed an integration's
// rate limits on a route.
type ThrottlePolicy string

const (
	ThrottleReject ThrottlePolicy = "reject"
	ThrottleQueue  ThrottlePolicy = "queue"
)

// BreakerSettings overrides the default circuit breaker for one integration.
// Zero fields fall back to the process defaults.
type BreakerSettings struct {
	FailureThreshold  int     `json:"failure_threshold,omitempty"`
	ResetTimeoutMs    int     `json:"reset_timeout_ms,omitempty"`
	MaxResetTimeoutMs int     `json:"max_reset_timeout_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// Integration is one external data source.
type Integration struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Category      Category          `json:"category"`
	BaseURL       string            `json:"base_url"`
	AuthType      AuthType          `json:"auth_type"`
	CredentialRef string            `json:"credential_ref,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`

	TimeoutMs          int `json:"timeout_ms"`
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerHour   int `json:"rate_limit_per_hour,omitempty"`
	MaxConcurrent      int `json:"max_concurrent,omitempty"`
	QueueSize          int `json:"queue_size,omitempty"`
	RetryAttempts      int `json:"retry_attempts,omitempty"`
	RetryDelayMs       int `json:"retry_delay_ms,omitempty"`

	CircuitBreaker  BreakerSettings `json:"circuit_breaker,omitempty"`
	HealthCheckPath string          `json:"health_check_path,omitempty"`

	IsEnabled bool      `json:"is_enabled"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timeout returns the per-call timeout.
func (i Integration) Timeout() time.Duration {
	return time.Duration(i.TimeoutMs) * time.Millisecond
}

// Route is a stable canonical endpoint served by one or more integrations.
type Route struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// Path may contain {param} segments, e.g. /persons/{id}/records.
	Path           string         `json:"path"`
	Method         string         `json:"method"`
	Strategy       Strategy       `json:"strategy"`
	TimeoutMs      int            `json:"timeout_ms"`
	FailOnAnyError bool           `json:"fail_on_any_error,omitempty"`
	ThrottlePolicy ThrottlePolicy `json:"throttle_policy,omitempty"`
	IsEnabled      bool           `json:"is_enabled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Timeout returns the route-wide deadline.
func (r Route) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// RequestTemplate shapes the outbound call. Values may contain
// {{params.x}}, {{query.x}}, {{header.x}} and {{body.path}} placeholders.
type RequestTemplate struct {
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
}

// Mapping links a route to an integration.
type Mapping struct {
	ID            string `json:"id"`
	RouteID       string `json:"route_id"`
	IntegrationID string `json:"integration_id"`
	// Priority orders mappings, lower first.
	Priority   int  `json:"priority"`
	IsFallback bool `json:"is_fallback,omitempty"`

	EndpointPath   string `json:"endpoint_path"`
	EndpointMethod string `json:"endpoint_method"`

	RequestTemplate   RequestTemplate      `json:"request_template,omitempty"`
	RequestTransform  transform.Descriptor `json:"request_transform,omitempty"`
	ResponseTransform transform.Descriptor `json:"response_transform,omitempty"`

	CacheEnabled     bool   `json:"cache_enabled,omitempty"`
	CacheTTLSeconds  int    `json:"cache_ttl_seconds,omitempty"`
	CacheKeyTemplate string `json:"cache_key_template,omitempty"`

	// TimeoutMs overrides the integration timeout for this mapping.
	TimeoutMs int  `json:"timeout_ms,omitempty"`
	IsEnabled bool `json:"is_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheTTL returns the cache lifetime.
func (m Mapping) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// MappingStats are running call statistics for one mapping. They only grow.
type MappingStats struct {
	MappingID         string     `json:"mapping_id"`
	TotalCalls        uint64     `json:"total_calls"`
	SuccessfulCalls   uint64     `json:"successful_calls"`
	FailedCalls       uint64     `json:"failed_calls"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	LastCalledAt      *time.Time `json:"last_called_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastErrorKind     string     `json:"last_error_kind,omitempty"`
}

// SuccessRate returns successful / total, or zero before any call.
func (s MappingStats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessfulCalls) / float64(s.TotalCalls)
}

// ChangeKind identifies the record type in a Change.
type ChangeKind string

const (
	ChangeIntegration ChangeKind = "integration"
	ChangeRoute       ChangeKind = "route"
	ChangeMapping     ChangeKind = "mapping"
)

// Change describes a catalog mutation, local or observed through the store.
type Change struct {
	Kind    ChangeKind
	ID      string
	Deleted bool
}
