// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package config

import (
	"time"

	"github.com/loganrossus/OpenConduit/pkg/credentials"
	"github.com/loganrossus/OpenConduit/pkg/transform"
)

// Config is the root configuration structure.
type Config struct {
	// Includes lists glob patterns of files whose credentials, integrations
	// and routes are merged into this one. Paths are relative to the file
	// that names them.
	Includes []string `yaml:"includes,omitempty"`

	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Health   HealthConfig   `yaml:"health"`
	Stats    StatsConfig    `yaml:"stats"`
	Defaults DefaultsConfig `yaml:"defaults"`

	// Credentials maps a credential_ref to its secret material. String
	// values may reference environment variables as ${NAME}.
	Credentials map[string]credentials.Credential `yaml:"credentials,omitempty"`

	Integrations []IntegrationConfig `yaml:"integrations,omitempty"`
	Routes       []RouteConfig       `yaml:"routes,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig defines Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// APIConfig defines the admin HTTP API server settings.
type APIConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Address           string   `yaml:"address"`
	AllowedNetworks   []string `yaml:"allowed_networks"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
}

// GatewayConfig defines the listener that serves canonical routes.
type GatewayConfig struct {
	Address             string        `yaml:"address"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes"`
	DefaultRouteTimeout time.Duration `yaml:"default_route_timeout"`
}

// StoreConfig selects the durable catalog backend.
type StoreConfig struct {
	// Type is bbolt, etcd or memory.
	Type        string        `yaml:"type"`
	Path        string        `yaml:"path"`
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	// Watch applies changes written by other instances (etcd only).
	Watch bool `yaml:"watch"`
	// PruneUnlisted deletes catalog records absent from the configuration
	// when seeding.
	PruneUnlisted bool `yaml:"prune_unlisted"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	// Backend is memory or redis.
	Backend       string        `yaml:"backend"`
	RedisURL      string        `yaml:"redis_url"`
	KeyPrefix     string        `yaml:"key_prefix"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries"`
}

// TracingConfig defines OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// HealthConfig defines the periodic connector health sweep.
type HealthConfig struct {
	Disabled         bool          `yaml:"disabled"`
	Interval         time.Duration `yaml:"interval"`
	SweepTimeout     time.Duration `yaml:"sweep_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// StatsConfig defines how mapping statistics are persisted.
type StatsConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultsConfig holds values applied to integrations that do not set them.
type DefaultsConfig struct {
	Timeout           time.Duration        `yaml:"timeout"`
	DegradedErrorRate float64              `yaml:"degraded_error_rate"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit         RateLimitConfig      `yaml:"rate_limit"`
	Retry             RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig tunes a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	MaxResetTimeout   time.Duration `yaml:"max_reset_timeout"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RateLimitConfig bounds the traffic sent to an integration. Zero fields
// are unlimited.
type RateLimitConfig struct {
	PerMinute     int `yaml:"per_minute"`
	PerHour       int `yaml:"per_hour"`
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueSize     int `yaml:"queue_size"`
}

// RetryConfig controls retries of retryable failures.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// IntegrationConfig declares one external data source.
type IntegrationConfig struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Category      string            `yaml:"category"`
	BaseURL       string            `yaml:"base_url"`
	AuthType      string            `yaml:"auth_type"`
	CredentialRef string            `yaml:"credential_ref"`
	Headers       map[string]string `yaml:"headers,omitempty"`

	Timeout         time.Duration         `yaml:"timeout"`
	RateLimit       *RateLimitConfig      `yaml:"rate_limit,omitempty"`
	Retry           *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker  *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	HealthCheckPath string                `yaml:"health_check_path"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// RouteConfig declares a canonical route and its mappings.
type RouteConfig struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	Path           string        `yaml:"path"`
	Method         string        `yaml:"method"`
	Strategy       string        `yaml:"strategy"`
	Timeout        time.Duration `yaml:"timeout"`
	FailOnAnyError bool          `yaml:"fail_on_any_error"`
	// ThrottlePolicy is reject (default) or queue.
	ThrottlePolicy string `yaml:"throttle_policy"`
	Enabled        *bool  `yaml:"enabled,omitempty"`

	Mappings []MappingConfig `yaml:"mappings"`
}

// MappingConfig links the enclosing route to an integration.
type MappingConfig struct {
	// ID defaults to "<route>.<integration>".
	ID          string `yaml:"id"`
	Integration string `yaml:"integration"`
	Priority    int    `yaml:"priority"`
	Fallback    bool   `yaml:"fallback"`

	EndpointPath   string `yaml:"endpoint_path"`
	EndpointMethod string `yaml:"endpoint_method"`

	RequestTemplate   RequestTemplateConfig `yaml:"request_template,omitempty"`
	RequestTransform  transform.Descriptor  `yaml:"request_transform,omitempty"`
	ResponseTransform transform.Descriptor  `yaml:"response_transform,omitempty"`

	Cache   MappingCacheConfig `yaml:"cache,omitempty"`
	Timeout time.Duration      `yaml:"timeout"`
	Enabled *bool              `yaml:"enabled,omitempty"`
}

// RequestTemplateConfig shapes the outbound headers and query.
type RequestTemplateConfig struct {
	Headers map[string]string `yaml:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty"`
}

// MappingCacheConfig enables response caching for a mapping.
type MappingCacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	KeyTemplate string        `yaml:"key_template"`
}

func enabled(b *bool) bool { return b == nil || *b }
