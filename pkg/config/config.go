// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/credentials"
)

// Default configuration values.
const (
	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Listener defaults
	DefaultMetricsAddress = ":9090"
	DefaultAPIAddress     = "127.0.0.1:8080"
	DefaultGatewayAddress = ":8000"

	// Component defaults
	DefaultMaxBodyBytes        = 1 << 20
	DefaultRouteTimeout        = 30 * time.Second
	DefaultStoreType           = "bbolt"
	DefaultStorePath           = "/var/lib/openconduit/catalog.db"
	DefaultStorePrefix         = "/openconduit/"
	DefaultStoreDialTimeout    = 5 * time.Second
	DefaultCacheBackend        = "memory"
	DefaultCacheKeyPrefix      = "conduit:"
	DefaultCacheSweepInterval  = time.Minute
	DefaultCacheMaxEntries     = 10000
	DefaultTracingServiceName  = "openconduit"
	DefaultTracingSampleRatio  = 1.0
	DefaultHealthInterval      = 30 * time.Second
	DefaultHealthSweepTimeout  = 10 * time.Second
	DefaultFailureThreshold    = 3
	DefaultSuccessThreshold    = 2
	DefaultStatsFlushInterval  = 10 * time.Second
	DefaultIntegrationTimeout  = 10 * time.Second
	DefaultDegradedErrorRate   = 0.5
	DefaultBreakerFailures     = 5
	DefaultBreakerResetTimeout = 30 * time.Second
	DefaultRouteStrategy       = "first_success"
	DefaultRouteMethod         = "GET"
)

// DefaultAPIAllowedNetworks defines the default networks allowed to access the API.
var DefaultAPIAllowedNetworks = []string{"127.0.0.1/32", "::1/128"}

// Load reads and parses a configuration file from the given path, merging
// any included files.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithIncludes(path)
	if err != nil {
		return nil, err
	}
	finish(cfg)
	return cfg, nil
}

// Parse parses configuration from YAML bytes. Includes are not processed.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	finish(&cfg)
	return &cfg, nil
}

func finish(cfg *Config) {
	applyDefaults(cfg)
	cfg.Credentials = expandCredentials(cfg.Credentials, os.LookupEnv)
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
	applyAPIDefaults(&cfg.API)

	if cfg.Gateway.Address == "" {
		cfg.Gateway.Address = DefaultGatewayAddress
	}
	if cfg.Gateway.MaxBodyBytes == 0 {
		cfg.Gateway.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Gateway.DefaultRouteTimeout == 0 {
		cfg.Gateway.DefaultRouteTimeout = DefaultRouteTimeout
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStoreType
	}
	if cfg.Store.Type == DefaultStoreType && cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = DefaultStorePrefix
	}
	if cfg.Store.DialTimeout == 0 {
		cfg.Store.DialTimeout = DefaultStoreDialTimeout
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = DefaultCacheSweepInterval
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheMaxEntries
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = DefaultHealthInterval
	}
	if cfg.Health.SweepTimeout == 0 {
		cfg.Health.SweepTimeout = DefaultHealthSweepTimeout
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Health.SuccessThreshold == 0 {
		cfg.Health.SuccessThreshold = DefaultSuccessThreshold
	}

	if cfg.Stats.FlushInterval == 0 {
		cfg.Stats.FlushInterval = DefaultStatsFlushInterval
	}

	d := &cfg.Defaults
	if d.Timeout == 0 {
		d.Timeout = DefaultIntegrationTimeout
	}
	if d.DegradedErrorRate == 0 {
		d.DegradedErrorRate = DefaultDegradedErrorRate
	}
	if d.CircuitBreaker.FailureThreshold == 0 {
		d.CircuitBreaker.FailureThreshold = DefaultBreakerFailures
	}
	if d.CircuitBreaker.ResetTimeout == 0 {
		d.CircuitBreaker.ResetTimeout = DefaultBreakerResetTimeout
	}

	for i := range cfg.Routes {
		applyRouteDefaults(&cfg.Routes[i])
	}
}

func applyAPIDefaults(api *APIConfig) {
	if !api.Enabled {
		return
	}
	if api.Address == "" {
		api.Address = DefaultAPIAddress
	}
	if len(api.AllowedNetworks) == 0 {
		api.AllowedNetworks = DefaultAPIAllowedNetworks
	}
}

func applyRouteDefaults(r *RouteConfig) {
	if r.Method == "" {
		r.Method = DefaultRouteMethod
	}
	r.Method = strings.ToUpper(r.Method)
	if r.Strategy == "" {
		r.Strategy = DefaultRouteStrategy
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultRouteTimeout
	}
	for j := range r.Mappings {
		m := &r.Mappings[j]
		if m.ID == "" {
			m.ID = r.ID + "." + m.Integration
		}
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references. Unset variables expand to "".
func expandEnv(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		v, _ := lookup(m[2 : len(m)-1])
		return v
	})
}

func expandCredentials(in map[string]credentials.Credential, lookup func(string) (string, bool)) map[string]credentials.Credential {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]credentials.Credential, len(in))
	for ref, c := range in {
		c.APIKey = expandEnv(c.APIKey, lookup)
		c.APIKeyHeader = expandEnv(c.APIKeyHeader, lookup)
		c.APIKeyQuery = expandEnv(c.APIKeyQuery, lookup)
		c.Username = expandEnv(c.Username, lookup)
		c.Password = expandEnv(c.Password, lookup)
		c.Token = expandEnv(c.Token, lookup)
		out[ref] = c
	}
	return out
}

// Records converts the declared integrations, routes and mappings into
// catalog records, filling unset integration fields from Defaults.
func (c *Config) Records() catalog.Records {
	var recs catalog.Records
	for _, ic := range c.Integrations {
		recs.Integrations = append(recs.Integrations, c.integrationRecord(ic))
	}
	for _, rc := range c.Routes {
		recs.Routes = append(recs.Routes, routeRecord(rc))
		for _, mc := range rc.Mappings {
			recs.Mappings = append(recs.Mappings, mappingRecord(rc.ID, mc))
		}
	}
	return recs
}

func (c *Config) integrationRecord(ic IntegrationConfig) catalog.Integration {
	d := c.Defaults
	timeout := ic.Timeout
	if timeout == 0 {
		timeout = d.Timeout
	}
	rl := d.RateLimit
	if ic.RateLimit != nil {
		rl = *ic.RateLimit
	}
	retry := d.Retry
	if ic.Retry != nil {
		retry = *ic.Retry
	}
	var cb catalog.BreakerSettings
	if ic.CircuitBreaker != nil {
		cb = catalog.BreakerSettings{
			FailureThreshold:  ic.CircuitBreaker.FailureThreshold,
			ResetTimeoutMs:    millis(ic.CircuitBreaker.ResetTimeout),
			MaxResetTimeoutMs: millis(ic.CircuitBreaker.MaxResetTimeout),
			BackoffMultiplier: ic.CircuitBreaker.BackoffMultiplier,
		}
	}
	auth := catalog.AuthType(ic.AuthType)
	if auth == "" {
		auth = catalog.AuthNone
	}
	return catalog.Integration{
		ID:                 ic.ID,
		Name:               ic.Name,
		Description:        ic.Description,
		Category:           catalog.Category(ic.Category),
		BaseURL:            ic.BaseURL,
		AuthType:           auth,
		CredentialRef:      ic.CredentialRef,
		Headers:            ic.Headers,
		TimeoutMs:          millis(timeout),
		RateLimitPerMinute: rl.PerMinute,
		RateLimitPerHour:   rl.PerHour,
		MaxConcurrent:      rl.MaxConcurrent,
		QueueSize:          rl.QueueSize,
		RetryAttempts:      retry.Attempts,
		RetryDelayMs:       millis(retry.Delay),
		CircuitBreaker:     cb,
		HealthCheckPath:    ic.HealthCheckPath,
		IsEnabled:          enabled(ic.Enabled),
	}
}

func routeRecord(rc RouteConfig) catalog.Route {
	return catalog.Route{
		ID:             rc.ID,
		Name:           rc.Name,
		Description:    rc.Description,
		Path:           rc.Path,
		Method:         strings.ToUpper(rc.Method),
		Strategy:       catalog.Strategy(rc.Strategy),
		TimeoutMs:      millis(rc.Timeout),
		FailOnAnyError: rc.FailOnAnyError,
		ThrottlePolicy: catalog.ThrottlePolicy(rc.ThrottlePolicy),
		IsEnabled:      enabled(rc.Enabled),
	}
}

func mappingRecord(routeID string, mc MappingConfig) catalog.Mapping {
	return catalog.Mapping{
		ID:             mc.ID,
		RouteID:        routeID,
		IntegrationID:  mc.Integration,
		Priority:       mc.Priority,
		IsFallback:     mc.Fallback,
		EndpointPath:   mc.EndpointPath,
		EndpointMethod: strings.ToUpper(mc.EndpointMethod),
		RequestTemplate: catalog.RequestTemplate{
			Headers: mc.RequestTemplate.Headers,
			Query:   mc.RequestTemplate.Query,
		},
		RequestTransform:  mc.RequestTransform,
		ResponseTransform: mc.ResponseTransform,
		CacheEnabled:      mc.Cache.Enabled,
		CacheTTLSeconds:   int(mc.Cache.TTL / time.Second),
		CacheKeyTemplate:  mc.Cache.KeyTemplate,
		TimeoutMs:         millis(mc.Timeout),
		IsEnabled:         enabled(mc.Enabled),
	}
}

func millis(d time.Duration) int {
	return int(d / time.Millisecond)
}

// CheckFilePermissions rejects configuration files that are world-writable
// and reports whether the file is world-readable.
func CheckFilePermissions(path string) (worldReadable bool, err error) {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return false, fmt.Errorf("cannot stat config file: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o002 != 0 {
		return false, fmt.Errorf("config file %s is world-writable (%04o)", path, mode)
	}
	return mode&0o004 != 0, nil
}
