// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/logging"
)

// ValidationError contains details about a configuration validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Validate checks the configuration for errors and returns a combined error if any are found.
func Validate(cfg *Config) error {
	return cfg.Validate()
}

// Validate checks the configuration for errors and returns a combined error if any are found.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateListeners(c)...)
	errs = append(errs, validateStore(&c.Store)...)
	errs = append(errs, validateCache(&c.Cache)...)
	errs = append(errs, validateRuntime(c)...)
	errs = append(errs, validateIntegrations(c)...)
	errs = append(errs, validateRoutes(c)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func invalid(field string, value any, msg string) error {
	return &ValidationError{Field: field, Value: value, Message: msg}
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, invalid("logging.level", l.Level, "must be one of debug, info, warn, error"))
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		errs = append(errs, invalid("logging.format", l.Format, "must be json or text"))
	}
	return errs
}

func validateAddress(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid(field, addr, fmt.Sprintf("invalid address format: %v", err))
	}
	return nil
}

func validateListeners(c *Config) []error {
	var errs []error
	if c.Metrics.Enabled {
		if err := validateAddress("metrics.address", c.Metrics.Address); err != nil {
			errs = append(errs, err)
		}
	}
	if c.API.Enabled {
		if err := validateAddress("api.address", c.API.Address); err != nil {
			errs = append(errs, err)
		}
		for i, n := range c.API.AllowedNetworks {
			if _, _, err := net.ParseCIDR(n); err != nil {
				errs = append(errs, invalid(fmt.Sprintf("api.allowed_networks[%d]", i), n, "must be a CIDR"))
			}
		}
	}
	if err := validateAddress("gateway.address", c.Gateway.Address); err != nil {
		errs = append(errs, err)
	}
	if c.Gateway.MaxBodyBytes < 0 {
		errs = append(errs, invalid("gateway.max_body_bytes", c.Gateway.MaxBodyBytes, "must not be negative"))
	}
	if c.Gateway.DefaultRouteTimeout < 0 {
		errs = append(errs, invalid("gateway.default_route_timeout", c.Gateway.DefaultRouteTimeout, "must not be negative"))
	}
	return errs
}

func validateStore(s *StoreConfig) []error {
	var errs []error
	switch s.Type {
	case "bbolt":
		if s.Path == "" {
			errs = append(errs, invalid("store.path", s.Path, "is required for the bbolt store"))
		}
		if s.Watch {
			errs = append(errs, invalid("store.watch", s.Watch, "is only supported by the etcd store"))
		}
	case "etcd":
		if len(s.Endpoints) == 0 {
			errs = append(errs, invalid("store.endpoints", nil, "at least one endpoint is required for the etcd store"))
		}
	case "memory":
	default:
		errs = append(errs, invalid("store.type", s.Type, "must be bbolt, etcd or memory"))
	}
	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error
	switch c.Backend {
	case "memory":
	case "redis":
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, invalid("cache.redis_url", c.RedisURL, "must be a redis:// or rediss:// URL"))
		}
	default:
		errs = append(errs, invalid("cache.backend", c.Backend, "must be memory or redis"))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, invalid("cache.max_entries", c.MaxEntries, "must not be negative"))
	}
	return errs
}

func validateRuntime(c *Config) []error {
	var errs []error
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, invalid("tracing.sample_ratio", c.Tracing.SampleRatio, "must be between 0 and 1"))
	}
	if c.Health.Interval < 0 || c.Health.SweepTimeout < 0 || c.Health.ProbeTimeout < 0 {
		errs = append(errs, invalid("health", c.Health, "durations must not be negative"))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, invalid("health.failure_threshold", c.Health.FailureThreshold, "must be at least 1"))
	}
	if c.Health.SuccessThreshold < 1 {
		errs = append(errs, invalid("health.success_threshold", c.Health.SuccessThreshold, "must be at least 1"))
	}
	if c.Stats.FlushInterval < 0 {
		errs = append(errs, invalid("stats.flush_interval", c.Stats.FlushInterval, "must not be negative"))
	}
	d := c.Defaults
	if d.DegradedErrorRate <= 0 || d.DegradedErrorRate > 1 {
		errs = append(errs, invalid("defaults.degraded_error_rate", d.DegradedErrorRate, "must be in (0, 1]"))
	}
	if d.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, invalid("defaults.circuit_breaker.failure_threshold", d.CircuitBreaker.FailureThreshold, "must be at least 1"))
	}
	if d.CircuitBreaker.MaxResetTimeout != 0 && d.CircuitBreaker.MaxResetTimeout < d.CircuitBreaker.ResetTimeout {
		errs = append(errs, invalid("defaults.circuit_breaker.max_reset_timeout", d.CircuitBreaker.MaxResetTimeout, "must not be below reset_timeout"))
	}
	return errs
}

// nest rewrites catalog validation errors under a config field prefix.
func nest(prefix string, err error) []error {
	if err == nil {
		return nil
	}
	var leaves []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		leaves = joined.Unwrap()
	} else {
		leaves = []error{err}
	}
	out := make([]error, 0, len(leaves))
	for _, e := range leaves {
		var ve *catalog.ValidationError
		if errors.As(e, &ve) {
			out = append(out, invalid(prefix+"."+ve.Field, ve.Value, ve.Message))
			continue
		}
		out = append(out, invalid(prefix, nil, e.Error()))
	}
	return out
}

func validateIntegrations(c *Config) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, ic := range c.Integrations {
		prefix := fmt.Sprintf("integrations[%d]", i)
		if ic.ID != "" && seen[ic.ID] {
			errs = append(errs, invalid(prefix+".id", ic.ID, "duplicate integration id"))
		}
		seen[ic.ID] = true

		rec := c.integrationRecord(ic)
		rec.Status = catalog.StatusPending
		errs = append(errs, nest(prefix, rec.Validate())...)

		if rec.AuthType != catalog.AuthNone && ic.CredentialRef != "" {
			if _, ok := c.Credentials[ic.CredentialRef]; !ok {
				errs = append(errs, invalid(prefix+".credential_ref", ic.CredentialRef, "no such credential"))
			}
		}
	}
	return errs
}

func validateRoutes(c *Config) []error {
	var errs []error
	integrations := make(map[string]bool, len(c.Integrations))
	for _, ic := range c.Integrations {
		integrations[ic.ID] = true
	}
	routeIDs := make(map[string]bool)
	endpoints := make(map[string]string)
	mappingIDs := make(map[string]bool)

	for i, rc := range c.Routes {
		prefix := fmt.Sprintf("routes[%d]", i)
		if rc.ID != "" && routeIDs[rc.ID] {
			errs = append(errs, invalid(prefix+".id", rc.ID, "duplicate route id"))
		}
		routeIDs[rc.ID] = true

		rec := routeRecord(rc)
		errs = append(errs, nest(prefix, rec.Validate())...)

		key := rec.Method + " " + rec.Path
		if other, ok := endpoints[key]; ok {
			errs = append(errs, invalid(prefix+".path", rc.Path, "conflicts with route "+other))
		} else {
			endpoints[key] = rc.ID
		}

		if len(rc.Mappings) == 0 {
			errs = append(errs, invalid(prefix+".mappings", nil, "at least one mapping must be defined"))
		}
		for j, mc := range rc.Mappings {
			mprefix := fmt.Sprintf("%s.mappings[%d]", prefix, j)
			if mappingIDs[mc.ID] {
				errs = append(errs, invalid(mprefix+".id", mc.ID, "duplicate mapping id"))
			}
			mappingIDs[mc.ID] = true
			if !integrations[mc.Integration] {
				errs = append(errs, invalid(mprefix+".integration", mc.Integration, "unknown integration"))
			}
			m := mappingRecord(rc.ID, mc)
			if m.EndpointMethod == "" {
				m.EndpointMethod = DefaultRouteMethod
			}
			errs = append(errs, nest(mprefix, m.Validate())...)
		}
	}
	return errs
}
