// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/loganrossus/OpenConduit/pkg/cache"
	"github.com/loganrossus/OpenConduit/pkg/transform"
)

// ValidationError describes one invalid field of a record.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

var validCategories = map[Category]bool{
	CategoryHospital: true, CategoryBorder: true, CategoryTransit: true,
	CategoryMorgue: true, CategorySocialMedia: true, CategoryCustom: true,
}

var validAuthTypes = map[AuthType]bool{
	AuthNone: true, AuthAPIKey: true, AuthBasic: true, AuthBearer: true, AuthOAuth2: true,
}

var validStatuses = map[Status]bool{
	StatusActive: true, StatusInactive: true, StatusError: true,
	StatusPending: true, StatusConfiguring: true,
}

// ValidStrategies lists the accepted aggregation strategy names.
var ValidStrategies = map[Strategy]bool{
	StrategyFirstSuccess: true, StrategyPriorityOrder: true, StrategyAllParallel: true,
	StrategyMergeResults: true, StrategyChain: true,
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
}

// Validate checks an integration record.
func (i *Integration) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	if i.ID == "" {
		add("id", i.ID, "is required")
	}
	if !validCategories[i.Category] {
		add("category", i.Category, "must be one of hospital, border, transit, morgue, social_media, custom")
	}
	if u, err := url.Parse(i.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("base_url", i.BaseURL, "must be an absolute http or https URL")
	}
	if !validAuthTypes[i.AuthType] {
		add("auth_type", i.AuthType, "must be one of none, api_key, basic, bearer, oauth2")
	}
	if i.AuthType != AuthNone && i.AuthType != "" && i.CredentialRef == "" {
		add("credential_ref", i.CredentialRef, "is required when auth_type is not none")
	}
	if !validStatuses[i.Status] {
		add("status", i.Status, "must be one of active, inactive, error, pending, configuring")
	}
	if i.TimeoutMs <= 0 {
		add("timeout_ms", i.TimeoutMs, "must be positive")
	}
	for name, v := range map[string]int{
		"rate_limit_per_minute": i.RateLimitPerMinute,
		"rate_limit_per_hour":   i.RateLimitPerHour,
		"max_concurrent":        i.MaxConcurrent,
		"queue_size":            i.QueueSize,
		"retry_attempts":        i.RetryAttempts,
		"retry_delay_ms":        i.RetryDelayMs,
	} {
		if v < 0 {
			add(name, v, "must be non-negative")
		}
	}
	if i.CircuitBreaker.FailureThreshold < 0 || i.CircuitBreaker.ResetTimeoutMs < 0 ||
		i.CircuitBreaker.MaxResetTimeoutMs < 0 || i.CircuitBreaker.BackoffMultiplier < 0 {
		add("circuit_breaker", i.CircuitBreaker, "values must be non-negative")
	}
	if i.HealthCheckPath != "" && !strings.HasPrefix(i.HealthCheckPath, "/") {
		add("health_check_path", i.HealthCheckPath, "must start with /")
	}
	return errors.Join(errs...)
}

// Validate checks a route record.
func (r *Route) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	if r.ID == "" {
		add("id", r.ID, "is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		add("path", r.Path, "must start with /")
	} else if err := validatePattern(r.Path); err != nil {
		add("path", r.Path, err.Error())
	}
	if !validMethods[r.Method] {
		add("method", r.Method, "must be an uppercase HTTP method")
	}
	if !ValidStrategies[r.Strategy] {
		add("strategy", r.Strategy, "must be one of first_success, priority_order, all_parallel, merge_results, chain")
	}
	if r.TimeoutMs <= 0 {
		add("timeout_ms", r.TimeoutMs, "must be positive")
	}
	switch r.ThrottlePolicy {
	case ThrottleReject, ThrottleQueue, "":
	default:
		add("throttle_policy", r.ThrottlePolicy, "must be reject or queue")
	}
	return errors.Join(errs...)
}

// validatePattern checks {param} segments in a route path.
func validatePattern(p string) error {
	seen := map[string]bool{}
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if !strings.ContainsAny(seg, "{}") {
			continue
		}
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") || len(seg) < 3 {
			return fmt.Errorf("segment %q must be a whole {param}", seg)
		}
		name := seg[1 : len(seg)-1]
		if strings.ContainsAny(name, "{}") {
			return fmt.Errorf("segment %q is malformed", seg)
		}
		if seen[name] {
			return fmt.Errorf("parameter %q appears twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Validate checks a mapping record in isolation. Referential checks are
// done by the Catalog.
func (m *Mapping) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	if m.ID == "" {
		add("id", m.ID, "is required")
	}
	if m.RouteID == "" {
		add("route_id", m.RouteID, "is required")
	}
	if m.IntegrationID == "" {
		add("integration_id", m.IntegrationID, "is required")
	}
	if m.Priority < 0 {
		add("priority", m.Priority, "must be non-negative")
	}
	if m.EndpointPath != "" && !strings.HasPrefix(m.EndpointPath, "/") {
		add("endpoint_path", m.EndpointPath, "must start with /")
	}
	if err := transform.ValidateTemplate(m.EndpointPath); err != nil {
		add("endpoint_path", m.EndpointPath, err.Error())
	}
	if !validMethods[m.EndpointMethod] {
		add("endpoint_method", m.EndpointMethod, "must be an uppercase HTTP method")
	}
	for k, v := range m.RequestTemplate.Headers {
		if err := transform.ValidateTemplate(v); err != nil {
			add("request_template.headers."+k, v, err.Error())
		}
	}
	for k, v := range m.RequestTemplate.Query {
		if err := transform.ValidateTemplate(v); err != nil {
			add("request_template.query."+k, v, err.Error())
		}
	}
	if err := m.RequestTransform.Validate(); err != nil {
		add("request_transform", "", err.Error())
	}
	if err := m.ResponseTransform.Validate(); err != nil {
		add("response_transform", "", err.Error())
	}
	if m.CacheEnabled && m.CacheTTLSeconds <= 0 {
		add("cache_ttl_seconds", m.CacheTTLSeconds, "must be positive when caching is enabled")
	}
	if err := cache.ValidateKeyTemplate(m.CacheKeyTemplate); err != nil {
		add("cache_key_template", m.CacheKeyTemplate, err.Error())
	}
	if m.TimeoutMs < 0 {
		add("timeout_ms", m.TimeoutMs, "must be non-negative")
	}
	return errors.Join(errs...)
}
