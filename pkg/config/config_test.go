// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/transform"
)

const sampleConfig = `
logging:
  level: debug
  format: text
api:
  enabled: true
store:
  type: memory
credentials:
  north-key:
    api_key: "${CONDUIT_TEST_KEY}"
    api_key_header: X-Registry-Key
integrations:
  - id: hospital-north
    name: North Hospital Registry
    category: hospital
    base_url: https://registry.north.example
    auth_type: api_key
    credential_ref: north-key
    timeout: 5s
    rate_limit:
      per_minute: 60
      max_concurrent: 4
      queue_size: 8
    retry:
      attempts: 2
      delay: 250ms
    circuit_breaker:
      failure_threshold: 3
      reset_timeout: 10s
    health_check_path: /status
  - id: border-east
    category: border
    base_url: http://border.east.example
routes:
  - id: person-lookup
    path: /persons/{id}
    strategy: priority_order
    timeout: 8s
    throttle_policy: queue
    mappings:
      - integration: hospital-north
        priority: 1
        endpoint_path: /patients/{{params.id}}
        response_transform:
          ops:
            - op: copy
              from: patient.name
              to: name
        cache:
          enabled: true
          ttl: 2m
      - integration: border-east
        priority: 2
        fallback: true
        endpoint_path: /travellers/{{params.id}}
        enabled: false
`

func TestParse_ValidConfig(t *testing.T) {
	t.Setenv("CONDUIT_TEST_KEY", "s3cret")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
	if got := cfg.Credentials["north-key"].APIKey; got != "s3cret" {
		t.Errorf("expected expanded api key, got %q", got)
	}
	if len(cfg.Integrations) != 2 {
		t.Fatalf("expected 2 integrations, got %d", len(cfg.Integrations))
	}
	if cfg.Routes[0].Method != "GET" {
		t.Errorf("expected default method GET, got %s", cfg.Routes[0].Method)
	}
	if got := cfg.Routes[0].Mappings[0].ID; got != "person-lookup.hospital-north" {
		t.Errorf("expected derived mapping id, got %s", got)
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("integrations: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"logging.level", cfg.Logging.Level, DefaultLogLevel},
		{"logging.format", cfg.Logging.Format, DefaultLogFormat},
		{"gateway.address", cfg.Gateway.Address, DefaultGatewayAddress},
		{"gateway.max_body_bytes", cfg.Gateway.MaxBodyBytes, int64(DefaultMaxBodyBytes)},
		{"store.type", cfg.Store.Type, DefaultStoreType},
		{"store.path", cfg.Store.Path, DefaultStorePath},
		{"cache.backend", cfg.Cache.Backend, DefaultCacheBackend},
		{"tracing.sample_ratio", cfg.Tracing.SampleRatio, DefaultTracingSampleRatio},
		{"health.interval", cfg.Health.Interval, DefaultHealthInterval},
		{"health.failure_threshold", cfg.Health.FailureThreshold, DefaultFailureThreshold},
		{"stats.flush_interval", cfg.Stats.FlushInterval, DefaultStatsFlushInterval},
		{"defaults.timeout", cfg.Defaults.Timeout, DefaultIntegrationTimeout},
		{"defaults.circuit_breaker.reset_timeout", cfg.Defaults.CircuitBreaker.ResetTimeout, DefaultBreakerResetTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}

	if cfg.API.Address != "" {
		t.Errorf("disabled API should not get an address, got %s", cfg.API.Address)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("routes: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRecords(t *testing.T) {
	t.Setenv("CONDUIT_TEST_KEY", "s3cret")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := cfg.Records()

	if len(recs.Integrations) != 2 || len(recs.Routes) != 1 || len(recs.Mappings) != 2 {
		t.Fatalf("unexpected record counts: %d/%d/%d", len(recs.Integrations), len(recs.Routes), len(recs.Mappings))
	}

	north := recs.Integrations[0]
	if north.TimeoutMs != 5000 || north.RateLimitPerMinute != 60 || north.MaxConcurrent != 4 || north.QueueSize != 8 {
		t.Errorf("unexpected limits: %+v", north)
	}
	if north.RetryAttempts != 2 || north.RetryDelayMs != 250 {
		t.Errorf("unexpected retry: %d/%d", north.RetryAttempts, north.RetryDelayMs)
	}
	if north.CircuitBreaker.FailureThreshold != 3 || north.CircuitBreaker.ResetTimeoutMs != 10000 {
		t.Errorf("unexpected breaker: %+v", north.CircuitBreaker)
	}
	if !north.IsEnabled {
		t.Error("integrations are enabled by default")
	}

	east := recs.Integrations[1]
	if east.AuthType != catalog.AuthNone {
		t.Errorf("expected auth none, got %s", east.AuthType)
	}
	if east.TimeoutMs != int(DefaultIntegrationTimeout/time.Millisecond) {
		t.Errorf("expected default timeout, got %d", east.TimeoutMs)
	}

	route := recs.Routes[0]
	if route.Strategy != catalog.StrategyPriorityOrder || route.TimeoutMs != 8000 || route.ThrottlePolicy != catalog.ThrottleQueue {
		t.Errorf("unexpected route: %+v", route)
	}

	m := recs.Mappings[0]
	if m.RouteID != "person-lookup" || !m.CacheEnabled || m.CacheTTLSeconds != 120 {
		t.Errorf("unexpected mapping: %+v", m)
	}
	if len(m.ResponseTransform.Ops) != 1 || m.ResponseTransform.Ops[0].Op != transform.OpCopy {
		t.Errorf("unexpected response transform: %+v", m.ResponseTransform)
	}
	if fb := recs.Mappings[1]; !fb.IsFallback || fb.IsEnabled {
		t.Errorf("expected disabled fallback mapping, got %+v", fb)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "bad log level",
			yaml:  "logging:\n  level: verbose\n",
			field: "logging.level",
		},
		{
			name:  "bad store type",
			yaml:  "store:\n  type: postgres\n",
			field: "store.type",
		},
		{
			name:  "etcd without endpoints",
			yaml:  "store:\n  type: etcd\n",
			field: "store.endpoints",
		},
		{
			name:  "redis without url",
			yaml:  "store:\n  type: memory\ncache:\n  backend: redis\n",
			field: "cache.redis_url",
		},
		{
			name:  "bad CIDR",
			yaml:  "store:\n  type: memory\napi:\n  enabled: true\n  allowed_networks: [\"10.0.0.0/99\"]\n",
			field: "api.allowed_networks[0]",
		},
		{
			name: "bad integration",
			yaml: `store: {type: memory}
integrations:
  - id: x
    category: spaceport
    base_url: https://x.example
`,
			field: "integrations[0].category",
		},
		{
			name: "missing credential",
			yaml: `store: {type: memory}
integrations:
  - id: x
    category: custom
    base_url: https://x.example
    auth_type: bearer
    credential_ref: nope
`,
			field: "integrations[0].credential_ref",
		},
		{
			name: "unknown integration in mapping",
			yaml: `store: {type: memory}
routes:
  - id: r
    path: /r
    mappings:
      - integration: ghost
`,
			field: "routes[0].mappings[0].integration",
		},
		{
			name: "bad strategy",
			yaml: `store: {type: memory}
integrations:
  - {id: x, category: custom, base_url: "https://x.example"}
routes:
  - id: r
    path: /r
    strategy: round_robin
    mappings:
      - integration: x
`,
			field: "routes[0].strategy",
		},
		{
			name: "route without mappings",
			yaml: `store: {type: memory}
routes:
  - id: r
    path: /r
`,
			field: "routes[0].mappings",
		},
		{
			name: "conflicting routes",
			yaml: `store: {type: memory}
integrations:
  - {id: x, category: custom, base_url: "https://x.example"}
routes:
  - {id: a, path: /p, mappings: [{integration: x}]}
  - {id: b, path: /p, mappings: [{integration: x}]}
`,
			field: "routes[1].path",
		},
		{
			name: "cache without ttl",
			yaml: `store: {type: memory}
integrations:
  - {id: x, category: custom, base_url: "https://x.example"}
routes:
  - id: r
    path: /r
    mappings:
      - integration: x
        cache: {enabled: true}
`,
			field: "routes[0].mappings[0].cache_ttl_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !hasField(err, tt.field) {
				t.Errorf("expected error for %s, got: %v", tt.field, err)
			}
		})
	}
}

func hasField(err error, field string) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, e := range joined.Unwrap() {
		var ve *ValidationError
		if errors.As(e, &ve) && ve.Field == field {
			return true
		}
	}
	return false
}

func TestExpandEnv(t *testing.T) {
	env := map[string]string{"USER": "svc", "PASS": "p$w"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"${USER}", "svc"},
		{"${USER}:${PASS}", "svc:p$w"},
		{"$USER", "$USER"},
		{"${MISSING}x", "x"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in, lookup); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "store.type", Value: "x", Message: "bad"}
	if !strings.Contains(err.Error(), "store.type") || !strings.Contains(err.Error(), "got: x") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
