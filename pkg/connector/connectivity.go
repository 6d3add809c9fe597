// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package connector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/credentials"
)

// Connectivity test step names, in execution order.
const (
	StepConfiguration = "configuration"
	StepCredentials   = "credentials"
	StepDNS           = "dns_resolution"
	StepTCP           = "tcp_connect"
	StepHTTP          = "http_probe"
)

// StepResult is the outcome of one connectivity test step.
type StepResult struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	Message    string `json:"message"`
	DurationMs int64  `json:"duration_ms"`
}

// TestReport is the result of TestConnectivity.
type TestReport struct {
	ID              string       `json:"id"`
	IntegrationID   string       `json:"integration_id"`
	Success         bool         `json:"success"`
	Steps           []StepResult `json:"steps"`
	TotalDurationMs int64        `json:"total_duration_ms"`
	StartedAt       time.Time    `json:"started_at"`
}

type step struct {
	name string
	run  func(ctx context.Context, integ catalog.Integration) (string, error)
}

// TestConnectivity runs the diagnostic steps in order. Once a step fails the
// remaining steps are reported as skipped. The test bypasses the breaker and
// limiter and runs on disabled connectors too.
func (c *Connector) TestConnectivity(ctx context.Context) TestReport {
	integ := c.Integration()
	started := time.Now()
	report := TestReport{
		ID:            uuid.NewString(),
		IntegrationID: integ.ID,
		StartedAt:     started.UTC(),
		Success:       true,
	}

	steps := []step{
		{StepConfiguration, c.stepConfiguration},
		{StepCredentials, c.stepCredentials},
		{StepDNS, c.stepDNS},
		{StepTCP, c.stepTCP},
		{StepHTTP, c.stepHTTP},
	}
	for _, s := range steps {
		if !report.Success {
			report.Steps = append(report.Steps, StepResult{
				Name:    s.name,
				Skipped: true,
				Message: "skipped after earlier failure",
			})
			continue
		}
		t0 := time.Now()
		msg, err := s.run(ctx, integ)
		res := StepResult{Name: s.name, Success: err == nil, Message: msg, DurationMs: time.Since(t0).Milliseconds()}
		if err != nil {
			res.Message = err.Error()
			report.Success = false
		}
		report.Steps = append(report.Steps, res)
	}
	report.TotalDurationMs = time.Since(started).Milliseconds()

	c.logger.Info("connectivity test finished", "test_id", report.ID, "success", report.Success, "duration_ms", report.TotalDurationMs)
	return report
}

func (c *Connector) stepConfiguration(_ context.Context, integ catalog.Integration) (string, error) {
	if err := integ.Validate(); err != nil {
		return "", err
	}
	return "configuration valid", nil
}

func (c *Connector) stepCredentials(ctx context.Context, integ catalog.Integration) (string, error) {
	if integ.AuthType == "" || integ.AuthType == catalog.AuthNone {
		return "no authentication required", nil
	}
	cred, err := c.credential(ctx, integ)
	if err != nil {
		return "", err
	}
	probe, _ := http.NewRequest(http.MethodGet, "http://probe.invalid/", nil)
	if err := credentials.Apply(probe, integ.AuthType, cred); err != nil {
		return "", fmt.Errorf("credential %q unusable: %w", integ.CredentialRef, err)
	}
	return fmt.Sprintf("%s credential %q resolved", integ.AuthType, integ.CredentialRef), nil
}

func (c *Connector) stepDNS(ctx context.Context, integ catalog.Integration) (string, error) {
	u, err := url.Parse(integ.BaseURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		return fmt.Sprintf("%s is an IP address", host), nil
	}
	resolver := c.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", host)
	}
	return fmt.Sprintf("%s resolved to %s", host, strings.Join(addrs, ", ")), nil
}

func (c *Connector) stepTCP(ctx context.Context, integ catalog.Integration) (string, error) {
	target := c.healthTarget(ctx, integ)
	res := c.tcpCheck.Check(ctx, target)
	if !res.Healthy {
		return "", res.Error
	}
	addr, _ := target.HostPort()
	return fmt.Sprintf("connected to %s in %dms", addr, res.Latency.Milliseconds()), nil
}

func (c *Connector) stepHTTP(ctx context.Context, integ catalog.Integration) (string, error) {
	checker := c.reachCheck
	if integ.HealthCheckPath != "" {
		checker = c.httpCheck
	}
	res := checker.Check(ctx, c.healthTarget(ctx, integ))
	if !res.Healthy {
		return "", res.Error
	}
	if integ.HealthCheckPath != "" {
		c.mu.Lock()
		c.lastHealthyAt = c.now()
		c.mu.Unlock()
	}
	return fmt.Sprintf("HTTP %d in %dms", res.StatusCode, res.Latency.Milliseconds()), nil
}
