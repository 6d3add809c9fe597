// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPChecker performs HTTP health checks.
type HTTPChecker struct {
	client *http.Client

	// ValidStatusCodes defines which HTTP status codes indicate healthy.
	// If empty, defaults to 2xx range.
	ValidStatusCodes []int

	// FollowRedirects controls whether redirects are followed.
	FollowRedirects bool

	// InsecureSkipVerify skips TLS certificate validation.
	InsecureSkipVerify bool

	userAgent string
}

// HTTPCheckerOption configures an HTTPChecker.
type HTTPCheckerOption func(*HTTPChecker)

// WithValidStatusCodes sets the valid status codes for healthy responses.
func WithValidStatusCodes(codes ...int) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.ValidStatusCodes = codes
	}
}

// WithFollowRedirects enables following HTTP redirects.
func WithFollowRedirects(follow bool) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.FollowRedirects = follow
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.InsecureSkipVerify = skip
	}
}

// WithUserAgent overrides the probe User-Agent.
func WithUserAgent(ua string) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.userAgent = ua
	}
}

// NewHTTPChecker creates a new HTTP health checker.
func NewHTTPChecker(opts ...HTTPCheckerOption) *HTTPChecker {
	c := &HTTPChecker{userAgent: "OpenConduit-HealthCheck/1.0"}
	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
		DisableKeepAlives:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
	}

	c.client = &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}
	if !c.FollowRedirects {
		c.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// Type returns "http".
func (c *HTTPChecker) Type() string {
	return "http"
}

// Check issues a GET against the target URL.
func (c *HTTPChecker) Check(ctx context.Context, target Target) Result {
	start := time.Now()
	result := Result{Timestamp: start}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	u, err := target.URL()
	if err != nil {
		result.Error = err
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		result.Latency = time.Since(start)
		return result
	}
	for k, vs := range target.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if target.Prepare != nil {
		if err := target.Prepare(req); err != nil {
			result.Error = fmt.Errorf("failed to prepare request: %w", err)
			result.Latency = time.Since(start)
			return result
		}
	}

	resp, err := c.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("request failed: %w", err)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.StatusCode = resp.StatusCode
	if c.isValidStatus(resp.StatusCode) {
		result.Healthy = true
	} else {
		result.Error = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return result
}

func (c *HTTPChecker) isValidStatus(code int) bool {
	if len(c.ValidStatusCodes) == 0 {
		return code >= 200 && code < 300
	}
	for _, valid := range c.ValidStatusCodes {
		if code == valid {
			return true
		}
	}
	return false
}
