// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker performs TCP health checks by attempting to establish a connection.
type TCPChecker struct {
	dialer *net.Dialer
}

// TCPCheckerOption configures a TCPChecker.
type TCPCheckerOption func(*TCPChecker)

// WithDialer sets a custom net.Dialer for the TCP checker.
func WithDialer(d *net.Dialer) TCPCheckerOption {
	return func(c *TCPChecker) {
		c.dialer = d
	}
}

// NewTCPChecker creates a new TCP health checker.
func NewTCPChecker(opts ...TCPCheckerOption) *TCPChecker {
	c := &TCPChecker{
		dialer: &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: -1,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type returns "tcp".
func (c *TCPChecker) Type() string {
	return "tcp"
}

// Check dials the host and port of the target's base URL.
func (c *TCPChecker) Check(ctx context.Context, target Target) Result {
	start := time.Now()
	result := Result{Timestamp: start}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	address, err := target.HostPort()
	if err != nil {
		result.Error = err
		return result
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", address)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("tcp connect failed: %w", err)
		return result
	}
	conn.Close()
	result.Healthy = true
	return result
}
