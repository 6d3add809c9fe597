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
	"net/http"
	"net/url"
	"time"
)

// Target describes an integration endpoint to probe.
type Target struct {
	// BaseURL is the integration base URL; Path is appended to it.
	BaseURL string
	Path    string
	Header  http.Header

	// Prepare, when set, is applied to every HTTP probe request before it
	// is sent. Connectors use it to attach credentials.
	Prepare func(*http.Request) error

	Timeout time.Duration
}

// URL returns the probe URL.
func (t Target) URL() (*url.URL, error) {
	base, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if t.Path == "" {
		return base, nil
	}
	ref, err := url.Parse(t.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid probe path: %w", err)
	}
	u := *base
	u.Path = joinPath(base.Path, ref.Path)
	if ref.RawQuery != "" {
		u.RawQuery = ref.RawQuery
	}
	return &u, nil
}

// HostPort returns the host:port to dial, defaulting the port from the scheme.
func (t Target) HostPort() (string, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", t.BaseURL)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func joinPath(a, b string) string {
	switch {
	case a == "" || a == "/":
		if b == "" {
			return "/"
		}
		if b[0] != '/' {
			return "/" + b
		}
		return b
	case b == "":
		return a
	}
	if a[len(a)-1] == '/' {
		a = a[:len(a)-1]
	}
	if b[0] != '/' {
		b = "/" + b
	}
	return a + b
}

// Checker performs health checks against targets.
type Checker interface {
	// Check performs a health check against the target.
	// The context should be used for cancellation and timeout.
	Check(ctx context.Context, target Target) Result

	// Type returns the health check type (e.g., "http", "tcp").
	Type() string
}

// CheckerFunc is a function adapter for Checker interface.
type CheckerFunc func(ctx context.Context, target Target) Result

func (f CheckerFunc) Check(ctx context.Context, target Target) Result {
	return f(ctx, target)
}

func (f CheckerFunc) Type() string {
	return "func"
}
