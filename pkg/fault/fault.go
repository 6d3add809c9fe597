// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package fault defines the error taxonomy shared by the resilience layer.
//
// Every failure produced on the request path carries exactly one Kind. The
// Kind decides whether the failure counts against an integration's circuit
// breaker, whether a caller may retry, and which HTTP status the gateway
// answers with.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind tags a failure with its class.
type Kind string

const (
	KindCircuitOpen         Kind = "circuit_open"
	KindThrottled           Kind = "throttled"
	KindTimeout             Kind = "timeout"
	KindUpstream            Kind = "upstream_error"
	KindTransport           Kind = "transport_error"
	KindIntegrationDisabled Kind = "integration_disabled"
	KindConfig              Kind = "config_error"
	// KindCanceled marks calls abandoned because the caller went away. It is
	// never reported to a breaker.
	KindCanceled Kind = "canceled"
	KindInternal Kind = "internal_error"
)

// Error is a classified failure from the request path.
type Error struct {
	Kind        Kind
	Op          string
	Integration string
	Mapping     string
	// StatusCode is the upstream HTTP status for upstream errors.
	StatusCode int
	// RetryAfter is a hint for circuit_open and throttled failures.
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Integration != "" {
		b.WriteString(" [integration=")
		b.WriteString(e.Integration)
		b.WriteString("]")
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error of the same Kind, so that
// errors.Is(err, fault.ErrThrottled) matches any throttled failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Cause == nil
}

// Retryable reports whether a caller may retry the operation later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindCircuitOpen, KindThrottled, KindTimeout, KindTransport:
		return true
	case KindUpstream:
		return e.StatusCode == 0 || e.StatusCode >= 500 ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrCircuitOpen         = &Error{Kind: KindCircuitOpen}
	ErrThrottled           = &Error{Kind: KindThrottled}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrUpstream            = &Error{Kind: KindUpstream}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrIntegrationDisabled = &Error{Kind: KindIntegrationDisabled}
	ErrConfig              = &Error{Kind: KindConfig}
	ErrCanceled            = &Error{Kind: KindCanceled}
)

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, op string) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithIntegration returns a copy of e attributed to an integration.
func (e *Error) WithIntegration(id string) *Error {
	c := *e
	c.Integration = id
	return &c
}

// WithMapping returns a copy of e attributed to a mapping.
func (e *Error) WithMapping(id string) *Error {
	c := *e
	c.Mapping = id
	return &c
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of err. Unclassified context errors map to timeout
// or canceled; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	if fe, ok := As(err); ok {
		return fe.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err is a retryable classified failure.
func IsRetryable(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CountsAsFailure reports whether err should be recorded as a failure
// against an integration's circuit breaker.
func CountsAsFailure(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUpstream, KindTransport:
		return true
	}
	return false
}

// HTTPStatus maps a failure to the status the gateway answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream, KindTransport:
		return http.StatusBadGateway
	case KindIntegrationDisabled:
		return http.StatusServiceUnavailable
	case KindConfig:
		return http.StatusInternalServerError
	case KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
