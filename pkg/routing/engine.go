// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/executor"
	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/metrics"
)

// RouteSource supplies routes and mappings. *catalog.Catalog satisfies it.
type RouteSource interface {
	ListRoutes() []catalog.Route
	ListMappings(routeID string) []catalog.Mapping
}

// Status summarizes a route response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Inbound is a canonical request.
type Inbound struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is the decoded JSON request body, if any.
	Body any
}

// MappingResult annotates one executed mapping in a response.
type MappingResult struct {
	MappingID     string `json:"mapping_id"`
	IntegrationID string `json:"integration_id"`
	Priority      int    `json:"priority"`
	Success       bool   `json:"success"`
	Cached        bool   `json:"cached,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ErrorInfo describes a failed route response.
type ErrorInfo struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Response is the aggregated answer to a canonical request.
type Response struct {
	RouteID    string           `json:"route_id"`
	Strategy   catalog.Strategy `json:"strategy"`
	Status     Status           `json:"status"`
	Data       any              `json:"data,omitempty"`
	Results    []MappingResult  `json:"results"`
	DurationMs int64            `json:"duration_ms"`
	Error      *ErrorInfo       `json:"error,omitempty"`

	// Err is the failure behind an error status.
	Err error `json:"-"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("github.com/loganrossus/OpenConduit/pkg/routing") }
}

// WithDefaultTimeout sets the deadline of routes without their own timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// Engine resolves and executes canonical routes.
type Engine struct {
	routes         RouteSource
	caller         Caller
	logger         *slog.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration
}

// NewEngine creates an engine.
func NewEngine(routes RouteSource, caller Caller, opts ...Option) *Engine {
	e := &Engine{
		routes:         routes,
		caller:         caller,
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "routing")
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/loganrossus/OpenConduit/pkg/routing")
	}
	return e
}

// Resolve finds the route for method and path and extracts its path
// parameters. Routes with more literal segments win over parameterized ones.
func (e *Engine) Resolve(method, path string) (catalog.Route, map[string]string, error) {
	var (
		best       catalog.Route
		bestParams map[string]string
		bestScore  = -1
	)
	for _, r := range e.routes.ListRoutes() {
		if !strings.EqualFold(r.Method, method) {
			continue
		}
		params, score, ok := matchPath(r.Path, path)
		if !ok || score <= bestScore {
			continue
		}
		best, bestParams, bestScore = r, params, score
	}
	if bestScore < 0 {
		return catalog.Route{}, nil, fmt.Errorf("%s %s: %w", method, path, ErrRouteNotFound)
	}
	if !best.IsEnabled {
		return best, bestParams, fmt.Errorf("%s: %w", best.ID, ErrRouteDisabled)
	}
	return best, bestParams, nil
}

// matchPath matches path against a pattern with {param} segments. The score
// is the number of literal segments matched.
func matchPath(pattern, path string) (map[string]string, int, bool) {
	pp := splitPath(pattern)
	sp := splitPath(path)
	if len(pp) != len(sp) {
		return nil, 0, false
	}
	var params map[string]string
	score := 0
	for i, seg := range pp {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			v, err := url.PathUnescape(sp[i])
			if err != nil || v == "" {
				return nil, 0, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:len(seg)-1]] = v
			continue
		}
		if seg != sp[i] {
			return nil, 0, false
		}
		score++
	}
	return params, score, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Handle resolves and executes an inbound request. The error is non-nil
// only when no executable route matched.
func (e *Engine) Handle(ctx context.Context, in Inbound) (Response, error) {
	route, params, err := e.Resolve(in.Method, in.Path)
	if err != nil {
		return Response{}, err
	}
	return e.Execute(ctx, route, params, in), nil
}

// Execute runs route under its timeout using its aggregation strategy.
func (e *Engine) Execute(ctx context.Context, route catalog.Route, params map[string]string, in Inbound) Response {
	start := time.Now()
	resp := Response{RouteID: route.ID, Strategy: route.Strategy}

	ctx, span := e.tracer.Start(ctx, "route.execute", trace.WithAttributes(
		attribute.String("route.id", route.ID),
		attribute.String("route.strategy", string(route.Strategy)),
		attribute.String("http.method", in.Method),
	))
	defer span.End()

	timeout := route.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := e.run(ctx, route, params, in)

	resp.Data = out.Data
	resp.Results = make([]MappingResult, 0, len(out.Results))
	for _, r := range out.Results {
		resp.Results = append(resp.Results, annotate(r))
	}
	switch {
	case out.Err != nil:
		resp.Status = StatusError
		resp.Data = nil
		resp.Err = out.Err
		resp.Error = &ErrorInfo{
			Kind:              string(fault.KindOf(out.Err)),
			Message:           out.Err.Error(),
			RetryAfterSeconds: retryAfterSeconds(fault.RetryAfterOf(out.Err)),
		}
	case out.Partial:
		resp.Status = StatusPartial
	default:
		resp.Status = StatusSuccess
	}
	elapsed := time.Since(start)
	resp.DurationMs = elapsed.Milliseconds()

	span.SetAttributes(attribute.String("route.status", string(resp.Status)), attribute.Int("mappings.executed", len(out.Results)))
	if out.Err != nil {
		span.SetStatus(codes.Error, string(fault.KindOf(out.Err)))
		e.logger.Debug("route failed", "route", route.ID, "strategy", string(route.Strategy), "error", out.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	metrics.RecordRouteRequest(route.ID, string(route.Strategy), string(resp.Status), elapsed.Seconds())
	return resp
}

func (e *Engine) run(ctx context.Context, route catalog.Route, params map[string]string, in Inbound) Outcome {
	strategy, err := NewStrategy(route.Strategy)
	if err != nil {
		return Outcome{Err: &fault.Error{Kind: fault.KindConfig, Op: "route " + route.ID, Cause: err}}
	}

	var mappings []catalog.Mapping
	for _, m := range e.routes.ListMappings(route.ID) {
		if m.IsEnabled {
			mappings = append(mappings, m)
		}
	}
	if len(mappings) == 0 {
		return Outcome{Err: &fault.Error{Kind: fault.KindConfig, Op: "route " + route.ID, Cause: ErrNoMappings}}
	}
	catalog.SortByPriority(mappings)

	return strategy.Run(ctx, e.caller, Plan{
		Route:    route,
		Mappings: mappings,
		Input: executor.Request{
			PathParams: params,
			Query:      in.Query,
			Header:     in.Header,
			Body:       in.Body,
		},
	})
}

func annotate(r executor.Result) MappingResult {
	mr := MappingResult{
		MappingID:     r.MappingID,
		IntegrationID: r.IntegrationID,
		Priority:      r.Priority,
		Success:       r.OK(),
		Cached:        r.Cached,
		StatusCode:    r.StatusCode,
		Attempts:      r.Attempts,
		DurationMs:    r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		mr.ErrorKind = string(fault.KindOf(r.Err))
		mr.Error = r.Err.Error()
	}
	return mr
}

// retryAfterSeconds rounds up so a sub-second hint still reaches the caller.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
