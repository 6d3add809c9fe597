// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package executor runs a single route mapping: cache lookup, connector
// gates, request templating, the upstream call with retries, the response
// transform and the bookkeeping that follows.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loganrossus/OpenConduit/pkg/cache"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/metrics"
	"github.com/loganrossus/OpenConduit/pkg/transform"
)

// ConnectorSource resolves connectors. *connector.Registry satisfies it.
type ConnectorSource interface {
	Get(id string) (*connector.Connector, error)
}

// StatsRecorder receives per-mapping call outcomes. *catalog.Catalog
// satisfies it.
type StatsRecorder interface {
	RecordCall(mappingID string, out catalog.CallOutcome)
}

// Request is the input of one mapping call.
type Request struct {
	Route      catalog.Route
	Mapping    catalog.Mapping
	PathParams map[string]string
	Query      url.Values
	Header     http.Header
	// Body is the decoded JSON input: the inbound body, or the previous
	// output in a chain.
	Body any
}

// Result is the outcome of one mapping call.
type Result struct {
	MappingID     string
	IntegrationID string
	Priority      int
	Data          any
	StatusCode    int
	Cached        bool
	Attempts      int
	Duration      time.Duration
	Err           error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithTracerProvider sets the tracer provider. The global provider is used
// by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp.Tracer("github.com/loganrossus/OpenConduit/pkg/executor") }
}

// WithSleep replaces the retry back-off sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) Option {
	return func(e *Executor) { e.rnd = fn }
}

// Executor is safe for concurrent use.
type Executor struct {
	conns  ConnectorSource
	stats  StatsRecorder
	logger *slog.Logger
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error
	rnd    func() float64
}

// New creates an executor. stats may be nil.
func New(conns ConnectorSource, stats StatsRecorder, opts ...Option) *Executor {
	e := &Executor{
		conns: conns,
		stats: stats,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/loganrossus/OpenConduit/pkg/executor")
	}
	return e
}

// Execute runs one mapping call. The returned Result always carries the
// mapping identity; Err is a *fault.Error on failure.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	m := req.Mapping
	ctx, span := e.tracer.Start(ctx, "mapping.call", trace.WithAttributes(
		attribute.String("route.id", req.Route.ID),
		attribute.String("mapping.id", m.ID),
		attribute.String("integration.id", m.IntegrationID),
		attribute.Int("mapping.priority", m.Priority),
	))
	defer span.End()

	start := time.Now()
	res := e.execute(ctx, req)
	res.MappingID = m.ID
	res.IntegrationID = m.IntegrationID
	res.Priority = m.Priority
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Bool("cache.hit", res.Cached),
		attribute.Int("attempts", res.Attempts),
	)
	if res.Err != nil {
		kind := fault.KindOf(res.Err)
		res.Err = withMapping(res.Err, m)
		span.SetAttributes(attribute.String("outcome", string(kind)))
		span.SetStatus(codes.Error, string(kind))
		span.RecordError(res.Err)
	} else {
		span.SetAttributes(attribute.String("outcome", "success"))
		span.SetStatus(codes.Ok, "")
	}

	if !res.Cached {
		e.record(req, res)
	}
	return res
}

func withMapping(err error, m catalog.Mapping) error {
	fe, ok := fault.As(err)
	if !ok {
		return &fault.Error{Kind: fault.KindOf(err), Mapping: m.ID, Integration: m.IntegrationID, Cause: err}
	}
	out := fe.WithMapping(m.ID)
	if out.Integration == "" {
		out.Integration = m.IntegrationID
	}
	return out
}

func (e *Executor) record(req Request, res Result) {
	outcome := "success"
	co := catalog.CallOutcome{Duration: res.Duration, Success: res.Err == nil}
	if res.Err != nil {
		outcome = string(fault.KindOf(res.Err))
		co.ErrorKind = outcome
		co.Error = res.Err.Error()
	}
	if e.stats != nil {
		e.stats.RecordCall(req.Mapping.ID, co)
	}
	metrics.RecordMappingCall(req.Route.ID, req.Mapping.ID, outcome)
}

func (e *Executor) execute(ctx context.Context, req Request) Result {
	m := req.Mapping

	conn, err := e.conns.Get(m.IntegrationID)
	if err != nil {
		return Result{Err: err}
	}
	if conn.Disabled() {
		return Result{Err: fault.New(fault.KindIntegrationDisabled, "integration is disabled").WithIntegration(conn.ID())}
	}
	integ := conn.Integration()

	call, rawBody, err := buildCall(req)
	if err != nil {
		return Result{Err: &fault.Error{Kind: fault.KindConfig, Op: "request template", Cause: err}}
	}

	var key string
	if m.CacheEnabled && m.CacheTTLSeconds > 0 {
		key, err = cacheKey(req, call, rawBody)
		if err != nil {
			return Result{Err: &fault.Error{Kind: fault.KindConfig, Op: "cache key", Cause: err}}
		}
		if data, ok := e.lookup(ctx, conn, key); ok {
			return Result{Data: data, StatusCode: http.StatusOK, Cached: true}
		}
	}

	resp, attempts, err := e.callWithRetry(ctx, conn, integ, call)
	res := Result{Attempts: attempts}
	if resp != nil {
		res.StatusCode = resp.StatusCode
	}
	if err != nil {
		res.Err = err
		return res
	}

	data, err := decodeBody(resp.Body)
	if err != nil && !m.ResponseTransform.IsIdentity() {
		res.Err = &fault.Error{Kind: fault.KindUpstream, StatusCode: resp.StatusCode, Message: "response is not JSON", Cause: err}
		return res
	}
	if err != nil {
		data = string(resp.Body)
	}

	data, err = m.ResponseTransform.Apply(data)
	if err != nil {
		res.Err = &fault.Error{Kind: fault.KindUpstream, StatusCode: resp.StatusCode, Op: "response transform", Cause: err}
		return res
	}
	res.Data = data

	if key != "" {
		e.store(ctx, conn, key, data, m.CacheTTL())
	}
	return res
}

func (e *Executor) callWithRetry(ctx context.Context, conn *connector.Connector, integ catalog.Integration, call connector.Call) (*connector.Response, int, error) {
	policy := PolicyFor(integ)
	var (
		resp *connector.Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = conn.Execute(ctx, call)
		if err == nil || attempt >= policy.MaxAttempts || !shouldRetry(err) || ctx.Err() != nil {
			return resp, attempt, err
		}

		delay := policy.Delay(attempt, e.rnd)
		if ra := fault.RetryAfterOf(err); ra > delay {
			delay = ra
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			return resp, attempt, err
		}
		e.logger.Debug("retrying mapping call",
			"integration", integ.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return resp, attempt, err
		}
	}
}

func (e *Executor) lookup(ctx context.Context, conn *connector.Connector, key string) (any, bool) {
	raw, ok, err := conn.Cache().Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache lookup failed", "integration", conn.ID(), "error", err)
		ok = false
	}
	metrics.RecordCacheLookup(conn.ID(), ok)
	if !ok {
		return nil, false
	}
	data, err := decodeBody(raw)
	if err != nil {
		e.logger.Warn("discarding undecodable cache entry", "integration", conn.ID(), "key", key, "error", err)
		_ = conn.Cache().Delete(ctx, key)
		return nil, false
	}
	return data, true
}

func (e *Executor) store(ctx context.Context, conn *connector.Connector, key string, data any, ttl time.Duration) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := conn.Cache().Set(ctx, key, raw, ttl); err != nil {
		e.logger.Warn("cache store failed", "integration", conn.ID(), "error", err)
	}
}

func decodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// buildCall renders the mapping templates against the request and returns
// the outbound call plus its encoded body.
func buildCall(req Request) (connector.Call, []byte, error) {
	m := req.Mapping
	src := transform.Sources{
		Params: req.PathParams,
		Query:  req.Query,
		Header: req.Header,
		Body:   req.Body,
	}

	path, err := transform.Render(m.EndpointPath, src, true)
	if err != nil {
		return connector.Call{}, nil, fmt.Errorf("endpoint path: %w", err)
	}

	call := connector.Call{
		Method:  m.EndpointMethod,
		Path:    path,
		Timeout: time.Duration(m.TimeoutMs) * time.Millisecond,
		Queue:   req.Route.ThrottlePolicy == catalog.ThrottleQueue,
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}

	if len(m.RequestTemplate.Query) > 0 {
		q, err := transform.RenderMap(m.RequestTemplate.Query, src)
		if err != nil {
			return connector.Call{}, nil, fmt.Errorf("query: %w", err)
		}
		call.Query = make(url.Values, len(q))
		for k, v := range q {
			call.Query.Set(k, v)
		}
	} else if len(req.Query) > 0 {
		call.Query = req.Query
	}

	if len(m.RequestTemplate.Headers) > 0 {
		h, err := transform.RenderMap(m.RequestTemplate.Headers, src)
		if err != nil {
			return connector.Call{}, nil, fmt.Errorf("headers: %w", err)
		}
		call.Header = make(http.Header, len(h))
		for k, v := range h {
			call.Header.Set(k, v)
		}
	}

	if req.Body != nil && sendsBody(call.Method) {
		body, err := m.RequestTransform.Apply(req.Body)
		if err != nil {
			return connector.Call{}, nil, fmt.Errorf("request transform: %w", err)
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return connector.Call{}, nil, fmt.Errorf("encode body: %w", err)
		}
		call.Body = raw
	}
	return call, call.Body, nil
}

func sendsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return false
	}
	return true
}

func cacheKey(req Request, call connector.Call, body []byte) (string, error) {
	tmpl := req.Mapping.CacheKeyTemplate
	if tmpl == "" {
		tmpl = cache.DefaultKeyTemplate
	}
	query := req.Query
	if call.Query != nil {
		query = call.Query
	}
	if body == nil && req.Body != nil {
		body, _ = json.Marshal(req.Body)
	}
	return cache.BuildKey(tmpl, cache.KeyInput{
		Route:       req.Route.ID,
		Mapping:     req.Mapping.ID,
		Integration: req.Mapping.IntegrationID,
		Method:      call.Method,
		Path:        call.Path,
		PathParams:  req.PathParams,
		Query:       query,
		Header:      req.Header,
		Body:        body,
	})
}
