// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/logging"
	"github.com/loganrossus/OpenConduit/pkg/transform"
)

type mapSource map[string]catalog.Integration

func (s mapSource) GetIntegration(id string) (catalog.Integration, error) {
	i, ok := s[id]
	if !ok {
		return catalog.Integration{}, fmt.Errorf("integration %q: %w", id, catalog.ErrNotFound)
	}
	return i, nil
}

func (s mapSource) ListIntegrations() []catalog.Integration {
	out := make([]catalog.Integration, 0, len(s))
	for _, i := range s {
		out = append(out, i)
	}
	return out
}

type statsSpy struct {
	mu    sync.Mutex
	calls map[string][]catalog.CallOutcome
}

func (s *statsSpy) RecordCall(id string, out catalog.CallOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string][]catalog.CallOutcome)
	}
	s.calls[id] = append(s.calls[id], out)
}

func (s *statsSpy) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls[id])
}

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

type scripted struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	statuses []int
	reply    string
	hits     atomic.Int64
}

func newScripted(t *testing.T, reply string, statuses ...int) *scripted {
	t.Helper()
	s := &scripted{reply: reply, statuses: statuses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1))
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), body})
		code := http.StatusOK
		if n <= len(s.statuses) {
			code = s.statuses[n-1]
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, s.reply)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scripted) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func testIntegration(id, baseURL string) catalog.Integration {
	return catalog.Integration{
		ID:        id,
		Name:      id,
		Category:  catalog.CategoryHospital,
		BaseURL:   baseURL,
		AuthType:  catalog.AuthNone,
		TimeoutMs: 2000,
		IsEnabled: true,
		Status:    catalog.StatusActive,
	}
}

type harness struct {
	exec   *Executor
	reg    *connector.Registry
	stats  *statsSpy
	delays []time.Duration
}

func newHarness(t *testing.T, integs ...catalog.Integration) *harness {
	t.Helper()
	src := mapSource{}
	for _, i := range integs {
		src[i.ID] = i
	}
	h := &harness{stats: &statsSpy{}}
	h.reg = connector.NewRegistry(src, connector.WithRegistryLogger(logging.Discard()))
	t.Cleanup(func() { _ = h.reg.Close() })
	var mu sync.Mutex
	h.exec = New(h.reg, h.stats,
		WithLogger(logging.Discard()),
		WithRand(func() float64 { return 0.5 }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			h.delays = append(h.delays, d)
			mu.Unlock()
			return ctx.Err()
		}),
	)
	return h
}

func route() catalog.Route {
	return catalog.Route{ID: "persons", Path: "/persons/{id}", Method: http.MethodGet, Strategy: catalog.StrategyFirstSuccess, IsEnabled: true}
}

func TestExecuteRendersTemplatesAndTransforms(t *testing.T) {
	up := newScripted(t, `{"patient":{"full_name":"Ada"},"ward":"B"}`)
	h := newHarness(t, testIntegration("hospital", up.URL))

	m := catalog.Mapping{
		ID:             "m1",
		RouteID:        "persons",
		IntegrationID:  "hospital",
		EndpointPath:   "/patients/{{params.id}}",
		EndpointMethod: http.MethodGet,
		RequestTemplate: catalog.RequestTemplate{
			Headers: map[string]string{"X-Tenant": "{{header.X-Tenant}}"},
			Query:   map[string]string{"name": "{{query.q}}"},
		},
		ResponseTransform: transform.Descriptor{Ops: []transform.Op{
			{Op: transform.OpCopy, From: "patient.full_name", To: "name"},
			{Op: transform.OpLiteral, To: "source", Value: "hospital"},
		}},
		IsEnabled: true,
	}
	res := h.exec.Execute(context.Background(), Request{
		Route:      route(),
		Mapping:    m,
		PathParams: map[string]string{"id": "a b"},
		Query:      map[string][]string{"q": {"ada"}},
		Header:     http.Header{"X-Tenant": {"north"}},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{"name": "Ada", "source": "hospital"}, res.Data)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "m1", res.MappingID)
	assert.Equal(t, "hospital", res.IntegrationID)

	got := up.last()
	assert.Equal(t, "/patients/a b", got.path)
	assert.Equal(t, "name=ada", got.query)
	assert.Equal(t, "north", got.header.Get("X-Tenant"))

	require.Equal(t, 1, h.stats.count("m1"))
	assert.True(t, h.stats.calls["m1"][0].Success)
}

func TestExecuteCachesSuccessfulResponses(t *testing.T) {
	up := newScripted(t, `{"id":7}`)
	h := newHarness(t, testIntegration("hospital", up.URL))
	m := catalog.Mapping{ID: "m1", IntegrationID: "hospital", EndpointPath: "/p/{{params.id}}", CacheEnabled: true, CacheTTLSeconds: 60, IsEnabled: true}
	req := Request{Route: route(), Mapping: m, PathParams: map[string]string{"id": "7"}}

	first := h.exec.Execute(context.Background(), req)
	require.NoError(t, first.Err)
	assert.False(t, first.Cached)

	second := h.exec.Execute(context.Background(), req)
	require.NoError(t, second.Err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int64(1), up.hits.Load())
	assert.Equal(t, 1, h.stats.count("m1"), "cache hits are not mapping calls")

	other := req
	other.PathParams = map[string]string{"id": "8"}
	third := h.exec.Execute(context.Background(), other)
	require.NoError(t, third.Err)
	assert.False(t, third.Cached)
	assert.Equal(t, int64(2), up.hits.Load())

	conn, err := h.reg.Get("hospital")
	require.NoError(t, err)
	st := conn.Cache().Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
}

func TestExecuteNeverCachesErrors(t *testing.T) {
	up := newScripted(t, `{"error":"boom"}`, http.StatusBadRequest)
	h := newHarness(t, testIntegration("hospital", up.URL))
	m := catalog.Mapping{ID: "m1", IntegrationID: "hospital", EndpointPath: "/p", CacheEnabled: true, CacheTTLSeconds: 60, IsEnabled: true}
	req := Request{Route: route(), Mapping: m}

	res := h.exec.Execute(context.Background(), req)
	require.ErrorIs(t, res.Err, fault.ErrUpstream)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, 1, res.Attempts, "4xx is not retried")

	res = h.exec.Execute(context.Background(), req)
	require.NoError(t, res.Err)
	assert.False(t, res.Cached)
	assert.Equal(t, int64(2), up.hits.Load())

	fe, ok := fault.As(h.exec.Execute(context.Background(), Request{Route: route(), Mapping: catalog.Mapping{ID: "m2", IntegrationID: "nope"}}).Err)
	require.True(t, ok)
	assert.Equal(t, fault.KindConfig, fe.Kind)
	assert.Equal(t, "m2", fe.Mapping)
}

func TestExecuteRetriesRetryableFailures(t *testing.T) {
	up := newScripted(t, `{"ok":true}`, http.StatusServiceUnavailable, http.StatusBadGateway)
	integ := testIntegration("hospital", up.URL)
	integ.RetryAttempts = 2
	integ.RetryDelayMs = 100
	h := newHarness(t, integ)

	res := h.exec.Execute(context.Background(), Request{Route: route(), Mapping: catalog.Mapping{ID: "m1", IntegrationID: "hospital", EndpointPath: "/"}})
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.delays)
	assert.Equal(t, 1, h.stats.count("m1"), "one mapping call regardless of attempts")
}

func TestExecuteRetryStopsAtDeadline(t *testing.T) {
	up := newScripted(t, `{}`, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	integ := testIntegration("hospital", up.URL)
	integ.RetryAttempts = 3
	integ.RetryDelayMs = 5000
	h := newHarness(t, integ)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := h.exec.Execute(ctx, Request{Route: route(), Mapping: catalog.Mapping{ID: "m1", IntegrationID: "hospital", EndpointPath: "/"}})
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, h.delays)
}

func TestExecuteDisabledFailsFast(t *testing.T) {
	up := newScripted(t, `{}`)
	integ := testIntegration("hospital", up.URL)
	integ.IsEnabled = false
	h := newHarness(t, integ)

	m := catalog.Mapping{ID: "m1", IntegrationID: "hospital", EndpointPath: "/", CacheEnabled: true, CacheTTLSeconds: 60}
	res := h.exec.Execute(context.Background(), Request{Route: route(), Mapping: m})
	require.ErrorIs(t, res.Err, fault.ErrIntegrationDisabled)
	assert.Zero(t, up.hits.Load())

	conn, err := h.reg.Get("hospital")
	require.NoError(t, err)
	assert.Zero(t, conn.Cache().Stats().Misses, "disabled connectors skip the cache")
	assert.Zero(t, conn.Limiter().Stats().TotalRequests)
	assert.Equal(t, 1, h.stats.count("m1"))
	assert.False(t, h.stats.calls["m1"][0].Success)
	assert.Equal(t, string(fault.KindIntegrationDisabled), h.stats.calls["m1"][0].ErrorKind)
}

func TestExecuteSendsTransformedBody(t *testing.T) {
	up := newScripted(t, `{"accepted":true}`)
	h := newHarness(t, testIntegration("border", up.URL))
	m := catalog.Mapping{
		ID:             "m1",
		IntegrationID:  "border",
		EndpointPath:   "/crossings/search",
		EndpointMethod: http.MethodPost,
		RequestTransform: transform.Descriptor{Passthrough: true, Ops: []transform.Op{
			{Op: transform.OpRename, From: "passport", To: "document.number"},
		}},
	}
	res := h.exec.Execute(context.Background(), Request{
		Route:   route(),
		Mapping: m,
		Body:    map[string]any{"passport": "X123"},
	})
	require.NoError(t, res.Err)

	got := up.last()
	assert.Equal(t, http.MethodPost, got.method)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(got.body, &sent))
	assert.Equal(t, map[string]any{"document": map[string]any{"number": "X123"}}, sent)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
}

func TestBuildCallQueuePolicy(t *testing.T) {
	r := route()
	r.ThrottlePolicy = catalog.ThrottleQueue
	call, _, err := buildCall(Request{Route: r, Mapping: catalog.Mapping{EndpointPath: "/x", TimeoutMs: 250}})
	require.NoError(t, err)
	assert.True(t, call.Queue)
	assert.Equal(t, 250*time.Millisecond, call.Timeout)
	assert.Equal(t, http.MethodGet, call.Method)

	_, _, err = buildCall(Request{Route: r, Mapping: catalog.Mapping{EndpointPath: "/x/{{params.missing}}"}})
	assert.ErrorIs(t, err, transform.ErrUnresolved)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1, nil))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, nil))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3, nil))
	assert.Equal(t, 300*time.Millisecond, p.Delay(9, nil))

	p.Jitter = 0.5
	assert.Equal(t, 50*time.Millisecond, p.Delay(1, func() float64 { return 0 }))
	assert.Equal(t, 150*time.Millisecond, p.Delay(1, func() float64 { return 1 }))

	def := PolicyFor(catalog.Integration{})
	assert.Equal(t, 1, def.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, def.InitialDelay)
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fault.ErrTimeout, true},
		{fault.ErrTransport, true},
		{&fault.Error{Kind: fault.KindUpstream, StatusCode: 503}, true},
		{&fault.Error{Kind: fault.KindUpstream, StatusCode: 404}, false},
		{fault.ErrThrottled, false},
		{fault.ErrCircuitOpen, false},
		{fault.ErrConfig, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, shouldRetry(c.err), "%v", c.err)
	}
}
