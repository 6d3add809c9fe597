// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/logging"
	"github.com/loganrossus/OpenConduit/pkg/store"
)

type adminFixture struct {
	cat *catalog.Catalog
	reg *connector.Registry
	mux *http.ServeMux
}

func newAdminFixture(t *testing.T, opts ...HandlerOption) *adminFixture {
	t.Helper()
	cat, err := catalog.New(context.Background(), store.NewMemoryStore(), catalog.WithLogger(logging.Discard()))
	require.NoError(t, err)
	reg := connector.NewRegistry(cat, connector.WithRegistryLogger(logging.Discard()))
	cat.OnChange(reg.Sync)
	t.Cleanup(func() { _ = reg.Close() })

	mux := http.NewServeMux()
	opts = append([]HandlerOption{WithHandlerLogger(logging.Discard())}, opts...)
	NewHandlers(cat, reg, opts...).Register(mux, nil)
	return &adminFixture{cat: cat, reg: reg, mux: mux}
}

func (f *adminFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func hospital(id, baseURL string) catalog.Integration {
	return catalog.Integration{
		ID:        id,
		Name:      "Hospital " + id,
		Category:  catalog.CategoryHospital,
		BaseURL:   baseURL,
		AuthType:  catalog.AuthNone,
		TimeoutMs: 2000,
		IsEnabled: true,
	}
}

func TestIntegrationCRUD(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/integrations", hospital("h1", "http://127.0.0.1:9"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[IntegrationResponse](t, rec)
	assert.Equal(t, catalog.StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	rec = f.do(t, http.MethodPost, "/api/v1/integrations", hospital("h1", "http://127.0.0.1:9"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/integrations/h1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hospital h1", decode[IntegrationResponse](t, rec).Name)

	require.NoError(t, f.cat.SetIntegrationStatus(context.Background(), "h1", catalog.StatusActive))
	update := hospital("ignored", "http://127.0.0.1:10")
	update.Name = "Renamed"
	rec = f.do(t, http.MethodPut, "/api/v1/integrations/h1", update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[IntegrationResponse](t, rec)
	assert.Equal(t, "h1", updated.ID)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, catalog.StatusActive, updated.Status, "empty status keeps the stored one")

	rec = f.do(t, http.MethodGet, "/api/v1/integrations?category=border", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[IntegrationListResponse](t, rec).Total)
	rec = f.do(t, http.MethodGet, "/api/v1/integrations", nil)
	assert.Equal(t, 1, decode[IntegrationListResponse](t, rec).Total)

	rec = f.do(t, http.MethodDelete, "/api/v1/integrations/h1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/integrations/h1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntegrationValidation(t *testing.T) {
	f := newAdminFixture(t)

	bad := hospital("h1", "ftp://nowhere")
	bad.TimeoutMs = 0
	rec := f.do(t, http.MethodPost, "/api/v1/integrations", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation failed", resp.Error)
	assert.Len(t, resp.Details, 2)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations", strings.NewReader("{not json"))
	out := httptest.NewRecorder()
	f.mux.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestRouteAndMappingCRUD(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	_, err := f.cat.PutIntegration(ctx, hospital("h1", "http://127.0.0.1:9"))
	require.NoError(t, err)

	route := catalog.Route{ID: "persons", Path: "/persons/{id}", Method: "get", Strategy: catalog.StrategyFirstSuccess, TimeoutMs: 1000, IsEnabled: true}
	rec := f.do(t, http.MethodPost, "/api/v1/routes", route)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "GET", decode[RouteResponse](t, rec).Method)

	clash := route
	clash.ID = "other"
	rec = f.do(t, http.MethodPost, "/api/v1/routes", clash)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m := catalog.Mapping{ID: "persons.h1", IntegrationID: "h1", EndpointPath: "/patients/{{params.id}}", IsEnabled: true}
	rec = f.do(t, http.MethodPost, "/api/v1/routes/persons/mappings", m)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[catalog.Mapping](t, rec)
	assert.Equal(t, "persons", saved.RouteID)
	assert.Equal(t, "GET", saved.EndpointMethod)

	dangling := catalog.Mapping{ID: "persons.ghost", IntegrationID: "ghost", EndpointPath: "/x", IsEnabled: true}
	rec = f.do(t, http.MethodPost, "/api/v1/routes/persons/mappings", dangling)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/routes/persons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[RouteResponse](t, rec).Mappings, 1)

	m.Priority = 5
	rec = f.do(t, http.MethodPut, "/api/v1/mappings/persons.h1", m)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[catalog.Mapping](t, rec).Priority)

	rec = f.do(t, http.MethodGet, "/api/v1/mappings/persons.h1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(0), decode[catalog.MappingStats](t, rec).TotalCalls)

	rec = f.do(t, http.MethodDelete, "/api/v1/integrations/h1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "referenced integrations cannot be deleted")

	rec = f.do(t, http.MethodDelete, "/api/v1/routes/persons", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/mappings/persons.h1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/integrations/h1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTestIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	f := newAdminFixture(t)
	ctx := context.Background()
	_, err := f.cat.PutIntegration(ctx, hospital("up", upstream.URL))
	require.NoError(t, err)
	_, err = f.cat.PutIntegration(ctx, hospital("down", downURL))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/integrations/up/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[connector.TestReport](t, rec)
	assert.True(t, report.Success)
	assert.Len(t, report.Steps, 5)
	up, err := f.cat.GetIntegration("up")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusActive, up.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/integrations/down/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decode[connector.TestReport](t, rec)
	assert.False(t, report.Success)
	assert.True(t, report.Steps[len(report.Steps)-1].Skipped)
	dn, err := f.cat.GetIntegration("down")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusError, dn.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/integrations/missing/test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnableDisable(t *testing.T) {
	f := newAdminFixture(t)
	_, err := f.cat.PutIntegration(context.Background(), hospital("h1", "http://127.0.0.1:9"))
	require.NoError(t, err)
	conn, err := f.reg.Get("h1")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/integrations/h1/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[IntegrationResponse](t, rec)
	assert.False(t, resp.IsEnabled)
	assert.Equal(t, connector.StateDisabled, resp.ConnectorState)
	assert.True(t, conn.Disabled())

	rec = f.do(t, http.MethodPost, "/api/v1/integrations/h1/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[IntegrationResponse](t, rec).IsEnabled)
	assert.False(t, conn.Disabled())

	rec = f.do(t, http.MethodGet, "/api/v1/integrations/h1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "h1", decode[connector.Metrics](t, rec).IntegrationID)
}

func TestStatsAndConnectors(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_, err := f.cat.PutIntegration(ctx, hospital(id, "http://127.0.0.1:9"))
		require.NoError(t, err)
		_, err = f.reg.Get(id)
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/connectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ConnectorListResponse](t, rec)
	require.Len(t, list.Connectors, 2)
	assert.Equal(t, "a", list.Connectors[0].IntegrationID)

	rec = f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, stats.Integrations)
	assert.Equal(t, 2, stats.Connectors.Total)
}

type fakeHealth struct {
	snaps []health.Snapshot
	sweep map[string]health.Result
	last  time.Time
}

func (f *fakeHealth) AllStatus() []health.Snapshot                   { return f.snaps }
func (f *fakeHealth) LastSweep() time.Time                           { return f.last }
func (f *fakeHealth) Sweep(context.Context) map[string]health.Result { return f.sweep }

type readiness struct {
	ok  bool
	msg string
}

func (r readiness) Ready() (bool, string) { return r.ok, r.msg }

func TestHealthEndpoints(t *testing.T) {
	now := time.Now()
	fh := &fakeHealth{
		snaps: []health.Snapshot{
			{ID: "h2", Status: health.StatusUnhealthy, ConsecutiveFails: 3},
			{ID: "h1", Status: health.StatusHealthy, LastCheck: now, LastLatency: 12 * time.Millisecond},
		},
		sweep: map[string]health.Result{
			"h1": {Healthy: true, Latency: 5 * time.Millisecond, StatusCode: 200},
			"h2": {Healthy: false, Stage: "tcp", Error: io.ErrUnexpectedEOF},
		},
		last: now,
	}
	f := newAdminFixture(t, WithHealthMonitor(fh), WithReadiness(readiness{false, "warming"}))

	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hr := decode[HealthResponse](t, rec)
	require.Len(t, hr.Integrations, 2)
	assert.Equal(t, "h1", hr.Integrations[0].IntegrationID)
	assert.True(t, hr.Integrations[0].Healthy)
	assert.Equal(t, int64(12), hr.Integrations[0].LatencyMs)
	assert.Equal(t, 3, hr.Integrations[1].ConsecutiveFailures)
	assert.NotNil(t, hr.LastSweep)

	rec = f.do(t, http.MethodPost, "/api/v1/health/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hc := decode[HealthCheckResponse](t, rec)
	assert.Equal(t, 1, hc.Healthy)
	assert.Equal(t, 1, hc.Unhealthy)
	assert.Equal(t, "tcp", hc.Results[1].Stage)
	assert.NotEmpty(t, hc.Results[1].Error)

	rec = f.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "warming", decode[ReadyResponse](t, rec).Message)

	rec = f.do(t, http.MethodGet, "/api/v1/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_ACLSkipsProbes(t *testing.T) {
	cat, err := catalog.New(context.Background(), store.NewMemoryStore(), catalog.WithLogger(logging.Discard()))
	require.NoError(t, err)
	reg := connector.NewRegistry(cat, connector.WithRegistryLogger(logging.Discard()))
	defer reg.Close()

	acl, err := NewACLMiddleware([]string{"10.0.0.0/8"}, false, logging.Discard())
	require.NoError(t, err)
	mux := http.NewServeMux()
	NewHandlers(cat, reg, WithHandlerLogger(logging.Discard())).Register(mux, acl)

	for path, want := range map[string]int{
		"/api/v1/live":         http.StatusOK,
		"/api/v1/ready":        http.StatusOK,
		"/api/v1/integrations": http.StatusForbidden,
		"/api/v1/version":      http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.168.0.1:4000"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, path)
	}
}
