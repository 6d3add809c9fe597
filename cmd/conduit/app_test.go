// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/config"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/logging"
	"github.com/loganrossus/OpenConduit/pkg/routing"
)

const appConfigTemplate = `
store:
  type: memory
api:
  enabled: true
health:
  disabled: true
integrations:
  - id: hospital-north
    name: North Hospital
    category: hospital
    base_url: %[1]s
    timeout: 2s
routes:
  - id: person-lookup
    path: /persons/{id}
    mappings:
      - integration: hospital-north
        endpoint_path: /patients/{{params.id}}
        response_transform:
          ops:
            - op: copy
              from: patient.name
              to: name
`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"patient":{"name":"Ada","path":%q}}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, yaml string) *Application {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	app := NewApplication(cfg, logging.Discard())
	if err := app.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func TestApplication_ServesSeededRoute(t *testing.T) {
	upstream := newUpstream(t)
	app := newTestApp(t, fmt.Sprintf(appConfigTemplate, upstream.URL))

	if got := len(app.catalog.ListMappings("person-lookup")); got != 1 {
		t.Fatalf("expected 1 seeded mapping, got %d", got)
	}

	rec := httptest.NewRecorder()
	app.gatewayServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/persons/42", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp routing.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != routing.StatusSuccess {
		t.Errorf("expected success, got %s", resp.Status)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["name"] != "Ada" {
		t.Errorf("unexpected data: %#v", resp.Data)
	}

	rec = httptest.NewRecorder()
	app.gatewayServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestApplication_AdminAPI(t *testing.T) {
	upstream := newUpstream(t)
	app := newTestApp(t, fmt.Sprintf(appConfigTemplate, upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/hospital-north", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	rec = httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 outside allowed networks, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil)
	rec = httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before start, got %d", rec.Code)
	}
}

func TestApplication_Reload(t *testing.T) {
	upstream := newUpstream(t)
	app := newTestApp(t, fmt.Sprintf(appConfigTemplate, upstream.URL))

	next, err := config.Parse([]byte(fmt.Sprintf(appConfigTemplate+`
  - id: patient-records
    path: /persons/{id}/records
    mappings:
      - integration: hospital-north
        endpoint_path: /records/{{params.id}}
`, upstream.URL)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := app.Reload(context.Background(), next); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := app.catalog.GetRoute("patient-records"); err != nil {
		t.Fatalf("expected reloaded route: %v", err)
	}
	if app.Config() != next {
		t.Error("expected active config to be replaced")
	}

	rec := httptest.NewRecorder()
	app.gatewayServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/persons/7/records", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from reloaded route, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestApplication_HealthChangeUpdatesStatus(t *testing.T) {
	upstream := newUpstream(t)
	app := newTestApp(t, fmt.Sprintf(appConfigTemplate, upstream.URL))

	tests := []struct {
		status health.Status
		want   catalog.Status
	}{
		{health.StatusHealthy, catalog.StatusActive},
		{health.StatusUnhealthy, catalog.StatusError},
	}
	for _, tt := range tests {
		app.onHealthChange("hospital-north", tt.status)
		integ, err := app.catalog.GetIntegration("hospital-north")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if integ.Status != tt.want {
			t.Errorf("after %s: expected status %s, got %s", tt.status, tt.want, integ.Status)
		}
	}

	// Unknown integrations are ignored.
	app.onHealthChange("missing", health.StatusHealthy)
}

func TestLoadConfig_Permissions(t *testing.T) {
	upstream := newUpstream(t)
	content := []byte(fmt.Sprintf(appConfigTemplate, upstream.URL))

	tests := []struct {
		name    string
		mode    os.FileMode
		wantErr bool
	}{
		{"owner only", 0o600, false},
		{"group readable", 0o640, false},
		{"world readable warns", 0o644, false},
		{"world writable rejected", 0o666, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, content, tt.mode); err != nil {
				t.Fatalf("write: %v", err)
			}
			// WriteFile is subject to the umask.
			if err := os.Chmod(path, tt.mode); err != nil {
				t.Fatalf("chmod: %v", err)
			}
			_, err := loadConfig(path, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Errorf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := loadConfig("/nonexistent/config.yaml", logging.Discard()); err == nil {
		t.Error("expected error for missing file")
	}
}
