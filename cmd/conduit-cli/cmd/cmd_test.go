// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/api"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/routing"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	// Flag variables keep their values between executions.
	integrationCategory = ""
	callData = ""
	configFile = ""
	jsonOutput = false
	completionNoDesc = false
	err := rootCmd.Execute()
	return out.String(), err
}

func fakeAPI(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCoalesce(t *testing.T) {
	if got := coalesce("", "", "b", "c"); got != "b" {
		t.Errorf("coalesce = %q, want b", got)
	}
	if got := coalesce("", ""); got != "" {
		t.Errorf("coalesce of empties = %q, want empty", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "0m"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{50*time.Hour + 10*time.Minute, "2d 2h 10m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(nil); got != "" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
	if got := formatCounts(map[string]int{"open": 0}); got != "" {
		t.Errorf("formatCounts with zero counts = %q", got)
	}
	got := formatCounts(map[string]int{"open": 1, "healthy": 3, "degraded": 0})
	if got != "(healthy: 3, open: 1)" {
		t.Errorf("formatCounts = %q", got)
	}
}

func TestRateLimitLabel(t *testing.T) {
	tests := []struct {
		minute, hour int
		want         string
	}{
		{0, 0, "unlimited"},
		{60, 0, "60/min"},
		{0, 1000, "1000/hour"},
		{60, 1000, "60/min, 1000/hour"},
	}
	for _, tt := range tests {
		if got := rateLimitLabel(tt.minute, tt.hour); got != tt.want {
			t.Errorf("rateLimitLabel(%d, %d) = %q, want %q", tt.minute, tt.hour, got, tt.want)
		}
	}
}

func TestURLEncode(t *testing.T) {
	if got := URLEncode("a b/c"); got != "a%20b%2Fc" {
		t.Errorf("URLEncode = %q", got)
	}
}

func TestIntegrationsList(t *testing.T) {
	var gotQuery string
	srv := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/integrations" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("category")
		writeJSON(w, http.StatusOK, api.IntegrationListResponse{
			Integrations: []api.IntegrationResponse{{
				Integration: catalog.Integration{
					ID:        "hospital-north",
					Name:      "North Hospital",
					Category:  catalog.CategoryHospital,
					BaseURL:   "http://north.example",
					Status:    catalog.StatusActive,
					IsEnabled: true,
				},
				ConnectorState: connector.StateConnected,
			}},
			Total: 1,
		})
	})

	out, err := run(t, "--api", srv.URL, "integrations", "list", "--category", "hospital")
	if err != nil {
		t.Fatalf("integrations list: %v", err)
	}
	if gotQuery != "hospital" {
		t.Errorf("category query = %q, want hospital", gotQuery)
	}
	for _, want := range []string{"hospital-north", "North Hospital", "connected", "http://north.example"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestIntegrationsEnable_JSON(t *testing.T) {
	var gotMethod, gotPath string
	srv := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		writeJSON(w, http.StatusOK, api.IntegrationResponse{
			Integration: catalog.Integration{ID: "hospital-north", IsEnabled: true},
		})
	})

	out, err := run(t, "--api", srv.URL, "--json", "integrations", "enable", "hospital-north")
	if err != nil {
		t.Fatalf("integrations enable: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/integrations/hospital-north/enable" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	var in api.IntegrationResponse
	if err := json.Unmarshal([]byte(out), &in); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !in.IsEnabled {
		t.Error("expected is_enabled in output")
	}
}

func TestIntegrationsGet_NotFound(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "integration not found"})
	})

	_, err := run(t, "--api", srv.URL, "integrations", "get", "ghost")
	if err == nil {
		t.Fatal("expected error for missing integration")
	}
	if !strings.Contains(err.Error(), "integration not found") {
		t.Errorf("error = %v, want API message", err)
	}
}

func TestCall(t *testing.T) {
	var gotBody string
	srv := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		_, _ = b.ReadFrom(r.Body)
		gotBody = b.String()
		switch r.URL.Path {
		case "/persons/42":
			writeJSON(w, http.StatusOK, routing.Response{
				RouteID: "person-lookup",
				Status:  routing.StatusSuccess,
				Data:    map[string]any{"name": "Ada"},
			})
		default:
			writeJSON(w, http.StatusBadGateway, routing.Response{
				RouteID: "person-lookup",
				Status:  routing.StatusError,
				Error:   &routing.ErrorInfo{Kind: "upstream_error", Message: "all integrations failed"},
			})
		}
	})

	out, err := run(t, "--gateway", srv.URL, "--json", "call", "get", "persons/42")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(out, "Ada") {
		t.Errorf("output missing data:\n%s", out)
	}

	_, err = run(t, "--gateway", srv.URL, "call", "POST", "/persons/search", "--data", `{"name":"Ada"}`)
	if err == nil || !strings.Contains(err.Error(), "upstream_error") {
		t.Errorf("expected upstream_error failure, got %v", err)
	}
	if gotBody != `{"name":"Ada"}` {
		t.Errorf("forwarded body = %q", gotBody)
	}

	if _, err := run(t, "--gateway", srv.URL, "call", "POST", "/x", "--data", "{not json"); err == nil {
		t.Error("expected error for invalid --data")
	}
}

const validConfig = `
store:
  type: memory
integrations:
  - id: hospital-north
    category: hospital
    base_url: http://north.example
routes:
  - id: person-lookup
    path: /persons/{id}
    mappings:
      - integration: hospital-north
        endpoint_path: /patients/{{params.id}}
`

const invalidConfig = `
store:
  type: memory
routes:
  - id: person-lookup
    path: /persons/{id}
    mappings:
      - integration: ghost
        endpoint_path: /patients
`

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte(validConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(invalidConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--json", "config", "validate", "-c", good)
	if err != nil {
		t.Fatalf("validate good config: %v", err)
	}
	var result ConfigValidationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !result.Valid || result.Integrations != 1 || result.Routes != 1 || result.Mappings != 1 {
		t.Errorf("result = %+v", result)
	}

	out, err = run(t, "config", "validate", "-c", bad)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(out, "Configuration invalid") {
		t.Errorf("output = %q", out)
	}
}

func TestCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		out, err := run(t, "completion", shell)
		if err != nil {
			t.Fatalf("completion %s: %v", shell, err)
		}
		if !strings.Contains(out, "conduit-cli") {
			t.Errorf("completion %s output does not name the binary", shell)
		}
	}
	if _, err := run(t, "completion", "tcsh"); err == nil {
		t.Error("expected error for unsupported shell")
	}
	if _, err := run(t, "completion", "fish", "--no-descriptions"); err != nil {
		t.Errorf("completion fish --no-descriptions: %v", err)
	}
}
