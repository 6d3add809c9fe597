// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/connector"
)

// ListConnectors handles GET /api/v1/connectors
func (h *Handlers) ListConnectors(w http.ResponseWriter, r *http.Request) {
	conns := h.connectors.List()
	out := make([]connector.Metrics, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntegrationID < out[j].IntegrationID })
	writeJSON(w, http.StatusOK, ConnectorListResponse{
		Connectors:  out,
		Total:       len(out),
		GeneratedAt: time.Now().UTC(),
	})
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Integrations: len(h.catalog.ListIntegrations()),
		Routes:       len(h.catalog.ListRoutes()),
		Mappings:     len(h.catalog.ListMappings("")),
		Connectors:   h.connectors.Stats(),
		GeneratedAt:  time.Now().UTC(),
	})
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	snaps := h.health.AllStatus()
	out := make([]IntegrationHealth, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, healthView(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntegrationID < out[j].IntegrationID })

	resp := HealthResponse{Integrations: out, GeneratedAt: time.Now().UTC()}
	if last := h.health.LastSweep(); !last.IsZero() {
		resp.LastSweep = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles POST /api/v1/health/check by running a sweep now.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	results := h.health.Sweep(r.Context())
	resp := HealthCheckResponse{
		Results:     make([]HealthCheckResult, 0, len(results)),
		GeneratedAt: time.Now().UTC(),
	}
	for id, res := range results {
		item := HealthCheckResult{
			IntegrationID: id,
			Healthy:       res.Healthy,
			StatusCode:    res.StatusCode,
			Stage:         res.Stage,
			LatencyMs:     res.Latency.Milliseconds(),
		}
		if res.Error != nil {
			item.Error = res.Error.Error()
		}
		if res.Healthy {
			resp.Healthy++
		} else {
			resp.Unhealthy++
		}
		resp.Results = append(resp.Results, item)
	}
	sort.Slice(resp.Results, func(i, j int) bool { return resp.Results[i].IntegrationID < resp.Results[j].IntegrationID })
	writeJSON(w, http.StatusOK, resp)
}
