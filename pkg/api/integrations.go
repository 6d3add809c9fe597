// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package api

import (
	"net/http"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

func (h *Handlers) integrationView(in catalog.Integration) IntegrationResponse {
	resp := IntegrationResponse{Integration: in}
	if c, ok := h.connectors.Peek(in.ID); ok {
		resp.ConnectorState = c.State()
	}
	return resp
}

// ListIntegrations handles GET /api/v1/integrations
func (h *Handlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	category := catalog.Category(r.URL.Query().Get("category"))
	all := h.catalog.ListIntegrations()
	out := make([]IntegrationResponse, 0, len(all))
	for _, in := range all {
		if category != "" && in.Category != category {
			continue
		}
		out = append(out, h.integrationView(in))
	}
	writeJSON(w, http.StatusOK, IntegrationListResponse{
		Integrations: out,
		Total:        len(out),
		GeneratedAt:  time.Now().UTC(),
	})
}

// CreateIntegration handles POST /api/v1/integrations
func (h *Handlers) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	var in catalog.Integration
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ID != "" {
		if _, err := h.catalog.GetIntegration(in.ID); err == nil {
			writeError(w, http.StatusConflict, "integration "+in.ID+" already exists")
			return
		}
	}
	saved, err := h.catalog.PutIntegration(r.Context(), in)
	if err != nil {
		h.writeCatalogError(w, "create integration", err)
		return
	}
	h.logger.Info("integration created", "integration", saved.ID)
	writeJSON(w, http.StatusCreated, h.integrationView(saved))
}

// GetIntegration handles GET /api/v1/integrations/{id}
func (h *Handlers) GetIntegration(w http.ResponseWriter, r *http.Request) {
	in, err := h.catalog.GetIntegration(r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, "get integration", err)
		return
	}
	writeJSON(w, http.StatusOK, h.integrationView(in))
}

// UpdateIntegration handles PUT /api/v1/integrations/{id}. An empty status
// keeps the stored one.
func (h *Handlers) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prev, err := h.catalog.GetIntegration(id)
	if err != nil {
		h.writeCatalogError(w, "update integration", err)
		return
	}
	var in catalog.Integration
	if !decodeBody(w, r, &in) {
		return
	}
	in.ID = id
	if in.Status == "" {
		in.Status = prev.Status
	}
	saved, err := h.catalog.PutIntegration(r.Context(), in)
	if err != nil {
		h.writeCatalogError(w, "update integration", err)
		return
	}
	h.logger.Info("integration updated", "integration", id)
	writeJSON(w, http.StatusOK, h.integrationView(saved))
}

// DeleteIntegration handles DELETE /api/v1/integrations/{id}
func (h *Handlers) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.catalog.DeleteIntegration(r.Context(), id); err != nil {
		h.writeCatalogError(w, "delete integration", err)
		return
	}
	h.logger.Info("integration deleted", "integration", id)
	w.WriteHeader(http.StatusNoContent)
}

// TestIntegration handles POST /api/v1/integrations/{id}/test. The outcome
// is recorded as the integration status.
func (h *Handlers) TestIntegration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.catalog.GetIntegration(id); err != nil {
		h.writeCatalogError(w, "test integration", err)
		return
	}
	conn, err := h.connectors.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := conn.TestConnectivity(r.Context())
	status := catalog.StatusActive
	if !report.Success {
		status = catalog.StatusError
	}
	if err := h.catalog.SetIntegrationStatus(r.Context(), id, status); err != nil {
		h.logger.Warn("failed to record test outcome", "integration", id, "error", err)
	}
	writeJSON(w, http.StatusOK, report)
}

// EnableIntegration handles POST /api/v1/integrations/{id}/enable
func (h *Handlers) EnableIntegration(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableIntegration handles POST /api/v1/integrations/{id}/disable
func (h *Handlers) DisableIntegration(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handlers) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	saved, err := h.catalog.UpdateIntegration(r.Context(), id, func(in *catalog.Integration) {
		in.IsEnabled = enabled
	})
	if err != nil {
		h.writeCatalogError(w, "toggle integration", err)
		return
	}
	h.logger.Info("integration toggled", "integration", id, "enabled", enabled)
	writeJSON(w, http.StatusOK, h.integrationView(saved))
}

// IntegrationStats handles GET /api/v1/integrations/{id}/stats
func (h *Handlers) IntegrationStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.catalog.GetIntegration(id); err != nil {
		h.writeCatalogError(w, "integration stats", err)
		return
	}
	conn, err := h.connectors.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conn.Metrics())
}
