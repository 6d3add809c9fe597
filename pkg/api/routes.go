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

func (h *Handlers) routeView(rt catalog.Route) RouteResponse {
	ms := h.catalog.ListMappings(rt.ID)
	catalog.SortByPriority(ms)
	if ms == nil {
		ms = []catalog.Mapping{}
	}
	return RouteResponse{Route: rt, Mappings: ms}
}

// ListRoutes handles GET /api/v1/routes
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.ListRoutes()
	out := make([]RouteResponse, 0, len(all))
	for _, rt := range all {
		out = append(out, h.routeView(rt))
	}
	writeJSON(w, http.StatusOK, RouteListResponse{
		Routes:      out,
		Total:       len(out),
		GeneratedAt: time.Now().UTC(),
	})
}

// CreateRoute handles POST /api/v1/routes
func (h *Handlers) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var rt catalog.Route
	if !decodeBody(w, r, &rt) {
		return
	}
	if rt.ID != "" {
		if _, err := h.catalog.GetRoute(rt.ID); err == nil {
			writeError(w, http.StatusConflict, "route "+rt.ID+" already exists")
			return
		}
	}
	saved, err := h.catalog.PutRoute(r.Context(), rt)
	if err != nil {
		h.writeCatalogError(w, "create route", err)
		return
	}
	h.logger.Info("route created", "route", saved.ID, "method", saved.Method, "path", saved.Path)
	writeJSON(w, http.StatusCreated, h.routeView(saved))
}

// GetRoute handles GET /api/v1/routes/{id}
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := h.catalog.GetRoute(r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, "get route", err)
		return
	}
	writeJSON(w, http.StatusOK, h.routeView(rt))
}

// UpdateRoute handles PUT /api/v1/routes/{id}
func (h *Handlers) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.catalog.GetRoute(id); err != nil {
		h.writeCatalogError(w, "update route", err)
		return
	}
	var rt catalog.Route
	if !decodeBody(w, r, &rt) {
		return
	}
	rt.ID = id
	saved, err := h.catalog.PutRoute(r.Context(), rt)
	if err != nil {
		h.writeCatalogError(w, "update route", err)
		return
	}
	h.logger.Info("route updated", "route", id)
	writeJSON(w, http.StatusOK, h.routeView(saved))
}

// DeleteRoute handles DELETE /api/v1/routes/{id}. Its mappings go with it.
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.catalog.DeleteRoute(r.Context(), id); err != nil {
		h.writeCatalogError(w, "delete route", err)
		return
	}
	h.logger.Info("route deleted", "route", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListRouteMappings handles GET /api/v1/routes/{id}/mappings
func (h *Handlers) ListRouteMappings(w http.ResponseWriter, r *http.Request) {
	rt, err := h.catalog.GetRoute(r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, "list mappings", err)
		return
	}
	view := h.routeView(rt)
	writeJSON(w, http.StatusOK, MappingListResponse{Mappings: view.Mappings, Total: len(view.Mappings)})
}

// CreateMapping handles POST /api/v1/routes/{id}/mappings
func (h *Handlers) CreateMapping(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")
	if _, err := h.catalog.GetRoute(routeID); err != nil {
		h.writeCatalogError(w, "create mapping", err)
		return
	}
	var m catalog.Mapping
	if !decodeBody(w, r, &m) {
		return
	}
	m.RouteID = routeID
	if m.ID != "" {
		if _, err := h.catalog.GetMapping(m.ID); err == nil {
			writeError(w, http.StatusConflict, "mapping "+m.ID+" already exists")
			return
		}
	}
	saved, err := h.catalog.PutMapping(r.Context(), m)
	if err != nil {
		h.writeCatalogError(w, "create mapping", err)
		return
	}
	h.logger.Info("mapping created", "mapping", saved.ID, "route", routeID, "integration", saved.IntegrationID)
	writeJSON(w, http.StatusCreated, saved)
}

// GetMapping handles GET /api/v1/mappings/{id}
func (h *Handlers) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.catalog.GetMapping(r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, "get mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMapping handles PUT /api/v1/mappings/{id}. The mapping stays on its
// route.
func (h *Handlers) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prev, err := h.catalog.GetMapping(id)
	if err != nil {
		h.writeCatalogError(w, "update mapping", err)
		return
	}
	var m catalog.Mapping
	if !decodeBody(w, r, &m) {
		return
	}
	m.ID = id
	m.RouteID = prev.RouteID
	saved, err := h.catalog.PutMapping(r.Context(), m)
	if err != nil {
		h.writeCatalogError(w, "update mapping", err)
		return
	}
	h.logger.Info("mapping updated", "mapping", id)
	writeJSON(w, http.StatusOK, saved)
}

// DeleteMapping handles DELETE /api/v1/mappings/{id}
func (h *Handlers) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.catalog.DeleteMapping(r.Context(), id); err != nil {
		h.writeCatalogError(w, "delete mapping", err)
		return
	}
	h.logger.Info("mapping deleted", "mapping", id)
	w.WriteHeader(http.StatusNoContent)
}

// MappingStats handles GET /api/v1/mappings/{id}/stats
func (h *Handlers) MappingStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.catalog.GetMapping(id); err != nil {
		h.writeCatalogError(w, "mapping stats", err)
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.MappingStats(id))
}
