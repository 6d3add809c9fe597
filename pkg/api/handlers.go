// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/version"
)

// maxAdminBody bounds admin request bodies.
const maxAdminBody = 1 << 20

// Catalog is the record store behind the admin API. *catalog.Catalog
// satisfies it.
type Catalog interface {
	ListIntegrations() []catalog.Integration
	GetIntegration(id string) (catalog.Integration, error)
	PutIntegration(ctx context.Context, in catalog.Integration) (catalog.Integration, error)
	UpdateIntegration(ctx context.Context, id string, fn func(*catalog.Integration)) (catalog.Integration, error)
	SetIntegrationStatus(ctx context.Context, id string, status catalog.Status) error
	DeleteIntegration(ctx context.Context, id string) error

	ListRoutes() []catalog.Route
	GetRoute(id string) (catalog.Route, error)
	PutRoute(ctx context.Context, r catalog.Route) (catalog.Route, error)
	DeleteRoute(ctx context.Context, id string) error

	ListMappings(routeID string) []catalog.Mapping
	GetMapping(id string) (catalog.Mapping, error)
	PutMapping(ctx context.Context, m catalog.Mapping) (catalog.Mapping, error)
	DeleteMapping(ctx context.Context, id string) error
	MappingStats(mappingID string) catalog.MappingStats
}

// Connectors gives access to live connectors. *connector.Registry
// satisfies it.
type Connectors interface {
	Get(id string) (*connector.Connector, error)
	Peek(id string) (*connector.Connector, bool)
	List() []*connector.Connector
	Stats() connector.FleetStats
}

// HealthMonitor exposes tracked integration health. *health.Sweeper
// satisfies it.
type HealthMonitor interface {
	AllStatus() []health.Snapshot
	LastSweep() time.Time
	Sweep(ctx context.Context) map[string]health.Result
}

// ReadinessChecker reports whether the application can serve traffic.
type ReadinessChecker interface {
	Ready() (bool, string)
}

// Handlers contains the admin API endpoint handlers.
type Handlers struct {
	catalog    Catalog
	connectors Connectors
	health     HealthMonitor
	readiness  ReadinessChecker
	logger     *slog.Logger
	started    time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithHealthMonitor enables the health endpoints.
func WithHealthMonitor(m HealthMonitor) HandlerOption {
	return func(h *Handlers) { h.health = m }
}

// WithReadiness sets the readiness checker.
func WithReadiness(rc ReadinessChecker) HandlerOption {
	return func(h *Handlers) { h.readiness = rc }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) { h.logger = logger }
}

// NewHandlers creates the admin handlers.
func NewHandlers(cat Catalog, conns Connectors, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		catalog:    cat,
		connectors: conns,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "admin")
	return h
}

// Register adds every admin endpoint to mux. Endpoints other than live and
// ready are wrapped with acl when it is non-nil.
func (h *Handlers) Register(mux *http.ServeMux, acl *ACLMiddleware) {
	protect := func(fn http.HandlerFunc) http.Handler {
		if acl == nil {
			return fn
		}
		return acl.Wrap(fn)
	}

	mux.HandleFunc("GET /api/v1/live", h.Live)
	mux.HandleFunc("GET /api/v1/ready", h.Ready)
	mux.Handle("GET /api/v1/version", protect(h.Version))

	mux.Handle("GET /api/v1/integrations", protect(h.ListIntegrations))
	mux.Handle("POST /api/v1/integrations", protect(h.CreateIntegration))
	mux.Handle("GET /api/v1/integrations/{id}", protect(h.GetIntegration))
	mux.Handle("PUT /api/v1/integrations/{id}", protect(h.UpdateIntegration))
	mux.Handle("DELETE /api/v1/integrations/{id}", protect(h.DeleteIntegration))
	mux.Handle("POST /api/v1/integrations/{id}/test", protect(h.TestIntegration))
	mux.Handle("POST /api/v1/integrations/{id}/enable", protect(h.EnableIntegration))
	mux.Handle("POST /api/v1/integrations/{id}/disable", protect(h.DisableIntegration))
	mux.Handle("GET /api/v1/integrations/{id}/stats", protect(h.IntegrationStats))

	mux.Handle("GET /api/v1/routes", protect(h.ListRoutes))
	mux.Handle("POST /api/v1/routes", protect(h.CreateRoute))
	mux.Handle("GET /api/v1/routes/{id}", protect(h.GetRoute))
	mux.Handle("PUT /api/v1/routes/{id}", protect(h.UpdateRoute))
	mux.Handle("DELETE /api/v1/routes/{id}", protect(h.DeleteRoute))
	mux.Handle("GET /api/v1/routes/{id}/mappings", protect(h.ListRouteMappings))
	mux.Handle("POST /api/v1/routes/{id}/mappings", protect(h.CreateMapping))

	mux.Handle("GET /api/v1/mappings/{id}", protect(h.GetMapping))
	mux.Handle("PUT /api/v1/mappings/{id}", protect(h.UpdateMapping))
	mux.Handle("DELETE /api/v1/mappings/{id}", protect(h.DeleteMapping))
	mux.Handle("GET /api/v1/mappings/{id}/stats", protect(h.MappingStats))

	mux.Handle("GET /api/v1/connectors", protect(h.ListConnectors))
	mux.Handle("GET /api/v1/stats", protect(h.Stats))
	if h.health != nil {
		mux.Handle("GET /api/v1/health", protect(h.Health))
		mux.Handle("POST /api/v1/health/check", protect(h.HealthCheck))
	}
}

// Live handles GET /api/v1/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LiveResponse{Alive: true})
}

// Ready handles GET /api/v1/ready
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSON(w, http.StatusOK, ReadyResponse{Ready: true})
		return
	}
	ready, msg := h.readiness.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadyResponse{Ready: ready, Message: msg})
}

// Version handles GET /api/v1/version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:       version.GetVersion(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Can't do much here, response already started
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  status,
	})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeCatalogError maps catalog failures onto HTTP statuses.
func (h *Handlers) writeCatalogError(w http.ResponseWriter, op string, err error) {
	var ve *catalog.ValidationError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrReference):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    http.StatusBadRequest,
			Details: validationDetails(err),
		})
	default:
		h.logger.Error("catalog operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationDetails(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		out := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
