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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/routing"
)

// DefaultMaxBodyBytes bounds inbound gateway bodies when no limit is set.
const DefaultMaxBodyBytes = 1 << 20

// RouteHandler resolves and executes canonical requests.
// *routing.Engine satisfies it.
type RouteHandler interface {
	Handle(ctx context.Context, in routing.Inbound) (routing.Response, error)
}

// Gateway serves canonical routes over HTTP.
type Gateway struct {
	routes       RouteHandler
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewGateway creates a gateway handler. maxBodyBytes <= 0 uses
// DefaultMaxBodyBytes.
func NewGateway(routes RouteHandler, maxBodyBytes int64, logger *slog.Logger) *Gateway {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		routes:       routes,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("component", "gateway"),
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := g.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := g.routes.Handle(r.Context(), routing.Inbound{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header,
		Body:   body,
	})
	switch {
	case errors.Is(err, routing.ErrRouteNotFound):
		writeError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
		return
	case errors.Is(err, routing.ErrRouteDisabled):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "route is disabled",
			Code:  http.StatusServiceUnavailable,
			Kind:  string(fault.KindIntegrationDisabled),
		})
		return
	case err != nil:
		g.logger.Error("route resolution failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if resp.Status == routing.StatusError {
		status = fault.HTTPStatus(resp.Err)
		if resp.Error != nil && resp.Error.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(resp.Error.RetryAfterSeconds))
		}
	}
	writeJSON(w, status, resp)
}

// readBody decodes a JSON body. Empty bodies decode to nil. Numbers are kept
// as json.Number so upstream payloads keep their precision.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New("request body is not valid JSON")
	}
	return v, nil
}
