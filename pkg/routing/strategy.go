// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package routing resolves canonical routes and aggregates the results of
// their mappings according to the route's strategy.
package routing

import (
	"context"
	"errors"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/executor"
)

var (
	// ErrRouteNotFound is returned when no route matches a request.
	ErrRouteNotFound = errors.New("route not found")
	// ErrRouteDisabled is returned when the matching route is disabled.
	ErrRouteDisabled = errors.New("route is disabled")
	// ErrNoMappings is returned when a route has no enabled mapping.
	ErrNoMappings = errors.New("route has no enabled mappings")
)

// Caller runs one mapping call. *executor.Executor satisfies it.
type Caller interface {
	Execute(ctx context.Context, req executor.Request) executor.Result
}

// Plan is the work handed to a strategy.
type Plan struct {
	Route catalog.Route
	// Mappings are the enabled mappings in ascending priority.
	Mappings []catalog.Mapping
	// Input carries the request data; its Mapping field is set per call.
	Input executor.Request
}

func (p Plan) request(m catalog.Mapping, body any) executor.Request {
	req := p.Input
	req.Route = p.Route
	req.Mapping = m
	req.Body = body
	return req
}

// Outcome is the aggregated result of a strategy.
type Outcome struct {
	Data any
	// Results hold one entry per executed mapping, in execution order for
	// sequential strategies and priority order for parallel ones.
	Results []executor.Result
	Partial bool
	Err     error
}

// Strategy aggregates mapping calls.
type Strategy interface {
	Run(ctx context.Context, caller Caller, plan Plan) Outcome

	// Name returns the strategy name.
	Name() catalog.Strategy
}
