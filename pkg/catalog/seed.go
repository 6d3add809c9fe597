// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// SeedLimit bounds the number of concurrent store writes during Seed.
const SeedLimit = 8

// Records is a declarative set of catalog records, usually from the
// configuration file.
type Records struct {
	Integrations []Integration
	Routes       []Route
	Mappings     []Mapping
}

// SeedReport counts what Seed did.
type SeedReport struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Pruned    int `json:"pruned"`
}

// SeedOption configures Seed.
type SeedOption func(*seedConfig)

type seedConfig struct {
	prune bool
}

// WithPrune removes records that are not part of the seed.
func WithPrune() SeedOption {
	return func(c *seedConfig) { c.prune = true }
}

type seedCounters struct {
	created, updated, unchanged, pruned atomic.Int64
}

func (s *seedCounters) report() SeedReport {
	return SeedReport{
		Created:   int(s.created.Load()),
		Updated:   int(s.updated.Load()),
		Unchanged: int(s.unchanged.Load()),
		Pruned:    int(s.pruned.Load()),
	}
}

// Seed upserts recs into the catalog. Integrations are written first, then
// routes, then mappings, so references always resolve. Records equal to the
// stored version are skipped and fire no change. An integration seeded
// without a status keeps the status it already has.
func (c *Catalog) Seed(ctx context.Context, recs Records, opts ...SeedOption) (SeedReport, error) {
	var cfg seedConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	var n seedCounters

	if err := seedAll(ctx, recs.Integrations, func(ctx context.Context, in Integration) error {
		prev, err := c.GetIntegration(in.ID)
		exists := err == nil
		if exists && in.Status == "" {
			in.Status = prev.Status
		}
		if exists && sameIntegration(prev, in) {
			n.unchanged.Add(1)
			return nil
		}
		if _, err := c.PutIntegration(ctx, in); err != nil {
			return fmt.Errorf("seed integration %q: %w", in.ID, err)
		}
		count(&n, exists)
		return nil
	}); err != nil {
		return n.report(), err
	}

	if err := seedAll(ctx, recs.Routes, func(ctx context.Context, r Route) error {
		prev, err := c.GetRoute(r.ID)
		exists := err == nil
		if exists && sameRoute(prev, r) {
			n.unchanged.Add(1)
			return nil
		}
		if _, err := c.PutRoute(ctx, r); err != nil {
			return fmt.Errorf("seed route %q: %w", r.ID, err)
		}
		count(&n, exists)
		return nil
	}); err != nil {
		return n.report(), err
	}

	if err := seedAll(ctx, recs.Mappings, func(ctx context.Context, m Mapping) error {
		prev, err := c.GetMapping(m.ID)
		exists := err == nil
		if exists && sameMapping(prev, m) {
			n.unchanged.Add(1)
			return nil
		}
		if _, err := c.PutMapping(ctx, m); err != nil {
			return fmt.Errorf("seed mapping %q: %w", m.ID, err)
		}
		count(&n, exists)
		return nil
	}); err != nil {
		return n.report(), err
	}

	if cfg.prune {
		if err := c.prune(ctx, recs, &n); err != nil {
			return n.report(), err
		}
	}

	rep := n.report()
	c.logger.Info("catalog seeded",
		"created", rep.Created,
		"updated", rep.Updated,
		"unchanged", rep.Unchanged,
		"pruned", rep.Pruned,
	)
	return rep, nil
}

func count(n *seedCounters, existed bool) {
	if existed {
		n.updated.Add(1)
	} else {
		n.created.Add(1)
	}
}

func seedAll[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(SeedLimit)
	for _, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, item)
		})
	}
	return g.Wait()
}

// prune deletes mappings, then routes, then integrations absent from recs.
func (c *Catalog) prune(ctx context.Context, recs Records, n *seedCounters) error {
	keepM := make(map[string]struct{}, len(recs.Mappings))
	for _, m := range recs.Mappings {
		keepM[m.ID] = struct{}{}
	}
	keepR := make(map[string]struct{}, len(recs.Routes))
	for _, r := range recs.Routes {
		keepR[r.ID] = struct{}{}
	}
	keepI := make(map[string]struct{}, len(recs.Integrations))
	for _, in := range recs.Integrations {
		keepI[in.ID] = struct{}{}
	}

	var errs []error
	for _, m := range c.ListMappings("") {
		if _, ok := keepM[m.ID]; ok {
			continue
		}
		if err := c.DeleteMapping(ctx, m.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n.pruned.Add(1)
	}
	for _, r := range c.ListRoutes() {
		if _, ok := keepR[r.ID]; ok {
			continue
		}
		if err := c.DeleteRoute(ctx, r.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n.pruned.Add(1)
	}
	for _, in := range c.ListIntegrations() {
		if _, ok := keepI[in.ID]; ok {
			continue
		}
		if err := c.DeleteIntegration(ctx, in.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n.pruned.Add(1)
	}
	return errors.Join(errs...)
}

func sameIntegration(stored, seed Integration) bool {
	if seed.AuthType == "" {
		seed.AuthType = AuthNone
	}
	seed.CreatedAt, seed.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return reflect.DeepEqual(stored, seed)
}

func sameRoute(stored, seed Route) bool {
	seed.Method = strings.ToUpper(seed.Method)
	if seed.ThrottlePolicy == "" {
		seed.ThrottlePolicy = ThrottleReject
	}
	seed.CreatedAt, seed.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return reflect.DeepEqual(stored, seed)
}

func sameMapping(stored, seed Mapping) bool {
	seed.EndpointMethod = strings.ToUpper(seed.EndpointMethod)
	if seed.EndpointMethod == "" {
		seed.EndpointMethod = "GET"
	}
	seed.CreatedAt, seed.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return reflect.DeepEqual(stored, seed)
}
