// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package connector

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loganrossus/OpenConduit/pkg/cache"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/fault"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/metrics"
)

// IntegrationSource supplies integration records. *catalog.Catalog
// satisfies it.
type IntegrationSource interface {
	GetIntegration(id string) (catalog.Integration, error)
	ListIntegrations() []catalog.Integration
}

// CacheFactory builds the response cache for a new connector.
type CacheFactory func(integrationID string) cache.Cache

// MemoryCaches returns a factory giving every connector its own in-process
// cache.
func MemoryCaches(opts ...cache.MemoryOption) CacheFactory {
	return func(string) cache.Cache { return cache.NewMemory(opts...) }
}

// RedisCaches returns a factory giving every connector a key-prefixed view
// of one shared Redis cache.
func RedisCaches(shared *cache.RedisCache) CacheFactory {
	return func(id string) cache.Cache { return shared.View(id + ":") }
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnectorOptions sets options applied to every connector created.
func WithConnectorOptions(opts ...Option) RegistryOption {
	return func(r *Registry) { r.connOpts = append(r.connOpts, opts...) }
}

// WithCacheFactory sets how connector caches are built.
func WithCacheFactory(f CacheFactory) RegistryOption {
	return func(r *Registry) { r.caches = f }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithWarmConcurrency bounds the fan-out of Warm.
func WithWarmConcurrency(n int) RegistryOption {
	return func(r *Registry) { r.warmLimit = n }
}

// Registry creates connectors lazily and keeps them for the process
// lifetime. Reads take a shared lock only.
type Registry struct {
	source    IntegrationSource
	connOpts  []Option
	caches    CacheFactory
	base      *slog.Logger
	logger    *slog.Logger
	warmLimit int

	mu    sync.RWMutex
	conns map[string]*Connector
	group singleflight.Group
}

// NewRegistry creates a registry over source.
func NewRegistry(source IntegrationSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:    source,
		conns:     make(map[string]*Connector),
		warmLimit: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.base = r.logger
	r.logger = r.logger.With("component", "registry")
	if r.caches == nil {
		r.caches = MemoryCaches()
	}
	return r
}

// Get returns the connector for id, creating it on first use. Concurrent
// first calls for the same id share one construction.
func (r *Registry) Get(id string) (*Connector, error) {
	if c, ok := r.Peek(id); ok {
		return c, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if c, ok := r.Peek(id); ok {
			return c, nil
		}
		integ, err := r.source.GetIntegration(id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, fault.New(fault.KindConfig, "integration %s not found", id).WithIntegration(id)
			}
			return nil, err
		}

		opts := make([]Option, 0, len(r.connOpts)+2)
		opts = append(opts, WithLogger(r.base))
		opts = append(opts, r.connOpts...)
		opts = append(opts, WithCache(r.caches(id)))
		c := New(integ, opts...)

		r.mu.Lock()
		r.conns[id] = c
		r.mu.Unlock()
		r.logger.Debug("connector created", "integration", id)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connector), nil
}

// Peek returns an existing connector without creating one.
func (r *Registry) Peek(id string) (*Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// List returns the existing connectors sorted by id.
func (r *Registry) List() []*Connector {
	r.mu.RLock()
	out := make([]*Connector, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of live connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Disable marks a connector disabled. In-flight calls finish normally.
func (r *Registry) Disable(id string) {
	if c, ok := r.Peek(id); ok {
		c.Disable()
	}
}

// Enable lifts a disable.
func (r *Registry) Enable(id string) {
	if c, ok := r.Peek(id); ok {
		c.Enable()
	}
}

// Remove disables the connector and drops it from the registry. Callers
// holding it keep a usable, disabled connector.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	c.Disable()
	metrics.ForgetIntegration(id)
	r.logger.Info("connector removed", "integration", id)
}

// Reconfigure applies a changed integration record to a live connector.
func (r *Registry) Reconfigure(integ catalog.Integration) {
	if c, ok := r.Peek(integ.ID); ok {
		c.Reconfigure(integ)
	}
}

// Sync reacts to catalog changes. Register it with Catalog.OnChange.
func (r *Registry) Sync(ch catalog.Change) {
	if ch.Kind != catalog.ChangeIntegration {
		return
	}
	if ch.Deleted {
		r.Remove(ch.ID)
		return
	}
	integ, err := r.source.GetIntegration(ch.ID)
	if err != nil {
		return
	}
	r.Reconfigure(integ)
}

// Warm creates connectors for every enabled integration.
func (r *Registry) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.warmLimit)
	for _, integ := range r.source.ListIntegrations() {
		if !integ.IsEnabled {
			continue
		}
		id := integ.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := r.Get(id)
			return err
		})
	}
	return g.Wait()
}

// CheckAllHealth probes every enabled integration concurrently. Probes still
// running when timeout elapses are canceled and reported as timed out.
func (r *Registry) CheckAllHealth(ctx context.Context, timeout time.Duration) map[string]health.Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var targets []*Connector
	for _, integ := range r.source.ListIntegrations() {
		if !integ.IsEnabled {
			continue
		}
		c, err := r.Get(integ.ID)
		if err != nil {
			continue
		}
		targets = append(targets, c)
	}

	type probe struct {
		id  string
		res health.Result
	}
	ch := make(chan probe, len(targets))
	for _, c := range targets {
		c := c
		go func() {
			ch <- probe{id: c.ID(), res: c.CheckHealth(ctx)}
		}()
	}

	results := make(map[string]health.Result, len(targets))
	for range targets {
		select {
		case p := <-ch:
			results[p.id] = p.res
		case <-ctx.Done():
			now := time.Now()
			for _, c := range targets {
				if _, ok := results[c.ID()]; !ok {
					results[c.ID()] = health.Result{
						Error:     fault.New(fault.KindTimeout, "health check exceeded sweep deadline of %s", timeout).WithIntegration(c.ID()),
						Latency:   timeout,
						Timestamp: now,
					}
				}
			}
			return results
		}
	}
	return results
}

// FleetStats aggregates connector state across the registry.
type FleetStats struct {
	Total      int                      `json:"total"`
	ByState    map[State]int            `json:"by_state"`
	ByCategory map[catalog.Category]int `json:"by_category"`
	// Requests sums the per-connector counters.
	TotalRequests      uint64  `json:"total_requests"`
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
}

// Stats groups live connectors by state and category.
func (r *Registry) Stats() FleetStats {
	fs := FleetStats{
		ByState:    make(map[State]int, len(States)),
		ByCategory: make(map[catalog.Category]int),
	}
	var hits, lookups uint64
	for _, c := range r.List() {
		m := c.Metrics()
		fs.Total++
		fs.ByState[m.State]++
		fs.ByCategory[m.Category]++
		fs.TotalRequests += m.TotalRequests
		fs.SuccessfulRequests += m.SuccessfulRequests
		fs.FailedRequests += m.FailedRequests
		hits += m.Cache.Hits
		lookups += m.Cache.Hits + m.Cache.Misses
	}
	if lookups > 0 {
		fs.CacheHitRate = float64(hits) / float64(lookups)
	}
	return fs
}

// Close closes every connector cache.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.List() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
