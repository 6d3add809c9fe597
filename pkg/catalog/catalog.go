// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package catalog holds the durable integration, route and mapping records.
//
// Records are persisted as JSON in a store.Store and served from an
// in-memory index. Mapping statistics are accumulated in memory and flushed
// to the store periodically so the request path never waits on disk.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loganrossus/OpenConduit/pkg/store"
)

// Key prefixes in the backing store.
const (
	PrefixIntegrations = "integrations/"
	PrefixRoutes       = "routes/"
	PrefixMappings     = "mappings/"
	PrefixStats        = "stats/"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInUse is returned when deleting an integration that mappings still reference.
	ErrInUse = errors.New("integration is referenced by mappings")
	// ErrReference is returned when a mapping names a missing route or integration.
	ErrReference = errors.New("invalid reference")
)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// Catalog is safe for concurrent use.
type Catalog struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	integrations map[string]Integration
	routes       map[string]Route
	mappings     map[string]Mapping
	stats        map[string]*MappingStats
	dirty        map[string]struct{}

	listenersMu sync.RWMutex
	listeners   []func(Change)
}

// New creates a catalog over st and loads every record from it.
func New(ctx context.Context, st store.Store, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		store:        st,
		now:          time.Now,
		integrations: make(map[string]Integration),
		routes:       make(map[string]Route),
		mappings:     make(map[string]Mapping),
		stats:        make(map[string]*MappingStats),
		dirty:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "catalog")

	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Load replaces the in-memory index with the store contents.
func (c *Catalog) Load(ctx context.Context) error {
	integrations := make(map[string]Integration)
	if err := loadPrefix(ctx, c.store, PrefixIntegrations, integrations); err != nil {
		return err
	}
	routes := make(map[string]Route)
	if err := loadPrefix(ctx, c.store, PrefixRoutes, routes); err != nil {
		return err
	}
	mappings := make(map[string]Mapping)
	if err := loadPrefix(ctx, c.store, PrefixMappings, mappings); err != nil {
		return err
	}
	persisted := make(map[string]MappingStats)
	if err := loadPrefix(ctx, c.store, PrefixStats, persisted); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.integrations = integrations
	c.routes = routes
	c.mappings = mappings
	for id, s := range persisted {
		if cur, ok := c.stats[id]; ok && cur.TotalCalls >= s.TotalCalls {
			continue
		}
		s := s
		c.stats[id] = &s
	}

	c.logger.Debug("catalog loaded",
		"integrations", len(integrations),
		"routes", len(routes),
		"mappings", len(mappings),
	)
	return nil
}

func loadPrefix[T any](ctx context.Context, st store.Store, prefix string, into map[string]T) error {
	pairs, err := st.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}
	for _, p := range pairs {
		var v T
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return fmt.Errorf("decode %s: %w", p.Key, err)
		}
		into[strings.TrimPrefix(p.Key, prefix)] = v
	}
	return nil
}

func (c *Catalog) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// OnChange registers fn to be called after every applied change.
func (c *Catalog) OnChange(fn func(Change)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

func (c *Catalog) notify(ch Change) {
	c.listenersMu.RLock()
	listeners := append([]func(Change){}, c.listeners...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ch)
	}
}

// --- Integrations ---

// GetIntegration returns a copy of the integration record.
func (c *Catalog) GetIntegration(id string) (Integration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.integrations[id]
	if !ok {
		return Integration{}, fmt.Errorf("integration %q: %w", id, ErrNotFound)
	}
	return in, nil
}

// ListIntegrations returns every integration ordered by id.
func (c *Catalog) ListIntegrations() []Integration {
	c.mu.RLock()
	out := make([]Integration, 0, len(c.integrations))
	for _, in := range c.integrations {
		out = append(out, in)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutIntegration creates or replaces an integration. An empty ID is
// assigned; empty Status defaults to pending.
func (c *Catalog) PutIntegration(ctx context.Context, in Integration) (Integration, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if in.AuthType == "" {
		in.AuthType = AuthNone
	}
	if err := in.Validate(); err != nil {
		return Integration{}, err
	}

	now := c.now().UTC()
	c.mu.Lock()
	if prev, ok := c.integrations[in.ID]; ok {
		in.CreatedAt = prev.CreatedAt
	} else {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	if err := c.put(ctx, PrefixIntegrations+in.ID, in); err != nil {
		c.mu.Unlock()
		return Integration{}, err
	}
	c.integrations[in.ID] = in
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeIntegration, ID: in.ID})
	return in, nil
}

// UpdateIntegration applies fn to a copy of the record and stores the result.
func (c *Catalog) UpdateIntegration(ctx context.Context, id string, fn func(*Integration)) (Integration, error) {
	in, err := c.GetIntegration(id)
	if err != nil {
		return Integration{}, err
	}
	fn(&in)
	in.ID = id
	return c.PutIntegration(ctx, in)
}

// SetIntegrationStatus records the outcome of health probing.
func (c *Catalog) SetIntegrationStatus(ctx context.Context, id string, status Status) error {
	in, err := c.GetIntegration(id)
	if err != nil {
		return err
	}
	if in.Status == status {
		return nil
	}
	_, err = c.UpdateIntegration(ctx, id, func(i *Integration) { i.Status = status })
	return err
}

// DeleteIntegration removes an integration. It fails with ErrInUse while any
// mapping references it.
func (c *Catalog) DeleteIntegration(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.integrations[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("integration %q: %w", id, ErrNotFound)
	}
	var refs []string
	for _, m := range c.mappings {
		if m.IntegrationID == id {
			refs = append(refs, m.ID)
		}
	}
	if len(refs) > 0 {
		c.mu.Unlock()
		sort.Strings(refs)
		return fmt.Errorf("integration %q (mappings %s): %w", id, strings.Join(refs, ", "), ErrInUse)
	}
	if err := c.store.Delete(ctx, PrefixIntegrations+id); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("delete integration %q: %w", id, err)
	}
	delete(c.integrations, id)
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeIntegration, ID: id, Deleted: true})
	return nil
}

// --- Routes ---

// GetRoute returns a copy of the route record.
func (c *Catalog) GetRoute(id string) (Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[id]
	if !ok {
		return Route{}, fmt.Errorf("route %q: %w", id, ErrNotFound)
	}
	return r, nil
}

// ListRoutes returns every route ordered by id.
func (c *Catalog) ListRoutes() []Route {
	c.mu.RLock()
	out := make([]Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutRoute creates or replaces a route.
func (c *Catalog) PutRoute(ctx context.Context, r Route) (Route, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Method = strings.ToUpper(r.Method)
	if r.ThrottlePolicy == "" {
		r.ThrottlePolicy = ThrottleReject
	}
	if err := r.Validate(); err != nil {
		return Route{}, err
	}

	now := c.now().UTC()
	c.mu.Lock()
	for _, other := range c.routes {
		if other.ID != r.ID && other.Method == r.Method && other.Path == r.Path {
			c.mu.Unlock()
			return Route{}, &ValidationError{Field: "path", Value: r.Path, Message: "conflicts with route " + other.ID}
		}
	}
	if prev, ok := c.routes[r.ID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if err := c.put(ctx, PrefixRoutes+r.ID, r); err != nil {
		c.mu.Unlock()
		return Route{}, err
	}
	c.routes[r.ID] = r
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeRoute, ID: r.ID})
	return r, nil
}

// DeleteRoute removes a route together with its mappings.
func (c *Catalog) DeleteRoute(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.routes[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("route %q: %w", id, ErrNotFound)
	}
	var removed []string
	for mid, m := range c.mappings {
		if m.RouteID != id {
			continue
		}
		if err := c.store.Delete(ctx, PrefixMappings+mid); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("delete mapping %q: %w", mid, err)
		}
		delete(c.mappings, mid)
		removed = append(removed, mid)
	}
	if err := c.store.Delete(ctx, PrefixRoutes+id); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("delete route %q: %w", id, err)
	}
	delete(c.routes, id)
	c.mu.Unlock()

	for _, mid := range removed {
		c.notify(Change{Kind: ChangeMapping, ID: mid, Deleted: true})
	}
	c.notify(Change{Kind: ChangeRoute, ID: id, Deleted: true})
	return nil
}

// --- Mappings ---

// GetMapping returns a copy of the mapping record.
func (c *Catalog) GetMapping(id string) (Mapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mappings[id]
	if !ok {
		return Mapping{}, fmt.Errorf("mapping %q: %w", id, ErrNotFound)
	}
	return m, nil
}

// ListMappings returns the mappings of a route ordered by ascending
// priority, ties broken by id. An empty routeID lists every mapping.
func (c *Catalog) ListMappings(routeID string) []Mapping {
	c.mu.RLock()
	out := make([]Mapping, 0)
	for _, m := range c.mappings {
		if routeID == "" || m.RouteID == routeID {
			out = append(out, m)
		}
	}
	c.mu.RUnlock()
	SortByPriority(out)
	return out
}

// SortByPriority orders mappings by ascending priority, then id.
func SortByPriority(ms []Mapping) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Priority != ms[j].Priority {
			return ms[i].Priority < ms[j].Priority
		}
		return ms[i].ID < ms[j].ID
	})
}

// PutMapping creates or replaces a mapping. The route and integration it
// names must exist.
func (c *Catalog) PutMapping(ctx context.Context, m Mapping) (Mapping, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.EndpointMethod = strings.ToUpper(m.EndpointMethod)
	if m.EndpointMethod == "" {
		m.EndpointMethod = "GET"
	}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}

	now := c.now().UTC()
	c.mu.Lock()
	if _, ok := c.routes[m.RouteID]; !ok {
		c.mu.Unlock()
		return Mapping{}, fmt.Errorf("route %q: %w", m.RouteID, ErrReference)
	}
	if _, ok := c.integrations[m.IntegrationID]; !ok {
		c.mu.Unlock()
		return Mapping{}, fmt.Errorf("integration %q: %w", m.IntegrationID, ErrReference)
	}
	if prev, ok := c.mappings[m.ID]; ok {
		m.CreatedAt = prev.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if err := c.put(ctx, PrefixMappings+m.ID, m); err != nil {
		c.mu.Unlock()
		return Mapping{}, err
	}
	c.mappings[m.ID] = m
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeMapping, ID: m.ID})
	return m, nil
}

// DeleteMapping removes a mapping. Its statistics are kept.
func (c *Catalog) DeleteMapping(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.mappings[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("mapping %q: %w", id, ErrNotFound)
	}
	if err := c.store.Delete(ctx, PrefixMappings+id); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("delete mapping %q: %w", id, err)
	}
	delete(c.mappings, id)
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeMapping, ID: id, Deleted: true})
	return nil
}

// Watch applies changes made to the store by other instances until ctx is
// done. Events for writes made through this catalog are reapplied
// harmlessly.
func (c *Catalog) Watch(ctx context.Context) error {
	events, err := c.store.Watch(ctx, "")
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.apply(ev); err != nil {
				c.logger.Warn("ignoring malformed catalog event", "key", ev.Key, "error", err)
			}
		}
	}
}

func (c *Catalog) apply(ev store.WatchEvent) error {
	var change Change
	var changed bool
	var err error
	switch {
	case strings.HasPrefix(ev.Key, PrefixIntegrations):
		change = Change{Kind: ChangeIntegration, ID: strings.TrimPrefix(ev.Key, PrefixIntegrations)}
		changed, err = applyEvent(c, c.integrations, ev, change.ID)
	case strings.HasPrefix(ev.Key, PrefixRoutes):
		change = Change{Kind: ChangeRoute, ID: strings.TrimPrefix(ev.Key, PrefixRoutes)}
		changed, err = applyEvent(c, c.routes, ev, change.ID)
	case strings.HasPrefix(ev.Key, PrefixMappings):
		change = Change{Kind: ChangeMapping, ID: strings.TrimPrefix(ev.Key, PrefixMappings)}
		changed, err = applyEvent(c, c.mappings, ev, change.ID)
	default:
		return nil
	}
	if err != nil || !changed {
		return err
	}
	change.Deleted = ev.Type == store.EventDelete
	c.notify(change)
	return nil
}

// applyEvent updates into from ev and reports whether the index changed.
func applyEvent[T any](c *Catalog, into map[string]T, ev store.WatchEvent, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, exists := into[id]
	if ev.Type == store.EventDelete {
		delete(into, id)
		return exists, nil
	}
	var v T
	if err := json.Unmarshal(ev.Value, &v); err != nil {
		return false, err
	}
	if exists && reflect.DeepEqual(cur, v) {
		return false, nil
	}
	into[id] = v
	return true, nil
}
