// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/api"
	"github.com/loganrossus/OpenConduit/pkg/breaker"
	"github.com/loganrossus/OpenConduit/pkg/cache"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/config"
	"github.com/loganrossus/OpenConduit/pkg/connector"
	"github.com/loganrossus/OpenConduit/pkg/credentials"
	"github.com/loganrossus/OpenConduit/pkg/executor"
	"github.com/loganrossus/OpenConduit/pkg/health"
	"github.com/loganrossus/OpenConduit/pkg/metrics"
	"github.com/loganrossus/OpenConduit/pkg/routing"
	"github.com/loganrossus/OpenConduit/pkg/store"
	"github.com/loganrossus/OpenConduit/pkg/tracing"
	"github.com/loganrossus/OpenConduit/pkg/version"
)

// Application manages the lifecycle of all OpenConduit components.
type Application struct {
	config   *config.Config
	configMu sync.RWMutex
	logger   *slog.Logger

	store    store.Store
	catalog  *catalog.Catalog
	creds    *credentials.StaticProvider
	redis    *cache.RedisCache
	registry *connector.Registry
	executor *executor.Executor
	engine   *routing.Engine
	sweeper  *health.Sweeper
	tracer   *tracing.Provider

	metricsServer *metrics.Server
	apiServer     *api.Server
	gatewayServer *api.Server

	ready atomic.Bool
	bg    sync.WaitGroup
}

// NewApplication creates a new Application instance with pre-loaded configuration.
func NewApplication(cfg *config.Config, logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Initialize sets up all components using the loaded configuration. The
// catalog is seeded from the configured integrations and routes.
func (a *Application) Initialize(ctx context.Context) error {
	a.logger.Info("initializing application",
		"store", a.config.Store.Type,
		"cache", a.config.Cache.Backend,
	)

	metrics.SetAppInfo(version.Version)
	a.tracer = tracing.New(tracing.Config{
		Enabled:     a.config.Tracing.Enabled,
		ServiceName: a.config.Tracing.ServiceName,
		SampleRatio: a.config.Tracing.SampleRatio,
	}, a.logger)

	if err := a.initializeCatalog(ctx); err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	if err := a.initializeConnectors(); err != nil {
		return fmt.Errorf("failed to initialize connectors: %w", err)
	}

	a.executor = executor.New(a.registry, a.catalog,
		executor.WithLogger(a.logger),
		executor.WithTracerProvider(a.tracer.TracerProvider),
	)
	a.engine = routing.NewEngine(a.catalog, a.executor,
		routing.WithLogger(a.logger),
		routing.WithTracerProvider(a.tracer.TracerProvider),
		routing.WithDefaultTimeout(a.config.Gateway.DefaultRouteTimeout),
	)

	a.initializeHealth()

	if err := a.initializeServers(); err != nil {
		return fmt.Errorf("failed to initialize servers: %w", err)
	}
	return nil
}

func (a *Application) initializeCatalog(ctx context.Context) error {
	st, err := store.New(store.Config{
		Type:        store.StoreType(a.config.Store.Type),
		Path:        a.config.Store.Path,
		Endpoints:   a.config.Store.Endpoints,
		Prefix:      a.config.Store.Prefix,
		DialTimeout: a.config.Store.DialTimeout,
		Username:    a.config.Store.Username,
		Password:    a.config.Store.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	cat, err := catalog.New(ctx, st, catalog.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.catalog = cat

	if err := a.seed(ctx, a.config); err != nil {
		return err
	}
	metrics.SetConfigMetrics(len(cat.ListIntegrations()), len(cat.ListRoutes()), float64(time.Now().Unix()))
	return nil
}

func (a *Application) seed(ctx context.Context, cfg *config.Config) error {
	var opts []catalog.SeedOption
	if cfg.Store.PruneUnlisted {
		opts = append(opts, catalog.WithPrune())
	}
	report, err := a.catalog.Seed(ctx, cfg.Records(), opts...)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	a.logger.Debug("seed report",
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"pruned", report.Pruned,
	)
	return nil
}

func (a *Application) initializeConnectors() error {
	a.creds = credentials.NewStatic(a.config.Credentials)

	caches := connector.MemoryCaches(
		cache.WithSweepInterval(a.config.Cache.SweepInterval),
		cache.WithMaxEntries(a.config.Cache.MaxEntries),
	)
	if a.config.Cache.Backend == "redis" {
		rc, err := cache.NewRedis(cache.RedisOptions{
			URL:       a.config.Cache.RedisURL,
			KeyPrefix: a.config.Cache.KeyPrefix,
		})
		if err != nil {
			return err
		}
		a.redis = rc
		caches = connector.RedisCaches(rc)
	}

	a.registry = connector.NewRegistry(a.catalog,
		connector.WithRegistryLogger(a.logger),
		connector.WithCacheFactory(caches),
		connector.WithConnectorOptions(
			connector.WithCredentials(a.creds),
			connector.WithSettings(connectorSettings(a.config)),
		),
	)
	a.catalog.OnChange(a.registry.Sync)

	a.logger.Info("connector registry initialized",
		"integrations", len(a.catalog.ListIntegrations()),
		"credentials", a.creds.Refs(),
	)
	return nil
}

func connectorSettings(cfg *config.Config) connector.Settings {
	s := connector.DefaultSettings()
	s.Breaker = breaker.Config{
		FailureThreshold:  cfg.Defaults.CircuitBreaker.FailureThreshold,
		ResetTimeout:      cfg.Defaults.CircuitBreaker.ResetTimeout,
		MaxResetTimeout:   cfg.Defaults.CircuitBreaker.MaxResetTimeout,
		BackoffMultiplier: cfg.Defaults.CircuitBreaker.BackoffMultiplier,
	}
	s.DegradedErrorRate = cfg.Defaults.DegradedErrorRate
	s.DefaultTimeout = cfg.Defaults.Timeout
	s.ProbeTimeout = cfg.Health.ProbeTimeout
	return s
}

func (a *Application) initializeHealth() {
	if a.config.Health.Disabled {
		a.logger.Info("health sweeps disabled")
		return
	}
	a.sweeper = health.NewSweeper(a.registry, health.SweeperConfig{
		FailThreshold: a.config.Health.FailureThreshold,
		PassThreshold: a.config.Health.SuccessThreshold,
		Interval:      a.config.Health.Interval,
		Timeout:       a.config.Health.SweepTimeout,
	}, a.logger)
	a.sweeper.OnStatusChange(a.onHealthChange)

	a.logger.Info("health sweeper initialized",
		"interval", a.config.Health.Interval,
		"sweep_timeout", a.config.Health.SweepTimeout,
	)
}

// onHealthChange records tracked health as the integration status.
func (a *Application) onHealthChange(id string, status health.Status) {
	var next catalog.Status
	switch status {
	case health.StatusHealthy:
		next = catalog.StatusActive
	case health.StatusUnhealthy:
		next = catalog.StatusError
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.catalog.SetIntegrationStatus(ctx, id, next); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		a.logger.Warn("failed to record integration status", "integration", id, "status", next, "error", err)
	}
}

func (a *Application) initializeServers() error {
	if a.config.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Address: a.config.Metrics.Address,
			Logger:  a.logger,
		})
		a.logger.Info("metrics server initialized", "address", a.config.Metrics.Address)
	} else {
		a.logger.Info("metrics server disabled")
	}

	if a.config.API.Enabled {
		acl, err := api.NewACLMiddleware(a.config.API.AllowedNetworks, a.config.API.TrustProxyHeaders, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create API ACL: %w", err)
		}
		opts := []api.HandlerOption{
			api.WithHandlerLogger(a.logger),
			api.WithReadiness(&readinessChecker{app: a}),
		}
		if a.sweeper != nil {
			opts = append(opts, api.WithHealthMonitor(a.sweeper))
		}
		mux := http.NewServeMux()
		api.NewHandlers(a.catalog, a.registry, opts...).Register(mux, acl)
		a.apiServer = api.NewServer(api.ServerConfig{
			Name:    "api",
			Address: a.config.API.Address,
			Logger:  a.logger,
		}, mux)

		a.logger.Info("API server initialized",
			"address", a.config.API.Address,
			"allowed_networks", a.config.API.AllowedNetworks,
		)
	} else {
		a.logger.Info("API server disabled")
	}

	gw := api.NewGateway(a.engine, a.config.Gateway.MaxBodyBytes, a.logger)
	a.gatewayServer = api.NewServer(api.ServerConfig{
		Name:         "gateway",
		Address:      a.config.Gateway.Address,
		Logger:       a.logger,
		WriteTimeout: a.config.Gateway.DefaultRouteTimeout + 5*time.Second,
	}, gw)
	a.logger.Info("gateway initialized", "address", a.config.Gateway.Address)
	return nil
}

// Start begins all application components. It blocks until the gateway
// server stops.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting application")

	if err := a.registry.Warm(ctx); err != nil {
		a.logger.Warn("connector warm-up incomplete", "error", err)
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start health sweeper: %w", err)
		}
		a.logger.Info("health sweeper started")
	}

	a.goBackground(func() { a.catalog.Run(ctx, a.config.Stats.FlushInterval) })

	if a.config.Store.Watch {
		a.goBackground(func() {
			if err := a.catalog.Watch(ctx); err != nil {
				a.logger.Error("catalog watch stopped", "error", err)
			}
		})
		a.logger.Info("watching shared catalog", "endpoints", a.config.Store.Endpoints)
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(ctx); err != nil {
				a.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(ctx); err != nil {
				a.logger.Error("API server error", "error", err)
			}
		}()
	}

	a.ready.Store(true)
	if err := a.gatewayServer.Start(ctx); err != nil {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

func (a *Application) goBackground(fn func()) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn()
	}()
}

// Shutdown gracefully stops all application components. The context passed
// to Start must already be canceled so background loops can exit.
func (a *Application) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down application")
	a.ready.Store(false)

	var errs []error

	for _, srv := range []*api.Server{a.gatewayServer, a.apiServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("error stopping server", "error", err)
			errs = append(errs, err)
		}
	}

	if a.sweeper != nil {
		a.logger.Debug("stopping health sweeper")
		if err := a.sweeper.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown deadline exceeded")
		return ctx.Err()
	}

	if a.catalog != nil {
		if err := a.catalog.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush statistics: %w", err))
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// Reload applies a new configuration without restarting. Integrations and
// routes are re-seeded, credentials are swapped in place and live connectors
// pick up their changed records.
func (a *Application) Reload(ctx context.Context, newCfg *config.Config) error {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	oldCfg := a.config

	a.logger.Info("reloading configuration",
		"old_integrations", len(oldCfg.Integrations),
		"new_integrations", len(newCfg.Integrations),
		"old_routes", len(oldCfg.Routes),
		"new_routes", len(newCfg.Routes),
	)

	// Check for changes that require restart
	if oldCfg.Gateway.Address != newCfg.Gateway.Address {
		a.logger.Warn("gateway address change requires restart")
	}
	if oldCfg.API.Address != newCfg.API.Address || oldCfg.API.Enabled != newCfg.API.Enabled {
		a.logger.Warn("API listener change requires restart")
	}
	if oldCfg.Store.Type != newCfg.Store.Type || oldCfg.Store.Path != newCfg.Store.Path {
		a.logger.Warn("store change requires restart")
	}
	if oldCfg.Cache.Backend != newCfg.Cache.Backend {
		a.logger.Warn("cache backend change requires restart")
	}

	a.creds.Replace(newCfg.Credentials)

	if err := a.seed(ctx, newCfg); err != nil {
		metrics.RecordReload(false)
		return err
	}

	metrics.SetConfigMetrics(len(a.catalog.ListIntegrations()), len(a.catalog.ListRoutes()), float64(time.Now().Unix()))
	a.config = newCfg
	metrics.RecordReload(true)

	a.logger.Info("configuration reload complete")
	return nil
}

// Config returns the active configuration.
func (a *Application) Config() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

// readinessChecker implements api.ReadinessChecker for the Application.
type readinessChecker struct {
	app *Application
}

func (r *readinessChecker) Ready() (bool, string) {
	if !r.app.ready.Load() {
		return false, "starting"
	}
	if r.app.sweeper == nil {
		return true, ""
	}
	snapshots := r.app.sweeper.AllStatus()
	if len(snapshots) == 0 || !r.app.sweeper.LastSweep().IsZero() {
		return true, ""
	}
	return false, "waiting for first health sweep"
}
