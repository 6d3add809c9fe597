// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/config"
	"github.com/loganrossus/OpenConduit/pkg/logging"
	"github.com/loganrossus/OpenConduit/pkg/version"
)

const DefaultConfigPath = "/etc/openconduit/config.yaml"

// Command-line flags stored at package level for reload handler access.
var configPath string

func main() {
	flag.StringVar(&configPath, "config", DefaultConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("OpenConduit %s\n", version.Version)
		os.Exit(0)
	}

	// Bootstrap logger for startup (before config is loaded)
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	bootstrapLogger.Info("OpenConduit starting",
		"version", version.Version,
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, bootstrapLogger)
	if err != nil {
		bootstrapLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		bootstrapLogger.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
		"integrations", len(cfg.Integrations),
		"routes", len(cfg.Routes),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApplication(cfg, logger)
	if err := app.Initialize(ctx); err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle shutdown signals (SIGINT, SIGTERM) and reload signal (SIGHUP)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start(ctx)
	}()

	logger.Info("OpenConduit running",
		"pid", os.Getpid(),
		"gateway", cfg.Gateway.Address,
		"reload", "send SIGHUP to reload configuration",
	)

	// Main event loop
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reloading configuration")
				if err := handleReload(ctx, app, logger); err != nil {
					logger.Error("configuration reload failed", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("received shutdown signal", "signal", sig)
				goto shutdown
			}
		case err := <-errChan:
			if err != nil {
				logger.Error("application error", "error", err)
			}
			goto shutdown
		}
	}

shutdown:
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("OpenConduit stopped")
}

// loadConfig checks file permissions, then loads and validates the file.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	worldReadable, err := config.CheckFilePermissions(path)
	if err != nil {
		return nil, fmt.Errorf("configuration file security check failed: %w", err)
	}
	if worldReadable {
		logger.Warn("config file is world-readable and may contain credentials; run 'chmod 640' to fix", "path", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// handleReload loads and applies a new configuration.
func handleReload(ctx context.Context, app *Application, logger *slog.Logger) error {
	newCfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := app.Reload(ctx, newCfg); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}

	logger.Info("configuration reloaded successfully")
	return nil
}
