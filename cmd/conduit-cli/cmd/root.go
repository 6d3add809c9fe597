// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package cmd implements CLI commands for conduit-cli.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/output"
	"github.com/loganrossus/OpenConduit/pkg/version"
)

var (
	// Global flags
	apiEndpoint     string
	gatewayEndpoint string
	timeout         int
	jsonOutput      bool

	// Formatter for output
	formatter output.Formatter
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "conduit-cli",
	Short: "CLI for managing OpenConduit",
	Long: `conduit-cli is a command-line tool for managing and debugging an OpenConduit instance.

It provides commands to:
  - View overall status and fleet statistics
  - List, inspect, test, enable and disable integrations
  - List routes and their mappings
  - Inspect live connectors
  - Call canonical routes through the gateway
  - Validate configuration files

Use --api to specify the admin API endpoint (default: http://localhost:8080).`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		formatter = output.New(jsonOutput, cmd.OutOrStdout())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiEndpoint, "api", getEnvOrDefault("CONDUIT_API", "http://localhost:8080"), "admin API endpoint")
	rootCmd.PersistentFlags().StringVar(&gatewayEndpoint, "gateway", getEnvOrDefault("CONDUIT_GATEWAY", "http://localhost:8000"), "gateway endpoint")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "request timeout in seconds")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(integrationsCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("conduit-cli version %s\n", version.Version))
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
