// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/output"
	"github.com/loganrossus/OpenConduit/pkg/api"
	"github.com/loganrossus/OpenConduit/pkg/connector"
)

var integrationCategory string

var integrationsCmd = &cobra.Command{
	Use:     "integrations",
	Aliases: []string{"integration", "int"},
	Short:   "Manage integrations",
	Long:    `Commands for listing, inspecting, testing and toggling integrations.`,
}

var integrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/integrations"
		if integrationCategory != "" {
			path += "?category=" + url.QueryEscape(integrationCategory)
		}
		var resp api.IntegrationListResponse
		if err := NewAPIClient().Get(path, &resp); err != nil {
			return fmt.Errorf("failed to list integrations: %w", err)
		}
		if jsonOutput {
			return formatter.Print(resp)
		}

		rows := make([][]string, 0, len(resp.Integrations))
		for _, in := range resp.Integrations {
			rows = append(rows, []string{
				in.ID,
				coalesce(in.Name, "-"),
				string(in.Category),
				string(in.Status),
				enabledLabel(in.IsEnabled),
				coalesce(string(in.ConnectorState), "-"),
				in.BaseURL,
			})
		}
		formatter.PrintTable([]string{"ID", "NAME", "CATEGORY", "STATUS", "ENABLED", "CONNECTOR", "BASE URL"}, rows)
		return nil
	},
}

var integrationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in api.IntegrationResponse
		if err := NewAPIClient().Get("/api/v1/integrations/"+URLEncode(args[0]), &in); err != nil {
			return fmt.Errorf("failed to get integration: %w", err)
		}
		if jsonOutput {
			return formatter.Print(in)
		}
		pairs := []output.KVPair{
			{Key: "ID", Value: in.ID},
			{Key: "Name", Value: coalesce(in.Name, "-")},
			{Key: "Category", Value: string(in.Category)},
			{Key: "Base URL", Value: in.BaseURL},
			{Key: "Auth", Value: string(in.AuthType)},
			{Key: "Status", Value: string(in.Status)},
			{Key: "Enabled", Value: enabledLabel(in.IsEnabled)},
			{Key: "Connector", Value: coalesce(string(in.ConnectorState), "not created")},
			{Key: "Timeout", Value: fmt.Sprintf("%dms", in.TimeoutMs)},
			{Key: "Rate limit", Value: rateLimitLabel(in.RateLimitPerMinute, in.RateLimitPerHour)},
		}
		if in.HealthCheckPath != "" {
			pairs = append(pairs, output.KVPair{Key: "Health path", Value: in.HealthCheckPath})
		}
		formatter.PrintKeyValue(pairs)
		return nil
	},
}

var integrationsTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Run a connectivity test",
	Long:  `Run the configuration, credentials, DNS, TCP and HTTP diagnostic steps against an integration.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var report connector.TestReport
		if err := NewAPIClient().Post("/api/v1/integrations/"+URLEncode(args[0])+"/test", nil, &report); err != nil {
			return fmt.Errorf("failed to test integration: %w", err)
		}
		if jsonOutput {
			return formatter.Print(report)
		}

		rows := make([][]string, 0, len(report.Steps))
		for _, s := range report.Steps {
			result := "ok"
			switch {
			case s.Skipped:
				result = "skipped"
			case !s.Success:
				result = "FAILED"
			}
			rows = append(rows, []string{s.Name, result, strconv.FormatInt(s.DurationMs, 10) + "ms", s.Message})
		}
		formatter.PrintTable([]string{"STEP", "RESULT", "DURATION", "MESSAGE"}, rows)
		if !report.Success {
			return fmt.Errorf("connectivity test failed for %s", report.IntegrationID)
		}
		formatter.PrintMessage(fmt.Sprintf("\nConnectivity test passed in %dms.", report.TotalDurationMs))
		return nil
	},
}

var integrationsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleIntegration(args[0], true)
	},
}

var integrationsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an integration",
	Long:  `Disable an integration. Calls to it fail fast until it is enabled again.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleIntegration(args[0], false)
	},
}

func toggleIntegration(id string, enable bool) error {
	action := "disable"
	if enable {
		action = "enable"
	}
	var in api.IntegrationResponse
	if err := NewAPIClient().Post("/api/v1/integrations/"+URLEncode(id)+"/"+action, nil, &in); err != nil {
		return fmt.Errorf("failed to %s integration: %w", action, err)
	}
	if jsonOutput {
		return formatter.Print(in)
	}
	formatter.PrintMessage(fmt.Sprintf("Integration %s %sd.", in.ID, action))
	return nil
}

var integrationsStatsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Show connector statistics for an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var m connector.Metrics
		if err := NewAPIClient().Get("/api/v1/integrations/"+URLEncode(args[0])+"/stats", &m); err != nil {
			return fmt.Errorf("failed to get statistics: %w", err)
		}
		if jsonOutput {
			return formatter.Print(m)
		}
		formatter.PrintKeyValue([]output.KVPair{
			{Key: "State", Value: string(m.State)},
			{Key: "Requests", Value: fmt.Sprintf("%d total, %d ok, %d failed", m.TotalRequests, m.SuccessfulRequests, m.FailedRequests)},
			{Key: "Avg response", Value: fmt.Sprintf("%.1fms", m.AverageResponseTimeMs)},
			{Key: "Recent error rate", Value: fmt.Sprintf("%.1f%%", m.RecentErrorRate*100)},
			{Key: "Circuit", Value: string(m.Breaker.State)},
			{Key: "Cache hit rate", Value: fmt.Sprintf("%.1f%%", m.CacheHitRate*100)},
			{Key: "Last error", Value: coalesce(m.LastError, "-")},
		})
		return nil
	},
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func rateLimitLabel(perMinute, perHour int) string {
	var parts []string
	if perMinute > 0 {
		parts = append(parts, fmt.Sprintf("%d/min", perMinute))
	}
	if perHour > 0 {
		parts = append(parts, fmt.Sprintf("%d/hour", perHour))
	}
	if len(parts) == 0 {
		return "unlimited"
	}
	return strings.Join(parts, ", ")
}

func init() {
	integrationsCmd.AddCommand(integrationsListCmd)
	integrationsCmd.AddCommand(integrationsGetCmd)
	integrationsCmd.AddCommand(integrationsTestCmd)
	integrationsCmd.AddCommand(integrationsEnableCmd)
	integrationsCmd.AddCommand(integrationsDisableCmd)
	integrationsCmd.AddCommand(integrationsStatsCmd)

	integrationsListCmd.Flags().StringVar(&integrationCategory, "category", "", "filter by category")
}
