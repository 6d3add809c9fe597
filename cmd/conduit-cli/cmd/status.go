// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/output"
	"github.com/loganrossus/OpenConduit/pkg/api"
)

// StatusOutput is the combined status output.
type StatusOutput struct {
	Status       string         `json:"status"`
	Version      string         `json:"version"`
	Uptime       string         `json:"uptime"`
	Message      string         `json:"message,omitempty"`
	Integrations int            `json:"integrations"`
	Routes       int            `json:"routes"`
	Mappings     int            `json:"mappings"`
	Connectors   int            `json:"connectors"`
	ByState      map[string]int `json:"connectors_by_state,omitempty"`
	CacheHitRate float64        `json:"cache_hit_rate"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show overall status",
	Long:  `Display readiness, catalog size and connector fleet state of the OpenConduit instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewAPIClient()

		var ready api.ReadyResponse
		if err := client.Get("/api/v1/ready", &ready); err != nil {
			// 503 still carries a body worth showing, but the client
			// treats it as an error.
			ready.Message = err.Error()
		}

		var ver api.VersionResponse
		verErr := client.Get("/api/v1/version", &ver)

		var stats api.StatsResponse
		if err := client.Get("/api/v1/stats", &stats); err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		out := StatusOutput{
			Status:       "Ready",
			Version:      coalesce(ver.Version, "unknown"),
			Uptime:       "unknown",
			Message:      ready.Message,
			Integrations: stats.Integrations,
			Routes:       stats.Routes,
			Mappings:     stats.Mappings,
			Connectors:   stats.Connectors.Total,
			ByState:      make(map[string]int, len(stats.Connectors.ByState)),
			CacheHitRate: stats.Connectors.CacheHitRate,
		}
		if !ready.Ready {
			out.Status = "Not ready"
		}
		if verErr == nil {
			out.Uptime = formatDuration(time.Duration(ver.UptimeSeconds) * time.Second)
		}
		for state, n := range stats.Connectors.ByState {
			out.ByState[string(state)] = n
		}

		if jsonOutput {
			return formatter.Print(out)
		}

		formatter.PrintMessage(fmt.Sprintf("OpenConduit Status: %s", out.Status))
		formatter.PrintKeyValue([]output.KVPair{
			{Key: "Version", Value: out.Version},
			{Key: "Uptime", Value: out.Uptime},
			{Key: "Integrations", Value: fmt.Sprintf("%d", out.Integrations)},
			{Key: "Routes", Value: fmt.Sprintf("%d (%d mappings)", out.Routes, out.Mappings)},
			{Key: "Connectors", Value: fmt.Sprintf("%d live %s", out.Connectors, formatCounts(out.ByState))},
			{Key: "Cache hit rate", Value: fmt.Sprintf("%.1f%%", out.CacheHitRate*100)},
		})
		if !ready.Ready && out.Message != "" {
			formatter.PrintMessage("\nWarning: " + out.Message)
		}
		return nil
	},
}

// formatCounts renders a count map as "(a: 1, b: 2)" in key order.
func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k, n := range m {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, m[k]))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
