// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/output"
	"github.com/loganrossus/OpenConduit/pkg/api"
	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

var routesCmd = &cobra.Command{
	Use:     "routes",
	Aliases: []string{"route"},
	Short:   "Inspect canonical routes",
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.RouteListResponse
		if err := NewAPIClient().Get("/api/v1/routes", &resp); err != nil {
			return fmt.Errorf("failed to list routes: %w", err)
		}
		if jsonOutput {
			return formatter.Print(resp)
		}

		rows := make([][]string, 0, len(resp.Routes))
		for _, r := range resp.Routes {
			rows = append(rows, []string{
				r.ID,
				r.Method,
				r.Path,
				string(r.Strategy),
				strconv.Itoa(enabledCount(r.Mappings)) + "/" + strconv.Itoa(len(r.Mappings)),
				enabledLabel(r.IsEnabled),
			})
		}
		formatter.PrintTable([]string{"ID", "METHOD", "PATH", "STRATEGY", "MAPPINGS", "ENABLED"}, rows)
		return nil
	},
}

var routesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a route and its mappings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r api.RouteResponse
		if err := NewAPIClient().Get("/api/v1/routes/"+URLEncode(args[0]), &r); err != nil {
			return fmt.Errorf("failed to get route: %w", err)
		}
		if jsonOutput {
			return formatter.Print(r)
		}

		formatter.PrintKeyValue([]output.KVPair{
			{Key: "ID", Value: r.ID},
			{Key: "Route", Value: r.Method + " " + r.Path},
			{Key: "Strategy", Value: string(r.Strategy)},
			{Key: "Timeout", Value: fmt.Sprintf("%dms", r.TimeoutMs)},
			{Key: "Throttle policy", Value: string(r.ThrottlePolicy)},
			{Key: "Enabled", Value: enabledLabel(r.IsEnabled)},
		})
		formatter.PrintMessage("")

		rows := make([][]string, 0, len(r.Mappings))
		for _, m := range r.Mappings {
			role := "primary"
			if m.IsFallback {
				role = "fallback"
			}
			rows = append(rows, []string{
				strconv.Itoa(m.Priority),
				m.ID,
				m.IntegrationID,
				m.EndpointMethod + " " + m.EndpointPath,
				role,
				enabledLabel(m.IsEnabled),
			})
		}
		formatter.PrintTable([]string{"PRIORITY", "MAPPING", "INTEGRATION", "ENDPOINT", "ROLE", "ENABLED"}, rows)
		return nil
	},
}

func enabledCount(ms []catalog.Mapping) int {
	n := 0
	for _, m := range ms {
		if m.IsEnabled {
			n++
		}
	}
	return n
}

func init() {
	routesCmd.AddCommand(routesListCmd)
	routesCmd.AddCommand(routesGetCmd)
}
