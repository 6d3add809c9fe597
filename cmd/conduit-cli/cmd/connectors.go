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

	"github.com/loganrossus/OpenConduit/pkg/api"
)

var connectorsCmd = &cobra.Command{
	Use:     "connectors",
	Aliases: []string{"connector"},
	Short:   "Inspect live connectors",
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live connectors with breaker and limiter state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.ConnectorListResponse
		if err := NewAPIClient().Get("/api/v1/connectors", &resp); err != nil {
			return fmt.Errorf("failed to list connectors: %w", err)
		}
		if jsonOutput {
			return formatter.Print(resp)
		}

		rows := make([][]string, 0, len(resp.Connectors))
		for _, c := range resp.Connectors {
			rows = append(rows, []string{
				c.IntegrationID,
				string(c.State),
				string(c.Breaker.State),
				strconv.FormatUint(c.TotalRequests, 10),
				fmt.Sprintf("%.1f%%", c.RecentErrorRate*100),
				fmt.Sprintf("%.0fms", c.AverageResponseTimeMs),
				fmt.Sprintf("%d/%d", c.Limiter.CurrentConcurrent, c.Limiter.CurrentQueueSize),
			})
		}
		formatter.PrintTable([]string{"INTEGRATION", "STATE", "CIRCUIT", "REQUESTS", "ERROR RATE", "AVG", "INFLIGHT/QUEUED"}, rows)
		return nil
	},
}

func init() {
	connectorsCmd.AddCommand(connectorsListCmd)
}
