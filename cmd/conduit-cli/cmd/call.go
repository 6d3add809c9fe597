// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/pkg/routing"
)

var callData string

var callCmd = &cobra.Command{
	Use:   "call <method> <path>",
	Short: "Call a canonical route through the gateway",
	Long: `Send a request to a canonical route and print the aggregated response.

Examples:
  conduit-cli call GET /persons/42
  conduit-cli call POST /persons/search --data '{"name":"Ada"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := strings.ToUpper(args[0])
		path := args[1]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		var body []byte
		if callData != "" {
			if !json.Valid([]byte(callData)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			body = []byte(callData)
		}

		var resp routing.Response
		status, err := NewGatewayClient().Raw(method, path, body, &resp)
		if err != nil {
			return err
		}
		if err := formatter.Print(resp); err != nil {
			return err
		}
		if status != http.StatusOK {
			msg := http.StatusText(status)
			if resp.Error != nil {
				msg = resp.Error.Kind + ": " + resp.Error.Message
			}
			return fmt.Errorf("gateway returned %d (%s)", status, msg)
		}
		return nil
	},
}

func init() {
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body")
}
