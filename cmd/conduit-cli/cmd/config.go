// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/output"
	"github.com/loganrossus/OpenConduit/pkg/config"
)

// ConfigValidationResult represents the result of config validation.
type ConfigValidationResult struct {
	Valid        bool     `json:"valid"`
	Integrations int      `json:"integrations,omitempty"`
	Routes       int      `json:"routes,omitempty"`
	Mappings     int      `json:"mappings,omitempty"`
	Credentials  int      `json:"credentials,omitempty"`
	Store        string   `json:"store,omitempty"`
	Cache        string   `json:"cache,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for validating and working with configuration files.`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate an OpenConduit configuration file, including its includes, for
syntax and semantic errors.

Examples:
  conduit-cli config validate --config /etc/openconduit/config.yaml
  conduit-cli config validate -c ./config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return fmt.Errorf("--config flag is required")
		}

		cfg, err := config.Load(configFile)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			result := ConfigValidationResult{Valid: false, Errors: flatten(err)}
			if jsonOutput {
				if perr := formatter.Print(result); perr != nil {
					return perr
				}
			} else {
				formatter.PrintMessage("Configuration invalid:")
				for _, e := range result.Errors {
					formatter.PrintMessage("  - " + e)
				}
			}
			return fmt.Errorf("configuration invalid")
		}

		recs := cfg.Records()
		result := ConfigValidationResult{
			Valid:        true,
			Integrations: len(recs.Integrations),
			Routes:       len(recs.Routes),
			Mappings:     len(recs.Mappings),
			Credentials:  len(cfg.Credentials),
			Store:        cfg.Store.Type,
			Cache:        cfg.Cache.Backend,
		}
		if jsonOutput {
			return formatter.Print(result)
		}

		formatter.PrintMessage("Configuration valid.")
		formatter.PrintKeyValue([]output.KVPair{
			{Key: "Integrations", Value: strconv.Itoa(result.Integrations)},
			{Key: "Routes", Value: strconv.Itoa(result.Routes)},
			{Key: "Mappings", Value: strconv.Itoa(result.Mappings)},
			{Key: "Credentials", Value: strconv.Itoa(result.Credentials)},
			{Key: "Store", Value: result.Store},
			{Key: "Cache", Value: result.Cache},
		})
		return nil
	},
}

// flatten splits joined errors into one message each.
func flatten(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		return []string{ve.Error()}
	}
	return []string{err.Error()}
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (required)")
	_ = configValidateCmd.MarkFlagRequired("config")
}
