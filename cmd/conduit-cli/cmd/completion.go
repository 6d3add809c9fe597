// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionNoDesc bool

var completionCmd = &cobra.Command{
	Use:   "completion <bash|zsh|fish|powershell>",
	Short: "Print a shell completion script",
	Long: `Print a completion script for conduit-cli to stdout.

Load it for the current session:
  bash:        source <(conduit-cli completion bash)
  zsh:         source <(conduit-cli completion zsh)
  fish:        conduit-cli completion fish | source
  powershell:  conduit-cli completion powershell | Out-String | Invoke-Expression

Install it permanently by writing the output to your shell's completion
directory, for example /etc/bash_completion.d/conduit-cli or
~/.config/fish/completions/conduit-cli.fish.`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, out := cmd.Root(), cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(out, !completionNoDesc)
		case "zsh":
			if completionNoDesc {
				return root.GenZshCompletionNoDesc(out)
			}
			return root.GenZshCompletion(out)
		case "fish":
			return root.GenFishCompletion(out, !completionNoDesc)
		case "powershell":
			if completionNoDesc {
				return root.GenPowerShellCompletion(out)
			}
			return root.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionNoDesc, "no-descriptions", false, "omit completion descriptions")
}
