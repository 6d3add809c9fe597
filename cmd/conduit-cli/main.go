// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// conduit-cli is the command-line tool for managing an OpenConduit instance.
package main

import (
	"os"

	"github.com/loganrossus/OpenConduit/cmd/conduit-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
