// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package routing

import (
	"fmt"
	"strings"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

// NewStrategy creates a strategy by name. Hyphenated and short aliases are
// accepted.
func NewStrategy(name catalog.Strategy) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(string(name), "-", "_")) {
	case string(catalog.StrategyFirstSuccess), "failover", "first":
		return FirstSuccess{}, nil
	case string(catalog.StrategyPriorityOrder), "priority":
		return PriorityOrder{}, nil
	case string(catalog.StrategyAllParallel), "parallel", "fanout":
		return AllParallel{}, nil
	case string(catalog.StrategyMergeResults), "merge":
		return MergeResults{}, nil
	case string(catalog.StrategyChain), "pipeline":
		return Chain{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation strategy: %s", name)
	}
}
