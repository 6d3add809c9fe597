// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package routing

import (
	"context"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

// FirstSuccess tries mappings one at a time in priority order and returns
// the first success. When every mapping fails the last error is returned.
type FirstSuccess struct{}

func (FirstSuccess) Name() catalog.Strategy { return catalog.StrategyFirstSuccess }

func (FirstSuccess) Run(ctx context.Context, caller Caller, plan Plan) Outcome {
	return sequentialFirst(ctx, caller, plan, plan.Mappings)
}

// PriorityOrder behaves like FirstSuccess but only tries fallback mappings
// after every primary mapping has failed.
type PriorityOrder struct{}

func (PriorityOrder) Name() catalog.Strategy { return catalog.StrategyPriorityOrder }

func (PriorityOrder) Run(ctx context.Context, caller Caller, plan Plan) Outcome {
	ordered := make([]catalog.Mapping, 0, len(plan.Mappings))
	var fallbacks []catalog.Mapping
	for _, m := range plan.Mappings {
		if m.IsFallback {
			fallbacks = append(fallbacks, m)
			continue
		}
		ordered = append(ordered, m)
	}
	return sequentialFirst(ctx, caller, plan, append(ordered, fallbacks...))
}

func sequentialFirst(ctx context.Context, caller Caller, plan Plan, order []catalog.Mapping) Outcome {
	var out Outcome
	for _, m := range order {
		if err := ctx.Err(); err != nil && out.Err != nil {
			break
		}
		res := caller.Execute(ctx, plan.request(m, plan.Input.Body))
		out.Results = append(out.Results, res)
		if res.OK() {
			out.Data = res.Data
			out.Err = nil
			return out
		}
		out.Err = res.Err
	}
	return out
}

// Chain runs mappings sequentially, feeding each output into the next call
// as its body. The first failure aborts the chain.
type Chain struct{}

func (Chain) Name() catalog.Strategy { return catalog.StrategyChain }

func (Chain) Run(ctx context.Context, caller Caller, plan Plan) Outcome {
	var out Outcome
	input := plan.Input.Body
	for _, m := range plan.Mappings {
		res := caller.Execute(ctx, plan.request(m, input))
		out.Results = append(out.Results, res)
		if !res.OK() {
			out.Err = res.Err
			return out
		}
		input = res.Data
	}
	out.Data = input
	return out
}

var (
	_ Strategy = FirstSuccess{}
	_ Strategy = PriorityOrder{}
	_ Strategy = Chain{}
)
