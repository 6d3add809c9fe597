// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package routing

import (
	"context"
	"sync"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/executor"
)

// fanOut calls every mapping concurrently and waits for all of them.
// Results are returned in plan order.
func fanOut(ctx context.Context, caller Caller, plan Plan) []executor.Result {
	results := make([]executor.Result, len(plan.Mappings))
	var wg sync.WaitGroup
	for i, m := range plan.Mappings {
		wg.Add(1)
		go func(i int, m catalog.Mapping) {
			defer wg.Done()
			results[i] = caller.Execute(ctx, plan.request(m, plan.Input.Body))
		}(i, m)
	}
	wg.Wait()
	return results
}

// settle applies the failure policy shared by the parallel strategies. ok
// lists the successful results in priority order.
func settle(route catalog.Route, results []executor.Result) (ok []executor.Result, out Outcome) {
	out.Results = results
	var firstErr, lastErr error
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
			continue
		}
		if firstErr == nil {
			firstErr = r.Err
		}
		lastErr = r.Err
	}
	switch {
	case len(ok) == 0:
		out.Err = lastErr
	case firstErr != nil && route.FailOnAnyError:
		out.Err = firstErr
	case firstErr != nil:
		out.Partial = true
	}
	return ok, out
}

// AllParallel calls every mapping concurrently and returns the successful
// payloads as a list in priority order.
type AllParallel struct{}

func (AllParallel) Name() catalog.Strategy { return catalog.StrategyAllParallel }

func (AllParallel) Run(ctx context.Context, caller Caller, plan Plan) Outcome {
	ok, out := settle(plan.Route, fanOut(ctx, caller, plan))
	if out.Err != nil {
		return out
	}
	data := make([]any, 0, len(ok))
	for _, r := range ok {
		data = append(data, r.Data)
	}
	out.Data = data
	return out
}

// MergeResults calls every mapping concurrently and deep-merges the
// successful payloads in priority order. Later payloads win on conflicts.
type MergeResults struct{}

func (MergeResults) Name() catalog.Strategy { return catalog.StrategyMergeResults }

func (MergeResults) Run(ctx context.Context, caller Caller, plan Plan) Outcome {
	ok, out := settle(plan.Route, fanOut(ctx, caller, plan))
	if out.Err != nil {
		return out
	}
	var merged any
	for _, r := range ok {
		merged = DeepMerge(merged, r.Data)
	}
	out.Data = merged
	return out
}

// DeepMerge merges src into dst and returns the result. Objects merge key
// by key; any other value in src replaces dst. Neither input is modified.
func DeepMerge(dst, src any) any {
	s, sok := src.(map[string]any)
	d, dok := dst.(map[string]any)
	if !sok || !dok {
		if src == nil {
			return dst
		}
		return src
	}
	out := make(map[string]any, len(d)+len(s))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range s {
		if existing, ok := out[k]; ok {
			out[k] = DeepMerge(existing, v)
		} else {
			out[k] = v
		}
	}
	return out
}

var (
	_ Strategy = AllParallel{}
	_ Strategy = MergeResults{}
)
