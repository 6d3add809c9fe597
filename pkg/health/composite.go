// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package health

import (
	"context"
	"time"
)

// CompositeChecker runs a sequence of checkers against the same target and
// reports the first failure. A healthy result requires every stage to pass.
type CompositeChecker struct {
	stages []Checker
}

// NewCompositeChecker creates a checker that runs stages in order.
func NewCompositeChecker(stages ...Checker) *CompositeChecker {
	return &CompositeChecker{stages: stages}
}

// Append adds a stage.
func (c *CompositeChecker) Append(checker Checker) {
	c.stages = append(c.stages, checker)
}

// Type returns "composite".
func (c *CompositeChecker) Type() string {
	return "composite"
}

// Stages returns the types of the configured stages.
func (c *CompositeChecker) Stages() []string {
	types := make([]string, 0, len(c.stages))
	for _, s := range c.stages {
		types = append(types, s.Type())
	}
	return types
}

// Check runs each stage. The returned latency covers all stages run.
func (c *CompositeChecker) Check(ctx context.Context, target Target) Result {
	start := time.Now()
	result := Result{Healthy: true, Timestamp: start}

	for _, stage := range c.stages {
		r := stage.Check(ctx, target)
		if r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		if !r.Healthy {
			result.Healthy = false
			result.Error = r.Error
			result.Stage = stage.Type()
			break
		}
	}
	result.Latency = time.Since(start)
	return result
}
