// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package executor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
	"github.com/loganrossus/OpenConduit/pkg/fault"
)

// RetryPolicy controls re-attempts of retryable failures.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Values below 2 disable retries.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter randomizes each delay by up to this fraction in either direction.
	Jitter float64
}

// Default retry values used when an integration sets only an attempt count.
const (
	DefaultRetryDelay      = 200 * time.Millisecond
	DefaultRetryMaxDelay   = 5 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultRetryJitter     = 0.2
)

// PolicyFor derives the retry policy of an integration.
func PolicyFor(integ catalog.Integration) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:  integ.RetryAttempts + 1,
		InitialDelay: time.Duration(integ.RetryDelayMs) * time.Millisecond,
		MaxDelay:     DefaultRetryMaxDelay,
		Multiplier:   DefaultRetryMultiplier,
		Jitter:       DefaultRetryJitter,
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// Delay returns the wait before attempt+1, where attempt counts from 1.
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		if rnd == nil {
			rnd = rand.Float64
		}
		d += d * p.Jitter * (2*rnd() - 1)
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// shouldRetry reports whether err may succeed on another attempt. Gate
// rejections are not retried here; the breaker and limiter already decided.
func shouldRetry(err error) bool {
	switch fault.KindOf(err) {
	case fault.KindTimeout, fault.KindTransport:
		return true
	case fault.KindUpstream:
		return fault.IsRetryable(err)
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
