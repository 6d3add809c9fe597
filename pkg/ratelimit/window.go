// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package ratelimit

import "time"

// window is a sliding log of admission times. At most limit admissions fall
// inside any span of length period.
type window struct {
	limit  int
	period time.Duration
	times  []time.Time
}

func newWindow(limit int, period time.Duration) *window {
	if limit <= 0 {
		return nil
	}
	return &window{limit: limit, period: period, times: make([]time.Time, 0, limit)}
}

// resize returns w with a new limit, keeping the admission log. A nil
// result disables the window.
func resizeWindow(w *window, limit int, period time.Duration) *window {
	if limit <= 0 {
		return nil
	}
	if w == nil {
		return newWindow(limit, period)
	}
	w.limit = limit
	if len(w.times) > limit {
		w.times = append(w.times[:0], w.times[len(w.times)-limit:]...)
	}
	return w
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

// wait returns how long until one more admission fits, zero if it fits now.
func (w *window) wait(now time.Time) time.Duration {
	if w == nil {
		return 0
	}
	w.prune(now)
	if len(w.times) < w.limit {
		return 0
	}
	return w.times[len(w.times)-w.limit].Add(w.period).Sub(now)
}

func (w *window) add(now time.Time) {
	if w != nil {
		w.times = append(w.times, now)
	}
}

// remaining is -1 for a disabled window.
func (w *window) remaining(now time.Time) int {
	if w == nil {
		return -1
	}
	w.prune(now)
	return max(w.limit-len(w.times), 0)
}
