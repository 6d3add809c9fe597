// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package connector

// State is the lifecycle state of a connector.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDegraded      State = "degraded"
	StateCircuitOpen   State = "circuit_open"
	StateDisabled      State = "disabled"
)

// States lists every state in display order.
var States = []State{
	StateUninitialized,
	StateConnecting,
	StateConnected,
	StateDegraded,
	StateCircuitOpen,
	StateDisabled,
}

func (s State) String() string { return string(s) }

// Degradation defaults.
const (
	DefaultDegradedErrorRate = 0.5
	DefaultOutcomeWindow     = 20
	DefaultMinSamples        = 5
)

// outcomeWindow is a fixed-size ring of recent call outcomes used to derive
// the degraded state. Not safe for concurrent use.
type outcomeWindow struct {
	buf      []bool
	next     int
	filled   int
	failures int
}

func newOutcomeWindow(size int) *outcomeWindow {
	if size < 1 {
		size = DefaultOutcomeWindow
	}
	return &outcomeWindow{buf: make([]bool, size)}
}

func (w *outcomeWindow) add(failed bool) {
	if w.filled == len(w.buf) {
		if w.buf[w.next] {
			w.failures--
		}
	} else {
		w.filled++
	}
	w.buf[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.buf)
}

func (w *outcomeWindow) reset() {
	for i := range w.buf {
		w.buf[i] = false
	}
	w.next, w.filled, w.failures = 0, 0, 0
}

func (w *outcomeWindow) samples() int { return w.filled }

func (w *outcomeWindow) errorRate() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.filled)
}
