// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package health probes integration endpoints and tracks their health over
// time with consecutive pass/fail thresholds.
package health

import (
	"sync"
	"time"
)

// Status represents the tracked health state of an integration.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result represents the outcome of a single health check.
type Result struct {
	Healthy    bool
	Latency    time.Duration
	StatusCode int
	// Stage names the failing stage of a composite check.
	Stage     string
	Error     error
	Timestamp time.Time
}

// Message returns a human-readable summary of the result.
func (r Result) Message() string {
	if r.Error != nil {
		return r.Error.Error()
	}
	if r.Healthy {
		return "ok"
	}
	return "unhealthy"
}

// Tracker tracks the health state of a single integration.
type Tracker struct {
	mu sync.RWMutex

	id                string
	status            Status
	lastCheck         time.Time
	lastHealthy       time.Time
	lastLatency       time.Duration
	consecutiveFails  int
	consecutivePasses int
	lastError         error

	failThreshold int
	passThreshold int
}

// NewTracker creates a Tracker. Thresholds below one default to 3 failures
// and 2 passes.
func NewTracker(id string, failThreshold, passThreshold int) *Tracker {
	if failThreshold < 1 {
		failThreshold = 3
	}
	if passThreshold < 1 {
		passThreshold = 2
	}
	return &Tracker{
		id:            id,
		status:        StatusUnknown,
		failThreshold: failThreshold,
		passThreshold: passThreshold,
	}
}

// ID returns the tracked integration id.
func (t *Tracker) ID() string {
	return t.id
}

// Status returns the current health status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsHealthy returns true if the integration is currently healthy.
func (t *Tracker) IsHealthy() bool {
	return t.Status() == StatusHealthy
}

// RecordResult updates the health state based on a check result.
// Returns true if the status changed.
func (t *Tracker) RecordResult(result Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastCheck = result.Timestamp
	t.lastLatency = result.Latency
	previous := t.status

	if result.Healthy {
		t.consecutiveFails = 0
		t.consecutivePasses++
		t.lastError = nil
		t.lastHealthy = result.Timestamp
		if t.status != StatusHealthy && (t.consecutivePasses >= t.passThreshold || t.status == StatusUnknown) {
			t.status = StatusHealthy
		}
	} else {
		t.consecutivePasses = 0
		t.consecutiveFails++
		t.lastError = result.Error
		if t.status != StatusUnhealthy && (t.consecutiveFails >= t.failThreshold || t.status == StatusUnknown) {
			t.status = StatusUnhealthy
		}
	}
	return t.status != previous
}

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	ID                string
	Status            Status
	LastCheck         time.Time
	LastHealthy       time.Time
	LastLatency       time.Duration
	ConsecutiveFails  int
	ConsecutivePasses int
	LastError         error
}

// Snapshot returns a point-in-time copy of the health state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:                t.id,
		Status:            t.status,
		LastCheck:         t.lastCheck,
		LastHealthy:       t.lastHealthy,
		LastLatency:       t.lastLatency,
		ConsecutiveFails:  t.consecutiveFails,
		ConsecutivePasses: t.consecutivePasses,
		LastError:         t.lastError,
	}
}
