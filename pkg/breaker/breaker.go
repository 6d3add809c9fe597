// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package breaker implements a per-integration circuit breaker.
//
// A Breaker starts closed. After FailureThreshold consecutive failures it
// opens and rejects every call until ResetTimeout has elapsed. The first
// caller after that becomes the single half-open trial; everyone else is
// rejected as if the breaker were still open. A successful trial closes the
// breaker and clears its counters; a failed trial reopens it with the reset
// timeout multiplied by BackoffMultiplier, capped at MaxResetTimeout.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/fault"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Default configuration values.
const (
	DefaultFailureThreshold  = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultMaxResetTimeout   = 5 * time.Minute
	DefaultBackoffMultiplier = 2.0

	// trialRetryAfter is the hint given to callers rejected while a
	// half-open trial is in flight.
	trialRetryAfter = time.Second
)

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// MaxResetTimeout caps the backed-off reset timeout. Zero disables backoff.
	MaxResetTimeout time.Duration
	// BackoffMultiplier is applied to the reset timeout after a failed trial.
	// Values <= 1 keep the timeout constant.
	BackoffMultiplier float64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  DefaultFailureThreshold,
		ResetTimeout:      DefaultResetTimeout,
		MaxResetTimeout:   DefaultMaxResetTimeout,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.MaxResetTimeout > 0 && c.MaxResetTimeout < c.ResetTimeout {
		c.MaxResetTimeout = c.ResetTimeout
	}
	return c
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must be non-negative, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("reset timeout must be non-negative, got %s", c.ResetTimeout)
	}
	if c.BackoffMultiplier < 0 {
		return fmt.Errorf("backoff multiplier must be non-negative, got %v", c.BackoffMultiplier)
	}
	return nil
}

// Permit is handed out by Allow and must be settled with exactly one call to
// Record or Release.
type Permit struct {
	generation uint64
	trial      bool
}

// Trial reports whether the permit is the half-open trial.
func (p Permit) Trial() bool { return p.trial }

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger used for transition records.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithStateChange registers a transition observer. It is called with the
// breaker lock held and must not call back into the breaker.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	name   string
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	onChange StateChangeFunc

	state               State
	generation          uint64
	failureCount        int
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	resetTimeout        time.Duration
	trialInFlight       bool
	trips               int
}

// New creates a closed breaker named after the integration it guards.
func New(name string, cfg Config, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:         name,
		cfg:          cfg,
		now:          time.Now,
		state:        StateClosed,
		resetTimeout: cfg.ResetTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "breaker", "integration", name)
	return b
}

// Allow asks for permission to call the upstream. When the breaker rejects
// the call the error is a circuit_open *fault.Error carrying a retry hint.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		return Permit{generation: b.generation}, nil

	case StateOpen:
		reopenAt := b.openedAt.Add(b.resetTimeout)
		if now.Before(reopenAt) {
			return Permit{}, b.rejectLocked(reopenAt.Sub(now))
		}
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		return Permit{generation: b.generation, trial: true}, nil

	case StateHalfOpen:
		if b.trialInFlight {
			return Permit{}, b.rejectLocked(trialRetryAfter)
		}
		b.trialInFlight = true
		return Permit{generation: b.generation, trial: true}, nil
	}

	return Permit{}, fmt.Errorf("breaker %s in unknown state %q", b.name, b.state)
}

func (b *Breaker) rejectLocked(retryAfter time.Duration) error {
	return &fault.Error{
		Kind:        fault.KindCircuitOpen,
		Integration: b.name,
		RetryAfter:  retryAfter,
		Message:     "circuit breaker is open",
	}
}

// Record settles a permit with the call outcome. Outcomes from permits issued
// before the last transition are ignored so a slow call can never close a
// breaker that opened after it started.
func (b *Breaker) Record(p Permit, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.generation != b.generation {
		return
	}

	now := b.now()
	switch b.state {
	case StateClosed:
		if success {
			b.consecutiveFailures = 0
			return
		}
		b.failureCount++
		b.consecutiveFailures++
		b.lastFailureAt = now
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.resetTimeout = b.cfg.ResetTimeout
			b.openLocked(now)
		}

	case StateHalfOpen:
		if !p.trial {
			return
		}
		b.trialInFlight = false
		if success {
			b.failureCount = 0
			b.consecutiveFailures = 0
			b.resetTimeout = b.cfg.ResetTimeout
			b.transitionLocked(StateClosed)
			return
		}
		b.failureCount++
		b.consecutiveFailures++
		b.lastFailureAt = now
		b.resetTimeout = b.backoff(b.resetTimeout)
		b.openLocked(now)
	}
}

// Release returns a permit without an outcome, for calls that were
// abandoned before reaching the upstream. A released trial lets the next
// caller become the trial.
func (b *Breaker) Release(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.trial && p.generation == b.generation && b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

func (b *Breaker) backoff(d time.Duration) time.Duration {
	if b.cfg.BackoffMultiplier <= 1 || b.cfg.MaxResetTimeout <= 0 {
		return d
	}
	next := time.Duration(float64(d) * b.cfg.BackoffMultiplier)
	if next > b.cfg.MaxResetTimeout {
		next = b.cfg.MaxResetTimeout
	}
	return next
}

func (b *Breaker) openLocked(now time.Time) {
	b.openedAt = now
	b.trips++
	b.transitionLocked(StateOpen)
	b.logger.Warn("circuit opened",
		"consecutive_failures", b.consecutiveFailures,
		"reset_timeout", b.resetTimeout,
	)
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.generation++
	if from == to {
		return
	}
	if to == StateClosed {
		b.logger.Info("circuit closed")
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current position without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetConfig replaces the thresholds without changing the current state.
func (b *Breaker) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cfg = cfg
	if b.state == StateClosed {
		b.resetTimeout = cfg.ResetTimeout
	}
	if cfg.MaxResetTimeout > 0 && b.resetTimeout > cfg.MaxResetTimeout {
		b.resetTimeout = cfg.MaxResetTimeout
	}
}

// Snapshot is a point-in-time copy of breaker state.
type Snapshot struct {
	State               State         `json:"state"`
	FailureCount        int           `json:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitempty"`
	OpenedAt            time.Time     `json:"opened_at,omitempty"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
	TrialInFlight       bool          `json:"trial_in_flight"`
	Trips               int           `json:"trips"`
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		State:               b.state,
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
		ResetTimeout:        b.resetTimeout,
		TrialInFlight:       b.trialInFlight,
		Trips:               b.trips,
	}
	if b.state == StateOpen {
		if remaining := b.openedAt.Add(b.resetTimeout).Sub(b.now()); remaining > 0 {
			s.RetryAfter = remaining
		}
	}
	return s
}
