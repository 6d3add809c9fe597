// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package ratelimit provides admission control for calls to one integration.
//
// A Limiter enforces up to three independent limits: requests per minute,
// requests per hour, and concurrent in-flight requests. Requests that do not
// fit are either rejected immediately as throttled or parked in a bounded
// FIFO queue until capacity frees up or their context expires.
package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/fault"
)

// DefaultRetryAfter is the hint returned when only the concurrency cap is
// exhausted and no window refill time is known.
const DefaultRetryAfter = time.Second

// Config holds the limits. Zero disables a limit.
type Config struct {
	PerMinute     int
	PerHour       int
	MaxConcurrent int
	// QueueSize bounds how many requests may wait for capacity.
	QueueSize int
}

// Stats is a point-in-time copy of limiter counters.
type Stats struct {
	TotalRequests     uint64 `json:"total_requests"`
	AllowedRequests   uint64 `json:"allowed_requests"`
	ThrottledRequests uint64 `json:"throttled_requests"`
	TimedOutRequests  uint64 `json:"timed_out_requests"`
	CurrentConcurrent int    `json:"current_concurrent"`
	CurrentQueueSize  int    `json:"current_queue_size"`
	QueueCapacity     int    `json:"queue_capacity"`
	MinuteRemaining   int    `json:"minute_remaining"`
	HourRemaining     int    `json:"hour_remaining"`
}

// Release returns the admission slot. Calling it more than once is a no-op.
type Release func()

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used for the windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// withAfterFunc replaces time.AfterFunc for the queue wake-up timer.
func withAfterFunc(fn func(d time.Duration, f func()) (stop func() bool)) Option {
	return func(l *Limiter) { l.afterFunc = fn }
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	name      string
	cfg       Config
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	minute *window
	hour   *window

	concurrent int
	queue      *list.List

	// wake is pending while the queue head waits for a window slot.
	wake   func() bool
	wakeAt time.Time

	total     uint64
	allowed   uint64
	throttled uint64
	timedOut  uint64
}

type waiter struct {
	ready   chan struct{}
	granted bool
	elem    *list.Element
}

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// New creates a limiter for the named integration.
func New(name string, cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		name:      name,
		now:       time.Now,
		afterFunc: afterFunc,
		queue:     list.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.applyLocked(cfg)
	return l
}

func (l *Limiter) applyLocked(cfg Config) {
	l.minute = resizeWindow(l.minute, cfg.PerMinute, time.Minute)
	l.hour = resizeWindow(l.hour, cfg.PerHour, time.Hour)
	l.cfg = cfg
}

// SetConfig changes limits in place. Queued requests are re-evaluated
// against the new limits.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(cfg)
	l.dispatchLocked()
}

// Config returns the active limits.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Acquire admits one request. When the request does not fit and wait is
// false, or the queue is full, it returns a throttled *fault.Error with a
// retry hint. When wait is true the request queues until admitted or until
// ctx is done, in which case it fails with a timeout (or canceled) fault.
func (l *Limiter) Acquire(ctx context.Context, wait bool) (Release, error) {
	l.mu.Lock()
	l.total++

	if l.queue.Len() == 0 {
		if ok, _ := l.fitsLocked(); ok {
			l.admitLocked()
			l.mu.Unlock()
			return l.releaser(), nil
		}
	}

	if !wait || l.queue.Len() >= l.cfg.QueueSize {
		l.throttled++
		_, retryAfter := l.fitsLocked()
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfter
		}
		l.mu.Unlock()
		return nil, &fault.Error{
			Kind:        fault.KindThrottled,
			Integration: l.name,
			RetryAfter:  retryAfter,
			Message:     "rate limit exceeded",
		}
	}

	w := &waiter{ready: make(chan struct{})}
	w.elem = l.queue.PushBack(w)
	// Arms the wake-up timer when the head is blocked by a window.
	l.dispatchLocked()
	l.mu.Unlock()

	return l.wait(ctx, w)
}

func (l *Limiter) wait(ctx context.Context, w *waiter) (Release, error) {
	select {
	case <-w.ready:
		return l.releaser(), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if w.granted {
		// Admitted as the deadline fired; the caller owns the slot.
		l.mu.Unlock()
		return l.releaser(), nil
	}
	l.queue.Remove(w.elem)
	l.timedOut++
	// The next waiter may fit where this one did not.
	l.dispatchLocked()
	l.mu.Unlock()

	kind := fault.KindTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = fault.KindCanceled
	}
	return nil, &fault.Error{
		Kind:        kind,
		Integration: l.name,
		Message:     "timed out waiting in rate limit queue",
		Cause:       ctx.Err(),
	}
}

// fitsLocked reports whether one more request can be admitted now. When it
// cannot, the duration is the time until a window frees a slot, or
// zero if the concurrency cap is the constraint.
func (l *Limiter) fitsLocked() (bool, time.Duration) {
	if l.cfg.MaxConcurrent > 0 && l.concurrent >= l.cfg.MaxConcurrent {
		return false, 0
	}
	now := l.now()
	wait := max(l.minute.wait(now), l.hour.wait(now))
	if wait > 0 {
		return false, wait
	}
	return true, 0
}

func (l *Limiter) admitLocked() {
	now := l.now()
	l.minute.add(now)
	l.hour.add(now)
	l.concurrent++
	l.allowed++
}

// dispatchLocked admits queued requests from the head while capacity lasts.
// A head blocked by the concurrency cap waits for a release; one blocked by
// a window gets a timer for when the window frees a slot.
func (l *Limiter) dispatchLocked() {
	for l.queue.Len() > 0 {
		ok, delay := l.fitsLocked()
		if !ok {
			if delay > 0 {
				l.armLocked(delay)
			}
			return
		}
		front := l.queue.Front()
		w := front.Value.(*waiter)
		l.queue.Remove(front)
		l.admitLocked()
		w.granted = true
		close(w.ready)
	}
	l.disarmLocked()
}

func (l *Limiter) armLocked(delay time.Duration) {
	at := l.now().Add(delay)
	if l.wake != nil && !l.wakeAt.After(at) {
		return
	}
	l.disarmLocked()
	l.wakeAt = at
	l.wake = l.afterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.wake == nil || !l.wakeAt.Equal(at) {
			return
		}
		l.wake = nil
		l.dispatchLocked()
	})
}

func (l *Limiter) disarmLocked() {
	if l.wake != nil {
		l.wake()
		l.wake = nil
	}
}

func (l *Limiter) releaser() Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.concurrent--
			l.dispatchLocked()
			l.mu.Unlock()
		})
	}
}

// Stats returns a copy of the limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return Stats{
		TotalRequests:     l.total,
		AllowedRequests:   l.allowed,
		ThrottledRequests: l.throttled,
		TimedOutRequests:  l.timedOut,
		CurrentConcurrent: l.concurrent,
		CurrentQueueSize:  l.queue.Len(),
		QueueCapacity:     l.cfg.QueueSize,
		MinuteRemaining:   l.minute.remaining(now),
		HourRemaining:     l.hour.remaining(now),
	}
}
