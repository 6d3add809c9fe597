// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package health

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/metrics"
)

// Prober checks every known integration concurrently under one deadline.
type Prober interface {
	CheckAllHealth(ctx context.Context, timeout time.Duration) map[string]Result
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// FailThreshold is the number of consecutive failures before marking unhealthy.
	FailThreshold int

	// PassThreshold is the number of consecutive successes before marking healthy.
	PassThreshold int

	// Interval between sweeps.
	Interval time.Duration

	// Timeout is the overall deadline of a single sweep.
	Timeout time.Duration
}

// DefaultSweeperConfig returns a SweeperConfig with sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		FailThreshold: 3,
		PassThreshold: 2,
		Interval:      30 * time.Second,
		Timeout:       10 * time.Second,
	}
}

// Sweeper periodically probes all integrations through a Prober and keeps a
// Tracker per integration.
type Sweeper struct {
	config SweeperConfig
	prober Prober
	logger *slog.Logger

	mu        sync.RWMutex
	trackers  map[string]*Tracker
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	onChange  func(id string, status Status)
	lastSweep time.Time
}

// NewSweeper creates a Sweeper. A nil logger uses slog.Default().
func NewSweeper(prober Prober, config SweeperConfig, logger *slog.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		config:   config,
		prober:   prober,
		logger:   logger.With("component", "health"),
		trackers: make(map[string]*Tracker),
	}
}

// OnStatusChange registers a callback for tracked status transitions.
func (s *Sweeper) OnStatusChange(fn func(id string, status Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Start begins periodic sweeps. The first sweep runs immediately.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info("health sweeper started", "interval", s.config.Interval, "timeout", s.config.Timeout)
	return nil
}

// Stop halts periodic sweeps and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("health sweeper stopped")
	return nil
}

func (s *Sweeper) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.Sweep(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one probe round and returns the raw results.
func (s *Sweeper) Sweep(ctx context.Context) map[string]Result {
	results := s.prober.CheckAllHealth(ctx, s.config.Timeout)

	s.mu.Lock()
	s.lastSweep = time.Now()
	onChange := s.onChange
	seen := make(map[string]struct{}, len(results))
	type change struct {
		id     string
		status Status
		err    error
	}
	var changes []change
	for id, result := range results {
		seen[id] = struct{}{}
		tr, ok := s.trackers[id]
		if !ok {
			tr = NewTracker(id, s.config.FailThreshold, s.config.PassThreshold)
			s.trackers[id] = tr
		}
		metrics.RecordHealthCheck(id, result.Healthy, result.Latency.Seconds())
		if !result.Healthy {
			s.logger.Debug("health check failed", "integration", id, "error", result.Error, "latency", result.Latency)
		}
		if tr.RecordResult(result) {
			changes = append(changes, change{id: id, status: tr.Status(), err: result.Error})
		}
	}
	for id := range s.trackers {
		if _, ok := seen[id]; !ok {
			delete(s.trackers, id)
		}
	}
	s.mu.Unlock()

	for _, ch := range changes {
		if ch.status == StatusUnhealthy && ch.err != nil {
			s.logger.Warn("health status changed", "integration", ch.id, "status", ch.status.String(), "reason", ch.err)
		} else {
			s.logger.Info("health status changed", "integration", ch.id, "status", ch.status.String())
		}
		if onChange != nil {
			onChange(ch.id, ch.status)
		}
	}
	return results
}

// Status returns the tracked state of one integration.
func (s *Sweeper) Status(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.trackers[id]
	if !ok {
		return Snapshot{}, false
	}
	return tr.Snapshot(), true
}

// AllStatus returns snapshots of every tracked integration sorted by id.
func (s *Sweeper) AllStatus() []Snapshot {
	s.mu.RLock()
	snaps := make([]Snapshot, 0, len(s.trackers))
	for _, tr := range s.trackers {
		snaps = append(snaps, tr.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// LastSweep returns when the last sweep completed.
func (s *Sweeper) LastSweep() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSweep
}
