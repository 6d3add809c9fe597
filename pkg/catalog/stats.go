// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package catalog

import (
	"context"
	"errors"
	"time"
)

// CallOutcome is the result of one mapping call as recorded in statistics.
type CallOutcome struct {
	Duration time.Duration
	Success  bool
	// ErrorKind and Error describe a failed call.
	ErrorKind string
	Error     string
}

// RecordCall folds one outcome into the mapping's running statistics. It
// never blocks on the store; see Flush.
func (c *Catalog) RecordCall(mappingID string, out CallOutcome) {
	now := c.now().UTC()
	ms := float64(out.Duration) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[mappingID]
	if !ok {
		s = &MappingStats{MappingID: mappingID}
		c.stats[mappingID] = s
	}
	s.TotalCalls++
	if out.Success {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
		s.LastError = out.Error
		s.LastErrorKind = out.ErrorKind
	}
	s.AvgResponseTimeMs += (ms - s.AvgResponseTimeMs) / float64(s.TotalCalls)
	s.LastCalledAt = &now
	c.dirty[mappingID] = struct{}{}
}

// MappingStats returns the statistics of a mapping. A mapping that was never
// called has zero statistics.
func (c *Catalog) MappingStats(mappingID string) MappingStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.stats[mappingID]; ok {
		return copyStats(s)
	}
	return MappingStats{MappingID: mappingID}
}

func copyStats(s *MappingStats) MappingStats {
	out := *s
	if s.LastCalledAt != nil {
		t := *s.LastCalledAt
		out.LastCalledAt = &t
	}
	return out
}

// Flush persists statistics changed since the last flush.
func (c *Catalog) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]MappingStats, 0, len(c.dirty))
	for id := range c.dirty {
		if s, ok := c.stats[id]; ok {
			pending = append(pending, copyStats(s))
		}
	}
	c.dirty = make(map[string]struct{})
	c.mu.Unlock()

	var errs []error
	for _, s := range pending {
		if err := c.put(ctx, PrefixStats+s.MappingID, s); err != nil {
			errs = append(errs, err)
			c.mu.Lock()
			c.dirty[s.MappingID] = struct{}{}
			c.mu.Unlock()
		}
	}
	if len(pending) > 0 {
		c.logger.Debug("flushed mapping statistics", "count", len(pending)-len(errs))
	}
	return errors.Join(errs...)
}

// Run flushes statistics every interval until ctx is done, then flushes
// once more.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.logger.Error("final statistics flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("statistics flush failed", "error", err)
			}
		}
	}
}
