// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_TTLRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewMemory(WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte(`{"a":1}`), 10*time.Second))

	clock.Advance(9 * time.Second)
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))

	clock.Advance(time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry must not be served at expiresAt")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Zero(t, stats.Entries, "expired entry evicted on read")
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestMemoryCache_NonPositiveTTLNotStored(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Sets)
}

func TestMemoryCache_StoredValueIsCopied(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	copy(buf, "mutated!")

	v, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "original", string(v))
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewMemory(WithClock(clock.Now), WithMaxEntries(2))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Minute))

	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "entry closest to expiry evicted")
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestMemoryCache_PurgeAndDelete(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewMemory(WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))
	require.NoError(t, c.Delete(ctx, "c"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMemoryCache_SweeperStops(t *testing.T) {
	c := NewMemory(WithSweepInterval(5 * time.Millisecond))
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Millisecond))

	require.Eventually(t, func() bool { return c.Stats().Entries == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
