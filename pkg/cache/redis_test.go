// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedis(RedisOptions{URL: "redis://" + mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_TTLRoundTrip(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "route:m1:abc", []byte(`{"ok":true}`), 30*time.Second))
	assert.True(t, mr.Exists("test:route:m1:abc"))

	v, ok, err := c.Get(ctx, "route:m1:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(v))

	mr.FastForward(31 * time.Second)
	_, ok, err = c.Get(ctx, "route:m1:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCache_ViewSharesConnection(t *testing.T) {
	root, mr := setupRedisCache(t)
	ctx := context.Background()

	view := root.View("hospital:")
	require.NoError(t, view.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:hospital:k"))

	require.NoError(t, view.Close())
	_, ok, err := view.Get(ctx, "k")
	require.NoError(t, err, "closing a view must not close the shared client")
	assert.True(t, ok)
	assert.Zero(t, root.Stats().Hits)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedis_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(RedisOptions{URL: "redis://" + addr, ConnectTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(RedisOptions{URL: "not-a-url"})
	require.Error(t, err)
}
