// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"context"
	"strings"
	"sync"
)

// watchBuffer is the per-watcher channel capacity. Events are dropped for a
// watcher whose buffer is full so writers never block on slow readers.
const watchBuffer = 64

// watchHub fans local writes out to prefix watchers. It backs the
// single-process stores; etcd has native watches.
type watchHub struct {
	mu       sync.RWMutex
	watchers map[string][]*watcherEntry
	closed   bool
}

// watcherEntry tracks a watcher channel and its closed state.
type watcherEntry struct {
	ch     chan WatchEvent
	closed bool
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string][]*watcherEntry)}
}

func (h *watchHub) watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	ch := make(chan WatchEvent, watchBuffer)
	entry := &watcherEntry{ch: ch}
	h.watchers[prefix] = append(h.watchers[prefix], entry)

	go func() {
		<-ctx.Done()
		h.remove(prefix, entry)
	}()

	return ch, nil
}

func (h *watchHub) remove(prefix string, entry *watcherEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.watchers[prefix]
	for i, e := range entries {
		if e == entry {
			if !e.closed {
				e.closed = true
				close(e.ch)
			}
			h.watchers[prefix] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(h.watchers[prefix]) == 0 {
		delete(h.watchers, prefix)
	}
}

func (h *watchHub) notify(eventType EventType, key string, value []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for prefix, entries := range h.watchers {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		event := WatchEvent{Type: eventType, Key: key, Value: value}
		for _, entry := range entries {
			if entry.closed {
				continue
			}
			select {
			case entry.ch <- event:
			default:
			}
		}
	}
}

// close closes every watcher channel. It reports false if already closed.
func (h *watchHub) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.closed = true
	for _, entries := range h.watchers {
		for _, entry := range entries {
			if !entry.closed {
				entry.closed = true
				close(entry.ch)
			}
		}
	}
	h.watchers = nil
	return true
}

func (h *watchHub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
