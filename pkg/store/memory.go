// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a non-durable Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	hub  *watchHub
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), hub: newWatchHub()}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.hub.isClosed() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if s.hub.isClosed() {
		return ErrClosed
	}
	s.mu.Lock()
	s.data[key] = bytes.Clone(value)
	s.mu.Unlock()
	s.hub.notify(EventPut, key, value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if s.hub.isClosed() {
		return ErrClosed
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	s.hub.notify(EventDelete, key, nil)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	if s.hub.isClosed() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []Entry
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			pairs = append(pairs, Entry{Key: k, Value: bytes.Clone(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

func (s *MemoryStore) Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	return s.hub.watch(ctx, prefix)
}

func (s *MemoryStore) Close() error {
	s.hub.close()
	return nil
}
