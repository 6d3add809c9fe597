// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package store provides the durable key-value backends that hold the
// integration catalog.
//
// The catalog writes one JSON document per record under a kind prefix
// ("integrations/", "routes/", "mappings/", "stats/") and reads them back
// with List at startup. Backends only see opaque keys and bytes. Watch lets
// an instance sharing an etcd store pick up records written by its peers.
package store

import "context"

// EventType is the kind of change carried by a WatchEvent.
type EventType string

const (
	EventPut    EventType = "put"
	EventDelete EventType = "delete"
)

// WatchEvent is one change under a watched prefix. Value is empty for
// deletes.
type WatchEvent struct {
	Type  EventType
	Key   string
	Value []byte
}

// Entry is a stored record as returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// Store is implemented by the bbolt, etcd and memory backends. All methods
// are safe for concurrent use.
type Store interface {
	// Get returns ErrKeyNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete of a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// List returns the entries under prefix in key order.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Watch streams changes under prefix until ctx is done or the store is
	// closed, then closes the channel.
	Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error)
	Close() error
}

// Error is a sentinel store error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrKeyNotFound = Error("key not found")
	ErrClosed      = Error("store closed")
)
