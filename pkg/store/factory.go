// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"fmt"
	"time"
)

// StoreType identifies the type of store backend.
type StoreType string

const (
	// StoreBBolt uses embedded bbolt for local persistence.
	StoreBBolt StoreType = "bbolt"
	// StoreEtcd shares the catalog between instances through etcd.
	StoreEtcd StoreType = "etcd"
	// StoreMemory keeps everything in process memory.
	StoreMemory StoreType = "memory"
)

// Config holds configuration for creating a store.
type Config struct {
	Type StoreType

	// Path is the file path for the bbolt database.
	Path string

	// Etcd settings.
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// New creates a store based on the provided configuration.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreBBolt, "": // Empty defaults to bbolt
		if cfg.Path == "" {
			return nil, fmt.Errorf("bbolt store requires a path")
		}
		return NewBboltStore(cfg.Path)
	case StoreEtcd:
		return NewEtcdStore(EtcdConfig{
			Endpoints:   cfg.Endpoints,
			Prefix:      cfg.Prefix,
			DialTimeout: cfg.DialTimeout,
			Username:    cfg.Username,
			Password:    cfg.Password,
		})
	case StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: bbolt, etcd, memory)", cfg.Type)
	}
}
