// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("conduit")

// openTimeout bounds how long Open waits for the file lock held by another
// process.
const openTimeout = 5 * time.Second

// BboltStore implements Store on an embedded bbolt file. Watches only see
// writes made through this handle.
type BboltStore struct {
	db  *bolt.DB
	hub *watchHub
}

// NewBboltStore opens (or creates) the database at path.
func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BboltStore{db: db, hub: newWatchHub()}, nil
}

func (s *BboltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		// bbolt memory is only valid inside the transaction.
		val = bytes.Clone(v)
		return nil
	})
	return val, err
}

func (s *BboltStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.hub.notify(EventPut, key, value)
	return nil
}

func (s *BboltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	s.hub.notify(EventDelete, key, nil)
	return nil
}

func (s *BboltStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pairs []Entry
	p := []byte(prefix)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			pairs = append(pairs, Entry{Key: string(k), Value: bytes.Clone(v)})
		}
		return nil
	})
	return pairs, err
}

func (s *BboltStore) Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	return s.hub.watch(ctx, prefix)
}

func (s *BboltStore) Close() error {
	if !s.hub.close() {
		return nil
	}
	return s.db.Close()
}
