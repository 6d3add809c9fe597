// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// EtcdStore implements Store on etcd so several gateway instances share one
// catalog. Watches observe writes from every instance.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to etcd and checks that the first endpoint answers.
func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd store requires at least one endpoint")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/conduit/"
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach etcd at %s: %w", cfg.Endpoints[0], err)
	}

	return &EtcdStore{client: client, prefix: cfg.Prefix}, nil
}

func (s *EtcdStore) key(k string) string { return s.prefix + k }

func (s *EtcdStore) strip(k []byte) string { return strings.TrimPrefix(string(k), s.prefix) }

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.key(key))
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.Put(ctx, s.key(key), string(value)); err != nil {
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("etcd delete %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	resp, err := s.client.Get(ctx, s.key(prefix),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("etcd list %s: %w", prefix, err)
	}
	pairs := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		pairs = append(pairs, Entry{Key: s.strip(kv.Key), Value: kv.Value})
	}
	return pairs, nil
}

func (s *EtcdStore) Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	wch := s.client.Watch(ctx, s.key(prefix), clientv3.WithPrefix())
	out := make(chan WatchEvent, watchBuffer)

	go func() {
		defer close(out)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				event := WatchEvent{Key: s.strip(ev.Kv.Key)}
				switch ev.Type {
				case clientv3.EventTypePut:
					event.Type = EventPut
					event.Value = ev.Kv.Value
				case clientv3.EventTypeDelete:
					event.Type = EventDelete
				default:
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
