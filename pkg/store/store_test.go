// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// backends returns a constructor for every store that runs without
// external services.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"bbolt": func(t *testing.T) Store {
			s, err := NewBboltStore(filepath.Join(t.TempDir(), "catalog.db"))
			if err != nil {
				t.Fatalf("failed to create store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if _, err := s.Get(ctx, "integrations/missing"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("expected ErrKeyNotFound, got %v", err)
			}

			if err := s.Set(ctx, "integrations/hospital", []byte(`{"id":"hospital"}`)); err != nil {
				t.Fatalf("failed to set: %v", err)
			}
			val, err := s.Get(ctx, "integrations/hospital")
			if err != nil {
				t.Fatalf("failed to get: %v", err)
			}
			if string(val) != `{"id":"hospital"}` {
				t.Errorf("unexpected value %q", val)
			}

			if err := s.Delete(ctx, "integrations/hospital"); err != nil {
				t.Fatalf("failed to delete: %v", err)
			}
			if _, err := s.Get(ctx, "integrations/hospital"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, "integrations/hospital"); err != nil {
				t.Errorf("deleting a missing key should succeed, got %v", err)
			}
		})
	}
}

func TestStore_ListPrefixOrdered(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			for _, k := range []string{"routes/b", "mappings/x", "routes/a", "routes/c", "routesx"} {
				if err := s.Set(ctx, k, []byte(k)); err != nil {
					t.Fatalf("failed to set %s: %v", k, err)
				}
			}

			pairs, err := s.List(ctx, "routes/")
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			want := []string{"routes/a", "routes/b", "routes/c"}
			if len(pairs) != len(want) {
				t.Fatalf("expected %d pairs, got %d", len(want), len(pairs))
			}
			for i, p := range pairs {
				if p.Key != want[i] || string(p.Value) != want[i] {
					t.Errorf("pair %d = %s/%s, want %s", i, p.Key, p.Value, want[i])
				}
			}
		})
	}
}

func TestStore_Watch(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			events, err := s.Watch(ctx, "mappings/")
			if err != nil {
				t.Fatalf("failed to watch: %v", err)
			}

			_ = s.Set(context.Background(), "routes/ignored", []byte("x"))
			_ = s.Set(context.Background(), "mappings/m1", []byte("v1"))
			_ = s.Delete(context.Background(), "mappings/m1")

			want := []WatchEvent{
				{Type: EventPut, Key: "mappings/m1", Value: []byte("v1")},
				{Type: EventDelete, Key: "mappings/m1"},
			}
			for _, w := range want {
				select {
				case ev := <-events:
					if ev.Type != w.Type || ev.Key != w.Key || string(ev.Value) != string(w.Value) {
						t.Errorf("event = %+v, want %+v", ev, w)
					}
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for watch event")
				}
			}

			cancel()
			select {
			case _, ok := <-events:
				if ok {
					t.Error("expected channel to be closed after cancel")
				}
			case <-time.After(time.Second):
				t.Fatal("watch channel not closed after cancel")
			}
		})
	}
}

func TestStore_WatchAfterClose(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			if err := s.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}
			if _, err := s.Watch(context.Background(), ""); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("second close should be a no-op, got %v", err)
			}
		})
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := fmt.Sprintf("stats/m%02d", i)
					if err := s.Set(ctx, key, []byte(key)); err != nil {
						t.Errorf("set %s: %v", key, err)
						return
					}
					if _, err := s.Get(ctx, key); err != nil {
						t.Errorf("get %s: %v", key, err)
					}
				}(i)
			}
			wg.Wait()

			pairs, err := s.List(ctx, "stats/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(pairs) != 20 {
				t.Errorf("expected 20 pairs, got %d", len(pairs))
			}
		})
	}
}

func TestBboltStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := NewBboltStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Set(ctx, "integrations/morgue", []byte("durable")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	s.Close()

	reopened, err := NewBboltStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	val, err := reopened.Get(ctx, "integrations/morgue")
	if err != nil {
		t.Fatalf("failed to get after reopen: %v", err)
	}
	if string(val) != "durable" {
		t.Errorf("expected 'durable', got %q", val)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestBboltStore_CanceledContext(t *testing.T) {
	s, err := NewBboltStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default bbolt", cfg: Config{Path: filepath.Join(t.TempDir(), "a.db")}},
		{name: "explicit bbolt", cfg: Config{Type: StoreBBolt, Path: filepath.Join(t.TempDir(), "b.db")}},
		{name: "bbolt without path", cfg: Config{Type: StoreBBolt}, wantErr: true},
		{name: "memory", cfg: Config{Type: StoreMemory}},
		{name: "etcd without endpoints", cfg: Config{Type: StoreEtcd}, wantErr: true},
		{name: "unsupported", cfg: Config{Type: "consul"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			s.Close()
		})
	}
}
