// Package memstore provides an in-process LRU-backed cache backend.
// It fills the persistent-store role for tests and single-process
// deployments that want a capacity-bounded second layer instead of a
// durable one.
package memstore

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goobs/reusablestore/pkg/store"
)

// Store implements store.Store on top of an expirable LRU.
type Store struct {
	lru       *expirable.LRU[string, store.Item]
	evictions atomic.Int64
}

// New creates a memory-backed store holding at most capacity entries.
// A positive maxAge additionally ages every entry out that long after
// it was written, regardless of its own expiry; maxAge <= 0 disables
// the global age-out and entries live until their ExpiresAt passes or
// capacity evicts them.
func New(capacity int, maxAge time.Duration) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	if maxAge < 0 {
		maxAge = 0
	}
	s := &Store{}
	s.lru = expirable.NewLRU[string, store.Item](capacity, func(string, store.Item) {
		s.evictions.Add(1)
	}, maxAge)
	return s
}

// Get retrieves an item, removing and missing it if expired.
func (s *Store) Get(_ context.Context, identifier, storeName string) (store.Item, bool, error) {
	key := store.Key(identifier, storeName)
	item, ok := s.lru.Get(key)
	if !ok {
		return store.Item{}, false, nil
	}
	if item.Expired(time.Now()) {
		s.lru.Remove(key)
		return store.Item{}, false, nil
	}
	return item, true, nil
}

// Set saves an item.
func (s *Store) Set(_ context.Context, item store.Item) error {
	s.lru.Add(store.Key(item.Identifier, item.StoreName), item)
	return nil
}

// Remove deletes an item.
func (s *Store) Remove(_ context.Context, identifier, storeName string) error {
	s.lru.Remove(store.Key(identifier, storeName))
	return nil
}

// Clear removes all entries.
func (s *Store) Clear(_ context.Context) (int, error) {
	n := s.lru.Len()
	s.lru.Purge()
	return n, nil
}

// Len returns the number of entries.
func (s *Store) Len(_ context.Context) (int, error) {
	return s.lru.Len(), nil
}

// Evictions returns how many entries the LRU has evicted for capacity
// or age.
func (s *Store) Evictions() int64 {
	return s.evictions.Load()
}

// LoadRecent streams up to limit most recently updated live entries.
func (s *Store) LoadRecent(ctx context.Context, limit int) (<-chan store.Item, <-chan error) {
	itemCh := make(chan store.Item, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(itemCh)
		defer close(errCh)

		now := time.Now()
		var items []store.Item
		for _, key := range s.lru.Keys() {
			item, ok := s.lru.Peek(key)
			if !ok || item.Expired(now) {
				continue
			}
			items = append(items, item)
		}

		sort.Slice(items, func(i, j int) bool {
			return items[i].LastUpdated.After(items[j].LastUpdated)
		})

		for i, item := range items {
			if limit > 0 && i >= limit {
				return
			}
			select {
			case itemCh <- item:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return itemCh, errCh
}

// Cleanup removes entries that expired more than maxAge ago.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, key := range s.lru.Keys() {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		item, ok := s.lru.Peek(key)
		if !ok {
			continue
		}
		if !item.ExpiresAt.IsZero() && item.ExpiresAt.Before(cutoff) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the memory store.
func (*Store) Close() error {
	return nil
}
