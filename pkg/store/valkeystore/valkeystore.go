// Package valkeystore provides Valkey/Redis-protocol persistence for
// reusablestore using the valkey-go client.
package valkeystore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/goobs/reusablestore/pkg/store"
)

// Store implements store.Store using Valkey.
type Store struct {
	client valkey.Client
	prefix string // key prefix to namespace cache entries
}

// New creates a Valkey-backed store. cacheID namespaces the keys; addr
// is "host:port" (default "localhost:6379").
func New(ctx context.Context, cacheID, addr string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w", err)
	}

	return &Store{
		client: client,
		prefix: cacheID + ":",
	}, nil
}

func (s *Store) makeKey(identifier, storeName string) string {
	return s.prefix + store.Key(identifier, storeName)
}

// Get retrieves an item from Valkey.
func (s *Store) Get(ctx context.Context, identifier, storeName string) (store.Item, bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.makeKey(identifier, storeName)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return store.Item{}, false, nil
		}
		return store.Item{}, false, fmt.Errorf("valkey get: %w", err)
	}

	var item store.Item
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&item); err != nil {
		return store.Item{}, false, fmt.Errorf("decode item: %w", err)
	}

	if item.Expired(time.Now()) {
		// TTL and entry expiry can disagree by a clock tick; honor the entry.
		if err := s.Remove(ctx, identifier, storeName); err != nil {
			return store.Item{}, false, err
		}
		return store.Item{}, false, nil
	}

	return item, true, nil
}

// Set saves an item to Valkey with a TTL matching its expiry.
func (s *Store) Set(ctx context.Context, item store.Item) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(item); err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	k := s.makeKey(item.Identifier, item.StoreName)
	var cmd valkey.Completed

	if !item.ExpiresAt.IsZero() {
		ttl := time.Until(item.ExpiresAt)
		if ttl <= 0 {
			return nil // already expired
		}
		cmd = s.client.B().Set().Key(k).Value(valkey.BinaryString(buf.Bytes())).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(k).Value(valkey.BinaryString(buf.Bytes())).Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Remove deletes an item from Valkey.
func (s *Store) Remove(ctx context.Context, identifier, storeName string) error {
	k := s.makeKey(identifier, storeName)
	if err := s.client.Do(ctx, s.client.B().Del().Key(k).Build()).Error(); err != nil {
		return fmt.Errorf("valkey delete: %w", err)
	}
	return nil
}

// scan iterates all keys under this store's prefix.
func (s *Store) scan(ctx context.Context, visit func(keys []string) error) error {
	pat := s.prefix + "*"
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(100).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}

		if len(scan.Elements) > 0 {
			if err := visit(scan.Elements); err != nil {
				return err
			}
		}

		cur = scan.Cursor
		if cur == 0 {
			return nil
		}
	}
}

// Clear removes all entries with this store's prefix.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(keys []string) error {
		c, err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).AsInt64()
		if err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
		n += int(c)
		return nil
	})
	return n, err
}

// Len returns the number of entries with this store's prefix.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
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

		err := s.scan(ctx, func(keys []string) error {
			for _, k := range keys {
				data, err := s.client.Do(ctx, s.client.B().Get().Key(k).Build()).AsBytes()
				if err != nil {
					if valkey.IsValkeyNil(err) {
						continue // expired between scan and get
					}
					return fmt.Errorf("valkey get: %w", err)
				}
				var item store.Item
				if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&item); err != nil {
					continue // skip undecodable entries
				}
				if item.Expired(now) {
					continue
				}
				items = append(items, item)
			}
			return nil
		})
		if err != nil {
			errCh <- err
			return
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

// Cleanup is a no-op: Valkey expires entries natively via TTL.
func (*Store) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// Close releases the Valkey client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
