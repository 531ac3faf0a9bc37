// Package store defines the interface for reusablestore cache backends.
package store

import (
	"context"
	"time"

	"github.com/goobs/reusablestore/pkg/transform"
)

// Item is the envelope persisted by every backend. Values are stored
// sealed (compressed and, when configured, encrypted); backends never
// see plaintext.
type Item struct {
	Identifier   string
	StoreName    string
	Value        transform.Sealed
	ExpiresAt    time.Time
	LastUpdated  time.Time
	LastAccessed time.Time
}

// Key returns the backend key for an (identifier, storeName) pair.
func Key(identifier, storeName string) string {
	return identifier + ":" + storeName
}

// Expired reports whether the item is past its expiry at the given instant.
// A zero ExpiresAt means the item never expires.
func (it Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && !now.Before(it.ExpiresAt)
}

// Store defines the interface for cache backends. All implementations
// must be safe for concurrent use.
type Store interface {
	// Get retrieves an item. found is false for both absent and expired
	// entries; expired entries are removed as a side effect.
	Get(ctx context.Context, identifier, storeName string) (Item, bool, error)

	// Set saves an item, replacing any existing entry for its key.
	Set(ctx context.Context, item Item) error

	// Remove deletes an item. Removing an absent key is not an error.
	Remove(ctx context.Context, identifier, storeName string) error

	// Clear removes all entries and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Len returns the number of entries in the backend.
	Len(ctx context.Context) (int, error)

	// LoadRecent streams up to limit most recently updated live entries.
	// If limit is 0, all live entries are streamed.
	LoadRecent(ctx context.Context, limit int) (<-chan Item, <-chan error)

	// Cleanup removes entries that expired more than maxAge ago and
	// returns how many were removed. Backends with native TTL support
	// may implement this as a no-op.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}
