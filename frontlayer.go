package reusablestore

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goobs/reusablestore/pkg/store"
)

// frontStatus is the outcome of a front-layer lookup.
type frontStatus uint8

const (
	frontMiss frontStatus = iota
	frontHit
	frontExpired
)

// frontLayer is the in-memory layer: a capacity-bounded LRU of sealed
// items, consulted before the backend. Expiry is enforced lazily on
// read; an expired entry is evicted and reported as frontExpired so the
// coordinator can evict the backend copy too.
type frontLayer struct {
	lru *lru.Cache[string, store.Item]
}

func newFrontLayer(capacity int) (*frontLayer, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[string, store.Item](capacity)
	if err != nil {
		return nil, err
	}
	return &frontLayer{lru: c}, nil
}

// get returns the item for key if present and live at the given instant.
func (f *frontLayer) get(key string, now time.Time) (store.Item, frontStatus) {
	item, ok := f.lru.Get(key)
	if !ok {
		return store.Item{}, frontMiss
	}
	if item.Expired(now) {
		f.lru.Remove(key)
		return item, frontExpired
	}
	return item, frontHit
}

func (f *frontLayer) set(key string, item store.Item) {
	f.lru.Add(key, item)
}

func (f *frontLayer) delete(key string) {
	f.lru.Remove(key)
}

func (f *frontLayer) purge() {
	f.lru.Purge()
}

func (f *frontLayer) len() int {
	return f.lru.Len()
}

// resize changes the capacity, discarding least-recently-used entries
// that no longer fit. Returns the number of entries evicted.
func (f *frontLayer) resize(capacity int) int {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return f.lru.Resize(capacity)
}
