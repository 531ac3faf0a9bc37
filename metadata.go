package reusablestore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetaAccessor is the key-value accessor a Tracker delegates to. The
// tracker itself is agnostic to where metadata lives; the coordinator
// injects an in-process accessor by default.
type MetaAccessor interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MetaClearer is an optional MetaAccessor extension used by Cache.Clear
// to drop all metadata in one call.
type MetaClearer interface {
	ClearAll(ctx context.Context) error
}

// Tracker maintains per-key hit counts and last-accessed/last-updated
// timestamps. Increments are atomic with respect to each other, so
// concurrent operations never lose counter updates. Counters are int64;
// behavior past the int64 range is undefined.
type Tracker struct {
	mu  sync.Mutex
	acc MetaAccessor
}

// NewTracker creates a Tracker over the given accessor.
func NewTracker(acc MetaAccessor) *Tracker {
	return &Tracker{acc: acc}
}

// metaKey composes the namespaced metadata key for a field.
func metaKey(identifier, storeName, field string) string {
	return identifier + ":" + storeName + ":" + field
}

func validateKeyParts(identifier, storeName string) error {
	if identifier == "" {
		return ErrInvalidIdentifier
	}
	if storeName == "" {
		return ErrInvalidStoreName
	}
	return nil
}

// HitCounts returns the get and set hit counts for a key. Missing or
// unparseable stored values count as 0.
func (t *Tracker) HitCounts(ctx context.Context, identifier, storeName string) (getHits, setHits int64, err error) {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return 0, 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	getHits, err = t.count(ctx, metaKey(identifier, storeName, "getHitCount"))
	if err != nil {
		return 0, 0, err
	}
	setHits, err = t.count(ctx, metaKey(identifier, storeName, "setHitCount"))
	if err != nil {
		return 0, 0, err
	}
	return getHits, setHits, nil
}

// IncrementGet bumps the get hit count and returns the new value.
func (t *Tracker) IncrementGet(ctx context.Context, identifier, storeName string) (int64, error) {
	return t.increment(ctx, identifier, storeName, "getHitCount")
}

// IncrementSet bumps the set hit count and returns the new value.
func (t *Tracker) IncrementSet(ctx context.Context, identifier, storeName string) (int64, error) {
	return t.increment(ctx, identifier, storeName, "setHitCount")
}

func (t *Tracker) increment(ctx context.Context, identifier, storeName, field string) (int64, error) {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := metaKey(identifier, storeName, field)
	n, err := t.count(ctx, key)
	if err != nil {
		return 0, err
	}
	n++
	if err := t.acc.Set(ctx, key, strconv.FormatInt(n, 10)); err != nil {
		return 0, fmt.Errorf("store %s: %w", field, err)
	}
	return n, nil
}

// SetHitCounts overwrites both counters for a key.
func (t *Tracker) SetHitCounts(ctx context.Context, identifier, storeName string, getHits, setHits int64) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acc.Set(ctx, metaKey(identifier, storeName, "getHitCount"), strconv.FormatInt(getHits, 10)); err != nil {
		return fmt.Errorf("store getHitCount: %w", err)
	}
	if err := t.acc.Set(ctx, metaKey(identifier, storeName, "setHitCount"), strconv.FormatInt(setHits, 10)); err != nil {
		return fmt.Errorf("store setHitCount: %w", err)
	}
	return nil
}

// Touch stamps the last-accessed time.
func (t *Tracker) Touch(ctx context.Context, identifier, storeName string, at time.Time) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.acc.Set(ctx, metaKey(identifier, storeName, "lastAccessed"), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store lastAccessed: %w", err)
	}
	return nil
}

// Stamp sets both last-updated and last-accessed to the same instant.
func (t *Tracker) Stamp(ctx context.Context, identifier, storeName string, at time.Time) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stamped := at.UTC().Format(time.RFC3339Nano)
	if err := t.acc.Set(ctx, metaKey(identifier, storeName, "lastUpdated"), stamped); err != nil {
		return fmt.Errorf("store lastUpdated: %w", err)
	}
	if err := t.acc.Set(ctx, metaKey(identifier, storeName, "lastAccessed"), stamped); err != nil {
		return fmt.Errorf("store lastAccessed: %w", err)
	}
	return nil
}

// Dates returns the last-updated and last-accessed times for a key.
// Missing or unparseable values are the Unix epoch.
func (t *Tracker) Dates(ctx context.Context, identifier, storeName string) (updated, accessed time.Time, err error) {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return time.Time{}, time.Time{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	updated, err = t.date(ctx, metaKey(identifier, storeName, "lastUpdated"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	accessed, err = t.date(ctx, metaKey(identifier, storeName, "lastAccessed"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return updated, accessed, nil
}

// Reset clears all metadata for a key: counters to 0, dates to epoch.
func (t *Tracker) Reset(ctx context.Context, identifier, storeName string) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, field := range []string{"getHitCount", "setHitCount", "lastUpdated", "lastAccessed"} {
		if err := t.acc.Delete(ctx, metaKey(identifier, storeName, field)); err != nil {
			return fmt.Errorf("reset %s: %w", field, err)
		}
	}
	return nil
}

func (t *Tracker) count(ctx context.Context, key string) (int64, error) {
	raw, ok, err := t.acc.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, nil //nolint:nilerr // unparseable counts read as 0
	}
	return n, nil
}

func (t *Tracker) date(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := t.acc.Get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Unix(0, 0).UTC(), nil //nolint:nilerr // unparseable dates read as epoch
	}
	return at, nil
}

// mapAccessor is the default in-process MetaAccessor.
type mapAccessor struct {
	mu sync.RWMutex
	m  map[string]string
}

func newMapAccessor() *mapAccessor {
	return &mapAccessor{m: make(map[string]string)}
}

func (a *mapAccessor) Get(_ context.Context, key string) (string, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.m[key]
	return v, ok, nil
}

func (a *mapAccessor) Set(_ context.Context, key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[key] = value
	return nil
}

func (a *mapAccessor) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.m, key)
	return nil
}

func (a *mapAccessor) ClearAll(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m = make(map[string]string)
	return nil
}
