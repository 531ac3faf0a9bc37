package reusablestore

import (
	"testing"
	"time"

	"github.com/goobs/reusablestore/pkg/store"
	"github.com/goobs/reusablestore/pkg/transform"
)

func testItem(identifier, storeName string, expiresAt time.Time) store.Item {
	return store.Item{
		Identifier: identifier,
		StoreName:  storeName,
		Value:      transform.Sealed{Ciphertext: []byte("payload"), Plain: true},
		ExpiresAt:  expiresAt,
	}
}

func TestFrontLayer_GetSet(t *testing.T) {
	f, err := newFrontLayer(10)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	now := time.Now()
	item := testItem("id", "s", now.Add(time.Hour))
	key := store.Key("id", "s")

	if _, status := f.get(key, now); status != frontMiss {
		t.Errorf("get before set = %v; want miss", status)
	}

	f.set(key, item)
	got, status := f.get(key, now)
	if status != frontHit {
		t.Fatalf("get after set = %v; want hit", status)
	}
	if got.Identifier != "id" || got.StoreName != "s" {
		t.Errorf("got item %+v", got)
	}

	f.delete(key)
	if _, status := f.get(key, now); status != frontMiss {
		t.Errorf("get after delete = %v; want miss", status)
	}
}

func TestFrontLayer_ExpiredEntriesEvicted(t *testing.T) {
	f, err := newFrontLayer(10)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	now := time.Now()
	key := store.Key("id", "s")
	f.set(key, testItem("id", "s", now.Add(-time.Minute)))

	if _, status := f.get(key, now); status != frontExpired {
		t.Errorf("expired get = %v; want expired", status)
	}
	// The expired read already evicted the entry
	if _, status := f.get(key, now); status != frontMiss {
		t.Errorf("second get = %v; want miss", status)
	}
	if f.len() != 0 {
		t.Errorf("len = %d after eviction; want 0", f.len())
	}
}

func TestFrontLayer_ZeroExpiryNeverExpires(t *testing.T) {
	f, err := newFrontLayer(10)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	key := store.Key("id", "s")
	f.set(key, testItem("id", "s", time.Time{}))
	if _, status := f.get(key, time.Now().Add(1000*time.Hour)); status != frontHit {
		t.Errorf("zero-expiry get = %v; want hit", status)
	}
}

func TestFrontLayer_CapacityEviction(t *testing.T) {
	f, err := newFrontLayer(3)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	now := time.Now()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.set(store.Key(id, "s"), testItem(id, "s", now.Add(time.Hour)))
	}
	if f.len() != 3 {
		t.Errorf("len = %d; want 3", f.len())
	}
	// The least recently used entry was evicted
	if _, status := f.get(store.Key("a", "s"), now); status != frontMiss {
		t.Error("oldest entry survived past capacity")
	}
	if _, status := f.get(store.Key("d", "s"), now); status != frontHit {
		t.Error("newest entry missing")
	}
}

func TestFrontLayer_Resize(t *testing.T) {
	f, err := newFrontLayer(10)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	now := time.Now()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.set(store.Key(id, "s"), testItem(id, "s", now.Add(time.Hour)))
	}

	evicted := f.resize(2)
	if evicted != 3 {
		t.Errorf("resize evicted %d; want 3", evicted)
	}
	if f.len() != 2 {
		t.Errorf("len after resize = %d; want 2", f.len())
	}
}

func TestFrontLayer_Purge(t *testing.T) {
	f, err := newFrontLayer(10)
	if err != nil {
		t.Fatalf("newFrontLayer: %v", err)
	}

	now := time.Now()
	f.set(store.Key("a", "s"), testItem("a", "s", now.Add(time.Hour)))
	f.set(store.Key("b", "s"), testItem("b", "s", now.Add(time.Hour)))
	f.purge()
	if f.len() != 0 {
		t.Errorf("len after purge = %d; want 0", f.len())
	}
}

func TestFrontLayer_BadCapacityFallsBack(t *testing.T) {
	// Non-positive capacities fall back to the default rather than erroring
	for _, capacity := range []int{0, -1} {
		f, err := newFrontLayer(capacity)
		if err != nil {
			t.Fatalf("newFrontLayer(%d): %v", capacity, err)
		}
		f.set(store.Key("a", "s"), testItem("a", "s", time.Now().Add(time.Hour)))
		if f.len() != 1 {
			t.Errorf("len = %d; want 1", f.len())
		}
	}
}
