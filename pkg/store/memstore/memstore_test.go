package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/goobs/reusablestore/pkg/store"
	"github.com/goobs/reusablestore/pkg/transform"
)

func item(identifier, storeName string, expiresAt, updated time.Time) store.Item {
	return store.Item{
		Identifier:  identifier,
		StoreName:   storeName,
		Value:       transform.Sealed{Ciphertext: []byte(identifier), Plain: true},
		ExpiresAt:   expiresAt,
		LastUpdated: updated,
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := New(100, 0)
	defer s.Close()

	now := time.Now()
	if err := s.Set(ctx, item("id", "s", now.Add(time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, found, err := s.Get(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("id:s not found")
	}
	if got.Identifier != "id" || got.StoreName != "s" {
		t.Errorf("got %+v", got)
	}

	if _, found, _ := s.Get(ctx, "id", "other"); found {
		t.Error("absent key reported found")
	}

	if err := s.Remove(ctx, "id", "s"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, _ := s.Get(ctx, "id", "s"); found {
		t.Error("removed key reported found")
	}
	// Removing again is a no-op
	if err := s.Remove(ctx, "id", "s"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestStore_ExpiredReadsAsMissing(t *testing.T) {
	ctx := context.Background()
	s := New(100, 0)
	defer s.Close()

	now := time.Now()
	if err := s.Set(ctx, item("id", "s", now.Add(-time.Minute), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, _ := s.Get(ctx, "id", "s"); found {
		t.Error("expired item reported found")
	}
	// Zero expiry never expires
	if err := s.Set(ctx, item("id2", "s", time.Time{}, now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, _ := s.Get(ctx, "id2", "s"); !found {
		t.Error("zero-expiry item reported missing")
	}
}

func TestStore_ClearAndLen(t *testing.T) {
	ctx := context.Background()
	s := New(100, 0)
	defer s.Close()

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, item(id, "s", now.Add(time.Hour), now)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Errorf("Len = %d; want 3", n)
	}

	cleared, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != 3 {
		t.Errorf("Clear removed %d; want 3", cleared)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len after Clear = %d; want 0", n)
	}
}

func TestStore_CapacityEviction(t *testing.T) {
	ctx := context.Background()
	s := New(2, 0)
	defer s.Close()

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, item(id, "s", now.Add(time.Hour), now)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if n, _ := s.Len(ctx); n != 2 {
		t.Errorf("Len = %d; want 2", n)
	}
	if s.Evictions() != 1 {
		t.Errorf("Evictions = %d; want 1", s.Evictions())
	}
	if _, found, _ := s.Get(ctx, "a", "s"); found {
		t.Error("oldest entry survived past capacity")
	}
}

func TestStore_MaxAge(t *testing.T) {
	ctx := context.Background()

	now := time.Now()

	// A positive maxAge ages entries out even while their own expiry is
	// far in the future
	aged := New(100, 50*time.Millisecond)
	defer aged.Close()
	if err := aged.Set(ctx, item("id", "s", now.Add(48*time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, _ := aged.Get(ctx, "id", "s"); !found {
		t.Fatal("fresh item reported missing")
	}
	time.Sleep(100 * time.Millisecond)
	if _, found, _ := aged.Get(ctx, "id", "s"); found {
		t.Error("item survived past the store max age")
	}

	// maxAge 0 disables the global age-out; only the item's own expiry
	// bounds its lifetime
	unaged := New(100, 0)
	defer unaged.Close()
	if err := unaged.Set(ctx, item("id", "s", now.Add(48*time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, found, _ := unaged.Get(ctx, "id", "s"); !found {
		t.Error("item vanished with no max age configured and a live expiry")
	}
}

func TestStore_LoadRecent(t *testing.T) {
	ctx := context.Background()
	s := New(100, 0)
	defer s.Close()

	now := time.Now()
	// c is the most recently updated, a the least
	if err := s.Set(ctx, item("a", "s", now.Add(time.Hour), now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, item("b", "s", now.Add(time.Hour), now.Add(-time.Minute))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, item("c", "s", now.Add(time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Expired entries are skipped
	if err := s.Set(ctx, item("dead", "s", now.Add(-time.Minute), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	itemCh, errCh := s.LoadRecent(ctx, 2)
	var got []string
	for it := range itemCh {
		got = append(got, it.Identifier)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("LoadRecent returned %d items; want 2", len(got))
	}
	if got[0] != "c" || got[1] != "b" {
		t.Errorf("LoadRecent order = %v; want [c b]", got)
	}
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := New(100, 0)
	defer s.Close()

	now := time.Now()
	// Expired two hours ago: past the one-hour cleanup horizon
	if err := s.Set(ctx, item("stale", "s", now.Add(-2*time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Expired just now: inside the horizon, kept
	if err := s.Set(ctx, item("fresh", "s", now.Add(-time.Second), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Live entry, kept
	if err := s.Set(ctx, item("live", "s", now.Add(time.Hour), now)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	removed, err := s.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup removed %d; want 1", removed)
	}
	if n, _ := s.Len(ctx); n != 2 {
		t.Errorf("Len after Cleanup = %d; want 2", n)
	}
}
