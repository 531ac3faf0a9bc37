package reusablestore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTracker_Counts(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(newMapAccessor())

	// Absent metadata reads as zero
	getHits, setHits, err := tr.HitCounts(ctx, "id", "s")
	if err != nil {
		t.Fatalf("HitCounts: %v", err)
	}
	if getHits != 0 || setHits != 0 {
		t.Errorf("fresh counts = %d, %d; want 0, 0", getHits, setHits)
	}

	for i := int64(1); i <= 3; i++ {
		n, err := tr.IncrementGet(ctx, "id", "s")
		if err != nil {
			t.Fatalf("IncrementGet: %v", err)
		}
		if n != i {
			t.Errorf("IncrementGet = %d; want %d", n, i)
		}
	}
	if _, err := tr.IncrementSet(ctx, "id", "s"); err != nil {
		t.Fatalf("IncrementSet: %v", err)
	}

	getHits, setHits, err = tr.HitCounts(ctx, "id", "s")
	if err != nil {
		t.Fatalf("HitCounts: %v", err)
	}
	if getHits != 3 || setHits != 1 {
		t.Errorf("counts = %d, %d; want 3, 1", getHits, setHits)
	}

	// Counters are scoped per key
	getHits, setHits, _ = tr.HitCounts(ctx, "id", "other")
	if getHits != 0 || setHits != 0 {
		t.Errorf("other store counts = %d, %d; want 0, 0", getHits, setHits)
	}
}

func TestTracker_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(newMapAccessor())

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.IncrementGet(ctx, "id", "s"); err != nil {
				t.Errorf("IncrementGet: %v", err)
			}
		}()
	}
	wg.Wait()

	getHits, _, err := tr.HitCounts(ctx, "id", "s")
	if err != nil {
		t.Fatalf("HitCounts: %v", err)
	}
	if getHits != n {
		t.Errorf("getHits = %d after %d concurrent increments; want %d", getHits, n, n)
	}
}

func TestTracker_Dates(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(newMapAccessor())

	// Absent dates read as the epoch
	updated, accessed, err := tr.Dates(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	epoch := time.Unix(0, 0).UTC()
	if !updated.Equal(epoch) || !accessed.Equal(epoch) {
		t.Errorf("fresh dates = %v, %v; want epoch", updated, accessed)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := tr.Stamp(ctx, "id", "s", at); err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	updated, accessed, err = tr.Dates(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if !updated.Equal(at) || !accessed.Equal(at) {
		t.Errorf("stamped dates = %v, %v; want %v", updated, accessed, at)
	}

	later := at.Add(time.Minute)
	if err := tr.Touch(ctx, "id", "s", later); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	updated, accessed, err = tr.Dates(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if !updated.Equal(at) {
		t.Errorf("Touch changed lastUpdated: %v; want %v", updated, at)
	}
	if !accessed.Equal(later) {
		t.Errorf("Touch lastAccessed = %v; want %v", accessed, later)
	}
}

func TestTracker_Reset(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(newMapAccessor())

	if _, err := tr.IncrementGet(ctx, "id", "s"); err != nil {
		t.Fatalf("IncrementGet: %v", err)
	}
	if _, err := tr.IncrementSet(ctx, "id", "s"); err != nil {
		t.Fatalf("IncrementSet: %v", err)
	}
	if err := tr.Stamp(ctx, "id", "s", time.Now().UTC()); err != nil {
		t.Fatalf("Stamp: %v", err)
	}

	if err := tr.Reset(ctx, "id", "s"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	getHits, setHits, _ := tr.HitCounts(ctx, "id", "s")
	if getHits != 0 || setHits != 0 {
		t.Errorf("counts after reset = %d, %d; want 0, 0", getHits, setHits)
	}
	updated, accessed, _ := tr.Dates(ctx, "id", "s")
	epoch := time.Unix(0, 0).UTC()
	if !updated.Equal(epoch) || !accessed.Equal(epoch) {
		t.Errorf("dates after reset = %v, %v; want epoch", updated, accessed)
	}

	// Resetting absent metadata is a no-op
	if err := tr.Reset(ctx, "never", "seen"); err != nil {
		t.Fatalf("Reset absent: %v", err)
	}
}

func TestTracker_UnparseableValues(t *testing.T) {
	ctx := context.Background()
	acc := newMapAccessor()
	tr := NewTracker(acc)

	// Corrupt stored metadata reads as absent, not as an error
	if err := acc.Set(ctx, metaKey("id", "s", "getHitCount"), "not a number"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := acc.Set(ctx, metaKey("id", "s", "lastUpdated"), "not a date"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	getHits, _, err := tr.HitCounts(ctx, "id", "s")
	if err != nil {
		t.Fatalf("HitCounts: %v", err)
	}
	if getHits != 0 {
		t.Errorf("corrupt count = %d; want 0", getHits)
	}
	updated, _, err := tr.Dates(ctx, "id", "s")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if !updated.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("corrupt date = %v; want epoch", updated)
	}
}

func TestValidateKeyParts(t *testing.T) {
	if err := validateKeyParts("id", "s"); err != nil {
		t.Errorf("valid parts rejected: %v", err)
	}
	if err := validateKeyParts("", "s"); err != ErrInvalidIdentifier {
		t.Errorf("empty identifier: %v; want ErrInvalidIdentifier", err)
	}
	if err := validateKeyParts("id", ""); err != ErrInvalidStoreName {
		t.Errorf("empty store name: %v; want ErrInvalidStoreName", err)
	}
}
