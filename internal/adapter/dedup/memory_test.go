package dedup

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreSeenAfterRecord(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "ev-1")
	if err != nil || seen {
		t.Fatalf("fresh id: seen=%v err=%v", seen, err)
	}

	if err := s.Record(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	seen, err = s.Seen(ctx, "ev-1")
	if err != nil || !seen {
		t.Fatalf("recorded id: seen=%v err=%v", seen, err)
	}

	// Other ids stay unaffected.
	if seen, _ := s.Seen(ctx, "ev-2"); seen {
		t.Fatal("unrecorded id reported seen")
	}
}

func TestMemoryStoreExpiresAfterRetention(t *testing.T) {
	s := NewMemoryStore(30 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	if err := s.Record(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if seen, _ := s.Seen(ctx, "ev-1"); !seen {
		t.Fatal("id should be seen inside the retention window")
	}

	time.Sleep(50 * time.Millisecond)

	if seen, _ := s.Seen(ctx, "ev-1"); seen {
		t.Fatal("id should expire after the retention window")
	}
}

func TestMemoryStoreKeepsEarliestFirstSeen(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	first := time.Now().Add(-10 * time.Second)
	if err := s.Record(ctx, "ev-1", first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	s.mu.RLock()
	got := s.seen["ev-1"].firstSeen
	s.mu.RUnlock()
	if !got.Equal(first) {
		t.Fatalf("first seen = %v, want the original %v", got, first)
	}
}

func TestMemoryStoreRetentionCountsFromInsertion(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	// A backlogged event can reach the consumer long after it was fetched;
	// the retention clock starts at insertion, not at the reported first-seen.
	stale := time.Now().Add(-2 * time.Hour)
	if err := s.Record(ctx, "ev-1", stale); err != nil {
		t.Fatalf("record: %v", err)
	}
	seen, err := s.Seen(ctx, "ev-1")
	if err != nil || !seen {
		t.Fatalf("id recorded just now: seen=%v err=%v, want seen", seen, err)
	}
}

func TestMemoryStoreReRecordsExpiredEntry(t *testing.T) {
	s := NewMemoryStore(30 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	if err := s.Record(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// The stale entry must not block a fresh insertion.
	if err := s.Record(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if seen, _ := s.Seen(ctx, "ev-1"); !seen {
		t.Fatal("re-recorded id should be seen for a fresh retention window")
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d"}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := ids[(n+j)%len(ids)]
				s.Record(ctx, id, time.Now())
				s.Seen(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if seen, _ := s.Seen(ctx, id); !seen {
			t.Errorf("id %s lost", id)
		}
	}
}
