package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := NewLRU[string](10, time.Minute)
	c.Set("k", "v")

	entry, ok := c.Get("k")
	if !ok || entry.Payload != "v" {
		t.Fatalf("got %+v, ok=%v", entry, ok)
	}
	if entry.ComputedAt.IsZero() {
		t.Fatal("ComputedAt not stamped")
	}
}

func TestStaleEntriesStillServe(t *testing.T) {
	c := NewLRU[int](10, time.Hour)
	c.SetAt("k", 42, time.Now().Add(-5*time.Minute))

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("stale-but-retained entry should still serve")
	}
	if !entry.StaleAfter(time.Minute) {
		t.Fatal("entry should be stale for a 1m TTL")
	}
	if entry.StaleAfter(time.Hour) {
		t.Fatal("entry should be fresh for a 1h TTL")
	}
}

func TestRetentionExpiry(t *testing.T) {
	c := NewLRU[int](10, time.Millisecond)
	c.SetAt("k", 1, time.Now().Add(-time.Second))

	if _, ok := c.Get("k"); ok {
		t.Fatal("entry past retention should miss")
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d after expiry read", c.Size())
	}
}

func TestEviction(t *testing.T) {
	c := NewLRU[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestDelete(t *testing.T) {
	c := NewLRU[int](10, time.Minute)
	c.Set("k", 1)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("deleted entry still present")
	}
}

func TestCleanExpired(t *testing.T) {
	c := NewLRU[int](10, time.Minute)
	c.SetAt("old", 1, time.Now().Add(-2*time.Minute))
	c.Set("fresh", 2)

	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("cleaned %d, want 1", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry removed by cleanup")
	}
}
