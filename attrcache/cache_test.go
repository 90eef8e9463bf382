package attrcache

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "attrs"), ttl)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t, time.Hour)

	in := Entry{
		TagID:       "000000000123",
		RecordID:    42,
		PrintCard:   "PC-100",
		Area:        "PT1",
		ProductName: "Standup Pouch 500g",
		Pieces:      "1200",
	}
	if err := c.Put(in); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, fresh := c.Get("000000000123")
	if fresh != Fresh {
		t.Fatalf("expected fresh entry, got %v", fresh)
	}
	if got.PrintCard != "PC-100" || got.RecordID != 42 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("expected StoredAt to be stamped")
	}
}

func TestGetMissAndStale(t *testing.T) {
	c := openTestCache(t, time.Hour)

	if _, fresh := c.Get("unknown"); fresh != Miss {
		t.Fatalf("expected miss for unknown tag")
	}

	old := Entry{
		TagID:     "000000000123",
		PrintCard: "PC-100",
		StoredAt:  time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := c.Put(old); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, fresh := c.Get("000000000123")
	if fresh != Stale {
		t.Fatalf("expected stale entry, got %v", fresh)
	}
	if got.PrintCard != "PC-100" {
		t.Fatalf("stale lookups must still return the entry, got %+v", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	c := openTestCache(t, time.Hour)
	c.Put(Entry{TagID: "t", PrintCard: "PC-1"})
	c.Put(Entry{TagID: "t", PrintCard: "PC-2"})
	got, _ := c.Get("t")
	if got.PrintCard != "PC-2" {
		t.Fatalf("expected overwrite, got %q", got.PrintCard)
	}
}

func TestNilCacheIsNoOp(t *testing.T) {
	var c *Cache
	if err := c.Put(Entry{TagID: "t"}); err != nil {
		t.Fatalf("nil put: %v", err)
	}
	if _, fresh := c.Get("t"); fresh != Miss {
		t.Fatalf("nil get must miss")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
