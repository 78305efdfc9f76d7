package tracecache

import (
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "tracecache"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Get("12+n;")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a source never put")
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)
	want := Stats{BlockCount: 3, MaxStackGrowth: 7}
	if err := c.Put("12+n;", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get("12+n;")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != want {
		t.Fatalf("Get = (%+v, %v), want (%+v, true)", got, ok, want)
	}
}

func TestDifferentSourcesGetDifferentKeys(t *testing.T) {
	c := openTestCache(t)
	if err := c.Put("12+n;", Stats{BlockCount: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, ok, err := c.Get("34+n;")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected a different source to miss")
	}
}

func TestMergeKeepsHighWaterMarks(t *testing.T) {
	c := openTestCache(t)
	if _, err := c.Merge("x", Stats{BlockCount: 2, MaxStackGrowth: 10}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got, err := c.Merge("x", Stats{BlockCount: 5, MaxStackGrowth: 3})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Stats{BlockCount: 5, MaxStackGrowth: 10}
	if got != want {
		t.Fatalf("Merge result = %+v, want %+v", got, want)
	}
}

func TestKeyForIsDeterministic(t *testing.T) {
	a := KeyFor("12+n;")
	b := KeyFor("12+n;")
	if a != b {
		t.Error("KeyFor should be deterministic for identical source")
	}
	if c := KeyFor("34+n;"); c == a {
		t.Error("KeyFor should differ for different source")
	}
}
