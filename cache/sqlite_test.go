package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func newTestSQLite(t *testing.T, filename string, capacity int) (*SQLiteCache, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	c, err := NewSQLiteCache(filename, capacity, 1, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func TestSQLitePutThenGet(t *testing.T) {
	c, _ := newTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), 2)
	mustPut(t, c, "http://example.com/", "HTTP/1.1 200 OK\r\n\r\nhello")
	if v, ok := mustGet(t, c, "http://example.com/"); !ok || v != "HTTP/1.1 200 OK\r\n\r\nhello" {
		t.Fatalf("got %q, %v", v, ok)
	}
	if _, ok := mustGet(t, c, "http://example.com/other"); ok {
		t.Fatal("got value for missing key")
	}
}

func TestSQLiteRecencyAndEviction(t *testing.T) {
	c, _ := newTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), 2)
	mustPut(t, c, "a", "1")
	mustPut(t, c, "b", "2")
	mustGet(t, c, "a")
	mustPut(t, c, "c", "3")

	keys, err := c.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(keys) != "[c a]" {
		t.Fatalf("keys are %v", keys)
	}
}

func TestSQLiteOverwrite(t *testing.T) {
	c, _ := newTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), 2)
	mustPut(t, c, "k", "v1")
	mustPut(t, c, "other", "x")
	mustPut(t, c, "k", "v2")

	if v, _ := mustGet(t, c, "k"); v != "v2" {
		t.Fatalf("got %q", v)
	}
	if keys, _ := c.Keys(); len(keys) != 2 {
		t.Fatalf("keys are %v", keys)
	}
}

func TestSQLiteExpiration(t *testing.T) {
	c, clock := newTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), 2)
	mustPut(t, c, "a", "1")
	clock.Advance(24*time.Hour + time.Millisecond)

	if _, ok := mustGet(t, c, "a"); ok {
		t.Fatal("got expired entry")
	}
	if keys, _ := c.Keys(); len(keys) != 0 {
		t.Fatalf("expired entry still stored: %v", keys)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "cache.db")
	first, err := NewSQLiteCache(filename, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, first, "a", "1")
	mustPut(t, first, "b", "2")
	mustPut(t, first, "c", "3")
	first.Close()

	// reopening with a smaller capacity keeps the most recent entries
	second, err := NewSQLiteCache(filename, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	keys, err := second.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(keys) != "[c b]" {
		t.Fatalf("keys are %v", keys)
	}
	mustPut(t, second, "d", "4")
	if keys, _ := second.Keys(); fmt.Sprint(keys) != "[d c]" {
		t.Fatalf("keys are %v", keys)
	}
}

func TestSQLitePurge(t *testing.T) {
	c, _ := newTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), 2)
	mustPut(t, c, "a", "1")
	if err := c.Purge("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := mustGet(t, c, "a"); ok {
		t.Fatal("purged entry returned")
	}
}

func TestSQLiteRejectsOverlongExpiration(t *testing.T) {
	_, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), 2, MaxExpirationDays+1)
	if err != ErrInvalidExpiration {
		t.Fatalf("err is %v", err)
	}
}
