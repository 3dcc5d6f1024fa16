package intelcache

import (
	"bytes"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SetGet(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("geo:1.2.3.4", []byte(`{"country":"DE"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get("geo:1.2.3.4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("key missing after Set")
	}
	if !bytes.Equal(got, []byte(`{"country":"DE"}`)) {
		t.Errorf("value = %q", got)
	}
}

func TestCache_MissingKey(t *testing.T) {
	c := newTestCache(t)
	got, ok, err := c.Get("absent")
	if err != nil {
		t.Errorf("Get on missing key returned error: %v", err)
	}
	if ok || got != nil {
		t.Errorf("Get = (%q, %v), want (nil, false)", got, ok)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("short", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := c.Get("short"); !ok {
		t.Fatal("entry missing before TTL elapsed")
	}

	time.Sleep(120 * time.Millisecond)
	if _, ok, err := c.Get("short"); err != nil || ok {
		t.Errorf("after TTL, Get = (ok=%v, err=%v), want expired", ok, err)
	}
}

func TestCache_ZeroTTLStoresForever(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("keep", []byte("x"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := c.Get("keep"); !ok {
		t.Error("zero-TTL entry missing")
	}
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get("k"); ok {
		t.Error("key survives Delete")
	}

	// Deleting an absent key is fine.
	if err := c.Delete("never-there"); err != nil {
		t.Errorf("Delete absent key: %v", err)
	}
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Set("intel:203.0.113.5", []byte(`{"matched":true}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()

	got, ok, err := c.Get("intel:203.0.113.5")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = (ok=%v, err=%v)", ok, err)
	}
	if !bytes.Equal(got, []byte(`{"matched":true}`)) {
		t.Errorf("value = %q", got)
	}
}
