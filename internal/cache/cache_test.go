package cache

import (
	"strconv"
	"sync"
	"testing"
)

func byteCost(b []byte) int64 { return int64(len(b)) }

func TestCacheGetSet(t *testing.T) {
	c := New[string, int](10, nil)

	c.Set("key1", 42)
	val, ok := c.Get("key1")
	if !ok || val != 42 {
		t.Fatalf("Get(key1) = %d, %v; want 42, true", val, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for missing key")
	}

	c.Set("key1", 7)
	if val, _ := c.Get("key1"); val != 7 {
		t.Errorf("value after overwrite = %d, want 7", val)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, []byte](10, byteCost)

	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Get("a") // b is now the oldest
	c.Set("c", make([]byte, 4))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive, it was used recently")
	}
	if c.Size() != 8 {
		t.Errorf("Size() = %d, want 8", c.Size())
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
}

func TestCacheKeepsOversizedNewestEntry(t *testing.T) {
	c := New[string, []byte](10, byteCost)
	c.Set("small", make([]byte, 2))
	c.Set("huge", make([]byte, 64))

	if _, ok := c.Get("huge"); !ok {
		t.Error("the entry just stored must not be evicted")
	}
	if _, ok := c.Get("small"); ok {
		t.Error("older entries should be evicted to make room")
	}
}

func TestCacheUnlimited(t *testing.T) {
	c := New[int, []byte](0, byteCost)
	for i := range 100 {
		c.Set(i, make([]byte, 1024))
	}
	if c.Len() != 100 {
		t.Errorf("Len() = %d, want 100", c.Len())
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New[string, []byte](100, byteCost)
	c.Set("a", make([]byte, 10))
	c.Set("b", make([]byte, 20))

	if !c.Delete("a") {
		t.Error("Delete(a) should report true")
	}
	if c.Delete("a") {
		t.Error("second Delete(a) should report false")
	}
	if c.Size() != 20 {
		t.Errorf("Size() = %d, want 20", c.Size())
	}

	c.Clear()
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("after Clear: Len=%d Size=%d", c.Len(), c.Size())
	}
	c.Set("c", make([]byte, 5))
	if _, ok := c.Get("c"); !ok {
		t.Error("cache should be usable after Clear")
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, int](10, nil)
	calls := 0
	create := func() int { calls++; return 5 }

	if v := c.GetOrCreate("k", create); v != 5 {
		t.Errorf("GetOrCreate = %d, want 5", v)
	}
	if v := c.GetOrCreate("k", create); v != 5 {
		t.Errorf("GetOrCreate = %d, want 5", v)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := New[string, int](50, nil)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := strconv.Itoa((g*31 + i) % 80)
				c.GetOrCreate(key, func() int { return i })
				c.Get(key)
			}
		}()
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len() = %d, exceeds soft limit 50", c.Len())
	}
}

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000, nil)
	for i := 0; i < 100; i++ {
		c.Set(strconv.Itoa(i), i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("50")
	}
}
