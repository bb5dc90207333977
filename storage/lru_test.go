package storage

import "testing"

func page(b byte) []byte {
	d := make([]byte, 16)
	d[0] = b
	return d
}

func TestLRUCacheBasic(t *testing.T) {
	c := newLRUCache(3)

	c.put(1, page(1))
	c.put(2, page(2))
	c.put(3, page(3))

	if _, ok := c.get(1); !ok {
		t.Error("page 1 should be cached")
	}
	if _, ok := c.get(2); !ok {
		t.Error("page 2 should be cached")
	}
	if _, ok := c.get(3); !ok {
		t.Error("page 3 should be cached")
	}

	// Access order after the three gets above is MRU 3,2,1 → 1 is LRU.
	c.put(4, page(4))

	if _, ok := c.get(1); ok {
		t.Error("page 1 should have been evicted")
	}
	if _, ok := c.get(4); !ok {
		t.Error("page 4 should be cached")
	}
}

func TestLRUCacheUpdate(t *testing.T) {
	c := newLRUCache(3)

	c.put(1, page(1))
	c.put(1, page(99))

	data, ok := c.get(1)
	if !ok {
		t.Fatal("page 1 should be cached")
	}
	if data[0] != 99 {
		t.Errorf("expected updated value 99, got %d", data[0])
	}
}

func TestLRUCacheInvalidate(t *testing.T) {
	c := newLRUCache(3)
	c.put(1, page(1))
	c.invalidate(1)

	if _, ok := c.get(1); ok {
		t.Error("page 1 should have been invalidated")
	}
}

func TestLRUCacheClear(t *testing.T) {
	c := newLRUCache(3)
	c.put(1, page(0))
	c.put(2, page(0))
	c.put(3, page(0))

	c.clear()

	_, _, size, _ := c.stats()
	if size != 0 {
		t.Errorf("expected size 0 after clear, got %d", size)
	}
}

func TestLRUCacheStats(t *testing.T) {
	c := newLRUCache(10)
	c.put(1, page(0))
	c.put(2, page(0))

	c.get(1) // hit
	c.get(1) // hit
	c.get(3) // miss

	hits, misses, size, capacity := c.stats()
	if hits != 2 {
		t.Errorf("expected 2 hits, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("expected 1 miss, got %d", misses)
	}
	if size != 2 {
		t.Errorf("expected size 2, got %d", size)
	}
	if capacity != 10 {
		t.Errorf("expected capacity 10, got %d", capacity)
	}

	rate := c.hitRate()
	if rate < 0.66 || rate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %f", rate)
	}
}

func TestLRUCacheEvictionOrder(t *testing.T) {
	c := newLRUCache(3)
	c.put(1, page(0))
	c.put(2, page(0))
	c.put(3, page(0))

	// Touch 1 to make it MRU → LRU order becomes 2,3,1.
	c.get(1)

	c.put(4, page(0))

	if _, ok := c.get(2); ok {
		t.Error("page 2 should have been evicted (LRU)")
	}
	if _, ok := c.get(1); !ok {
		t.Error("page 1 should still be cached (was accessed recently)")
	}
	if _, ok := c.get(3); !ok {
		t.Error("page 3 should still be cached")
	}
	if _, ok := c.get(4); !ok {
		t.Error("page 4 should be cached")
	}
}
