package llcache

import (
	"encoding/binary"
	"sync"
	"testing"
)

func encodeUint32(k uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	return b
}

func equalUint32(a, b uint32) bool { return a == b }

func newIntCache(capacity int) *Cache[uint32, uint32] {
	return New[uint32, uint32](capacity, encodeUint32, equalUint32, nil)
}

func TestPutThenGet(t *testing.T) {
	c := newIntCache(32)
	c.Put(7, 700)
	v, ok := c.Get(7)
	if !ok || v != 700 {
		t.Fatalf("Get(7) = %v, %v; want 700, true", v, ok)
	}
}

func TestGetMissingIsFalse(t *testing.T) {
	c := newIntCache(32)
	if _, ok := c.Get(123); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestPutOverwriteSameKey(t *testing.T) {
	c := newIntCache(32)
	c.Put(1, 10)
	_, _, overwrote := c.Put(1, 20)
	if !overwrote {
		t.Fatalf("expected overwrote=true replacing same key")
	}
	v, ok := c.Get(1)
	if !ok || v != 20 {
		t.Fatalf("Get(1) = %v, %v; want 20, true", v, ok)
	}
}

func TestLineEvictionOnCapacity(t *testing.T) {
	// capacity=32, bucketsPerLine=16 -> 2 lines. Inserting 64 distinct
	// keys into 32 buckets fills both lines, so later puts must
	// overwrite the first bucket of a full line.
	c := New[uint32, uint32](32, encodeUint32, equalUint32, nil)
	var evictedAny bool
	for i := uint32(0); i < 64; i++ {
		_, _, overwrote := c.Put(i, i*10)
		if overwrote {
			evictedAny = true
		}
	}
	if !evictedAny {
		t.Fatalf("expected at least one eviction inserting 64 keys into a 32-slot cache")
	}
}

func TestDeleteCallbackInvokedOnClear(t *testing.T) {
	var mu sync.Mutex
	deleted := make(map[uint32]uint32)
	c := New[uint32, uint32](32, encodeUint32, equalUint32, func(k, v uint32) {
		mu.Lock()
		deleted[k] = v
		mu.Unlock()
	})
	c.Put(1, 100)
	c.Put(2, 200)
	c.Clear()

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) == 0 {
		t.Fatalf("expected onDelete to run for surviving entries")
	}
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected cache empty after Clear")
	}
}

func TestPutAndHoldRelease(t *testing.T) {
	c := newIntCache(32)
	idx, _, _, _ := c.PutAndHold(5, 50)
	// A concurrent Get on the held bucket should treat it as a miss.
	if _, ok := c.Get(5); ok {
		t.Fatalf("expected held bucket to be invisible to Get")
	}
	c.Release(idx)
	v, ok := c.Get(5)
	if !ok || v != 50 {
		t.Fatalf("Get(5) after Release = %v, %v; want 50, true", v, ok)
	}
}

func TestConcurrentPutGetNoPanic(t *testing.T) {
	c := New[uint32, uint32](4096, encodeUint32, equalUint32, nil)
	var wg sync.WaitGroup
	workers := 8
	perWorker := 5000
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := uint32(id*perWorker + i)
				c.Put(key, key*2)
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()
}

func TestClearUnsafeEmptiesTable(t *testing.T) {
	c := newIntCache(32)
	c.Put(1, 1)
	c.Put(2, 2)
	c.ClearUnsafe()
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected empty cache after ClearUnsafe")
	}
}

func TestPutRelaxedThenGetRelaxed(t *testing.T) {
	c := newIntCache(32)
	c.PutRelaxed(7, 700)
	v, ok := c.GetRelaxed(7)
	if !ok || v != 700 {
		t.Fatalf("GetRelaxed(7) = %v, %v; want 700, true", v, ok)
	}
}

func TestGetRelaxedSkipsHeldBucket(t *testing.T) {
	c := newIntCache(32)
	idx, _, _, _ := c.PutAndHold(5, 50)
	if _, ok := c.GetRelaxed(5); ok {
		t.Fatalf("expected GetRelaxed to skip a locked bucket rather than wait on it")
	}
	c.Release(idx)
	v, ok := c.GetRelaxed(5)
	if !ok || v != 50 {
		t.Fatalf("GetRelaxed(5) after Release = %v, %v; want 50, true", v, ok)
	}
}

func TestPutRelaxedSkipsHeldBucket(t *testing.T) {
	c := newIntCache(32)
	idx, _, _, _ := c.PutAndHold(5, 50)
	// Every other bucket in the line is empty, so PutRelaxed finds room
	// without touching the held bucket.
	_, _, overwrote := c.PutRelaxed(6, 60)
	if overwrote {
		t.Fatalf("expected PutRelaxed(6) to land in a fresh bucket, not overwrite")
	}
	c.Release(idx)
	if v, ok := c.Get(5); !ok || v != 50 {
		t.Fatalf("expected bucket 5 untouched by PutRelaxed(6), got %v, %v", v, ok)
	}
}
