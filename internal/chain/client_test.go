package chain

import "testing"

func TestTimestampCacheRoundTrip(t *testing.T) {
	c := &Client{tsCache: make(map[uint64]uint64)}

	if _, ok := c.cachedTimestamp(7); ok {
		t.Fatalf("expected cache miss")
	}

	c.storeTimestamp(7, 70)
	ts, ok := c.cachedTimestamp(7)
	if !ok || ts != 70 {
		t.Fatalf("expected cached 70, got %d (hit=%v)", ts, ok)
	}
}

func TestTimestampCacheIsBounded(t *testing.T) {
	c := &Client{tsCache: make(map[uint64]uint64)}

	for i := uint64(0); i < tsCacheLimit; i++ {
		c.storeTimestamp(i, i*10)
	}
	if len(c.tsCache) != tsCacheLimit {
		t.Fatalf("expected full cache, got %d entries", len(c.tsCache))
	}

	// The insert at the limit drops the old entries instead of growing.
	c.storeTimestamp(tsCacheLimit, 1)
	if len(c.tsCache) != 1 {
		t.Fatalf("expected cache reset to 1 entry, got %d", len(c.tsCache))
	}
	if ts, ok := c.cachedTimestamp(tsCacheLimit); !ok || ts != 1 {
		t.Fatalf("expected fresh entry to survive the reset")
	}
}
