package cache

import "testing"

func TestMemorySetGet(t *testing.T) {
	c := NewMemory()
	c.SetCacheData("http://x", &Object{ETag: `"abc"`})
	obj, ok := c.GetCacheData("http://x")
	if !ok || obj.ETag != `"abc"` {
		t.Errorf("GetCacheData failed: got %v ok=%v", obj, ok)
	}
}

func TestMemoryMiss(t *testing.T) {
	c := NewMemory()
	if _, ok := c.GetCacheData("http://missing"); ok {
		t.Errorf("GetCacheData failed: expected miss")
	}
}
