package blobcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvault/internal/models"
)

func entry(id, data string) Entry {
	return Entry{Blob: models.Blob{ID: id, TotalSize: int64(len(data))}, Data: []byte(data)}
}

func TestPutAndGet(t *testing.T) {
	c := New(DefaultConfig())

	_, ok := c.Get("bl-1")
	assert.False(t, ok)

	require.True(t, c.PutIfEpoch("bl-1", entry("bl-1", "hello"), c.Epoch("bl-1")))
	got, ok := c.Get("bl-1")
	require.True(t, ok)
	assert.Equal(t, "hello", string(got.Data))
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateDiscardsStaleFill(t *testing.T) {
	c := New(DefaultConfig())

	epoch := c.Epoch("bl-race")
	c.Invalidate("bl-race")

	assert.False(t, c.PutIfEpoch("bl-race", entry("bl-race", "stale"), epoch))
	_, ok := c.Get("bl-race")
	assert.False(t, ok)

	assert.True(t, c.PutIfEpoch("bl-race", entry("bl-race", "fresh"), c.Epoch("bl-race")))
}

func TestLockForDeleteBlocksReadersAndInvalidates(t *testing.T) {
	c := New(Config{MaxEntries: 8, Stripes: 1})
	require.True(t, c.PutIfEpoch("bl-d", entry("bl-d", "data"), c.Epoch("bl-d")))

	unlock := c.LockForDelete("bl-d")
	done := make(chan bool)
	go func() {
		_, ok := c.Get("bl-d")
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("reader should wait for the delete lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reader never resumed")
	}
}

func TestMaxEntryBytesSkipsLargePayloads(t *testing.T) {
	c := New(Config{MaxEntries: 4, MaxEntryBytes: 4})
	assert.False(t, c.PutIfEpoch("bl-big", entry("bl-big", "too large"), c.Epoch("bl-big")))
	assert.True(t, c.PutIfEpoch("bl-ok", entry("bl-ok", "tiny"), c.Epoch("bl-ok")))
}

func TestLRUEviction(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	for _, id := range []string{"a", "b"} {
		require.True(t, c.PutIfEpoch(id, entry(id, id), c.Epoch(id)))
	}
	_, _ = c.Get("a")
	require.True(t, c.PutIfEpoch("c", entry("c", "c"), c.Epoch("c")))

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{MaxEntries: 4, TTL: 20 * time.Millisecond})
	require.True(t, c.PutIfEpoch("bl-ttl", entry("bl-ttl", "x"), c.Epoch("bl-ttl")))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("bl-ttl")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.False(t, c.PutIfEpoch("x", entry("x", "x"), 0))
	c.Invalidate("x")
	c.LockForDelete("x")()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("bl-%d", i%4)
			for j := 0; j < 100; j++ {
				c.PutIfEpoch(id, entry(id, "v"), c.Epoch(id))
				c.Get(id)
				if j%10 == 0 {
					c.Invalidate(id)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 4)
}
