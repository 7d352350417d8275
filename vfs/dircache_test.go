package vfs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpmount/ftpmount/ftpc"
)

func TestDirCacheFreshAndStale(t *testing.T) {
	dc := newDirCache(50*time.Millisecond, time.Minute)

	_, ok := dc.get("/dir")
	assert.False(t, ok)

	dc.put("/dir", []ftpc.FileInfo{{Name: "a.txt"}})
	l, ok := dc.get("/dir")
	require.True(t, ok)
	assert.Len(t, l.Entries, 1)

	// after the TTL the listing is stale but still retained
	time.Sleep(80 * time.Millisecond)
	_, ok = dc.get("/dir")
	assert.False(t, ok)
	l, ok = dc.getStale("/dir")
	require.True(t, ok)
	assert.Len(t, l.Entries, 1)
}

func TestDirCacheRootTTL(t *testing.T) {
	dc := newDirCache(30*time.Millisecond, time.Minute)
	dc.put("/", nil)
	dc.put("/dir", nil)
	time.Sleep(60 * time.Millisecond)
	_, ok := dc.get("/")
	assert.True(t, ok, "the root uses the longer TTL")
	_, ok = dc.get("/dir")
	assert.False(t, ok)
}

func TestDirCacheInvalidate(t *testing.T) {
	dc := newDirCache(time.Minute, time.Minute)
	dc.put("/", nil)
	dc.put("/a", nil)
	dc.put("/a/b", nil)

	// invalidating a directory takes its ancestors with it
	dc.invalidate("/a/b")
	for _, key := range []string{"/a/b", "/a", "/"} {
		_, ok := dc.get(key)
		assert.False(t, ok, "%q should be invalidated", key)
		_, ok = dc.getStale(key)
		assert.False(t, ok)
	}
}

func TestDirCacheInvalidateTree(t *testing.T) {
	dc := newDirCache(time.Minute, time.Minute)
	dc.put("/a", nil)
	dc.put("/a/b", nil)
	dc.put("/a/b/c", nil)
	dc.put("/ab", nil)

	dc.invalidateTree("/a/b")
	_, ok := dc.get("/a/b/c")
	assert.False(t, ok)
	_, ok = dc.get("/ab")
	assert.True(t, ok, "siblings with a shared name prefix survive")
}

func TestDirCacheSingleFlight(t *testing.T) {
	dc := newDirCache(time.Minute, time.Minute)
	var calls int32
	slow := func() (*Listing, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return dc.put("/big", []ftpc.FileInfo{{Name: "x"}}), nil
	}

	// 16 concurrent refreshes share one execution
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := <-dc.refresh("/big", slow)
			require.NoError(t, res.Err)
			assert.Len(t, res.Val.(*Listing).Entries, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
