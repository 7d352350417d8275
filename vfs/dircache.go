package vfs

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/ftpmount/ftpmount/ftpc"
)

// Listing is one cached directory listing.  Entries hold the
// server's children only - the synthetic "." and ".." are added when
// the listing is served to the host.
type Listing struct {
	Entries  []ftpc.FileInfo
	CachedAt time.Time
}

// dirCache is the TTL-bounded cache of directory listings.
// Fresh listings live in a go-cache with per-entry expiry; the last
// known listing is additionally retained without expiry so a failed
// refresh can keep serving stale-but-useful results.
type dirCache struct {
	fresh   *gocache.Cache
	ttl     time.Duration
	rootTTL time.Duration

	mu    sync.Mutex
	stale map[string]*Listing

	flight singleflight.Group
}

func newDirCache(ttl, rootTTL time.Duration) *dirCache {
	return &dirCache{
		fresh:   gocache.New(ttl, 2*ttl),
		ttl:     ttl,
		rootTTL: rootTTL,
		stale:   map[string]*Listing{},
	}
}

// ttlFor returns the freshness window for a directory key
func (dc *dirCache) ttlFor(key string) time.Duration {
	if key == "/" {
		return dc.rootTTL
	}
	return dc.ttl
}

// get returns the listing for key if it is still fresh
func (dc *dirCache) get(key string) (*Listing, bool) {
	v, ok := dc.fresh.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Listing), true
}

// getStale returns the last known listing for key however old
func (dc *dirCache) getStale(key string) (*Listing, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	l, ok := dc.stale[key]
	return l, ok
}

// put stores a fresh listing for key
func (dc *dirCache) put(key string, entries []ftpc.FileInfo) *Listing {
	l := &Listing{Entries: entries, CachedAt: time.Now()}
	dc.fresh.Set(key, l, dc.ttlFor(key))
	dc.mu.Lock()
	dc.stale[key] = l
	dc.mu.Unlock()
	return l
}

// invalidate drops the listing for key and for its parent chain up
// to the root, since ancestors may hold aggregate metadata.
func (dc *dirCache) invalidate(key string) {
	for {
		dc.fresh.Delete(key)
		dc.mu.Lock()
		delete(dc.stale, key)
		dc.mu.Unlock()
		if key == "/" {
			return
		}
		key = parentOf(key)
	}
}

// invalidateTree drops the listing for key and everything below it,
// used on directory rename and delete.
func (dc *dirCache) invalidateTree(key string) {
	prefix := key + "/"
	for itemKey := range dc.fresh.Items() {
		if itemKey == key || strings.HasPrefix(itemKey, prefix) {
			dc.fresh.Delete(itemKey)
		}
	}
	dc.mu.Lock()
	for staleKey := range dc.stale {
		if staleKey == key || strings.HasPrefix(staleKey, prefix) {
			delete(dc.stale, staleKey)
		}
	}
	dc.mu.Unlock()
	dc.invalidate(key)
}

// refresh runs fn once per key however many callers arrive at the
// same time - everyone shares the one result (single-flight).  The
// returned channel yields the singleflight result.
func (dc *dirCache) refresh(key string, fn func() (*Listing, error)) <-chan singleflight.Result {
	return dc.flight.DoChan(key, func() (interface{}, error) {
		return fn()
	})
}

// clear drops everything, for unmount
func (dc *dirCache) clear() {
	dc.fresh.Flush()
	dc.mu.Lock()
	dc.stale = map[string]*Listing{}
	dc.mu.Unlock()
}
