package vfs

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// contentBuffer is the cached bytes of one open file
type contentBuffer struct {
	data     []byte
	dirty    bool
	gen      uint64 // bumped on every mutation
	lastUsed time.Time
}

// contentCache maps normalized path to a mutable byte buffer
// with a dirty flag.  The generation counter lets an uploader take a
// snapshot and later clear the dirty flag only if nothing wrote in
// between.
type contentCache struct {
	mu       sync.Mutex
	buffers  map[string]*contentBuffer
	maxBytes int64 // clean-buffer eviction cap, 0 = unbounded
}

func newContentCache(maxBytes int64) *contentCache {
	return &contentCache{
		buffers:  map[string]*contentBuffer{},
		maxBytes: maxBytes,
	}
}

// exists reports whether a buffer is cached for key
func (c *contentCache) exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.buffers[key]
	return ok
}

// size returns the buffer length for key, or -1 if absent
func (c *contentCache) size(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	if !ok {
		return -1
	}
	return int64(len(b.data))
}

// read copies bytes at off into dst and returns the count.  Reading
// at or past the end yields 0, as does a missing buffer - the
// dispatcher decides whether that is an error.
func (c *contentCache) read(key string, off int64, dst []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	if !ok || off < 0 || off >= int64(len(b.data)) {
		return 0
	}
	b.lastUsed = time.Now()
	return copy(dst, b.data[off:])
}

// write copies src into the buffer at off, growing it as needed with
// existing content preserved, and marks it dirty.  A missing buffer
// is created.  Returns the new buffer length.
func (c *contentCache) write(key string, off int64, src []byte) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	if !ok {
		b = &contentBuffer{}
		c.buffers[key] = b
	}
	end := off + int64(len(src))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], src)
	b.dirty = true
	b.gen++
	b.lastUsed = time.Now()
	c.evictLocked()
	return int64(len(b.data))
}

// truncate sets the buffer to exactly size bytes, zero filling any
// extension, and marks it dirty if its length changed.
func (c *contentCache) truncate(key string, size int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	if !ok {
		b = &contentBuffer{}
		c.buffers[key] = b
	}
	switch {
	case size < int64(len(b.data)):
		b.data = b.data[:size]
	case size > int64(len(b.data)):
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	default:
		return size
	}
	b.dirty = true
	b.gen++
	b.lastUsed = time.Now()
	return size
}

// install puts downloaded content into the cache unless a buffer
// already exists - a racing write must not be clobbered by a slow
// download landing afterwards.
func (c *contentCache) install(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffers[key]; ok {
		return
	}
	c.buffers[key] = &contentBuffer{data: data, lastUsed: time.Now()}
	c.evictLocked()
}

// installEmpty makes sure an empty clean buffer exists for key
func (c *contentCache) installEmpty(key string) {
	c.install(key, []byte{})
}

// isDirty reports whether the buffer for key exists and is dirty
func (c *contentCache) isDirty(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	return ok && b.dirty
}

// takeDirty returns a snapshot of the buffer and its generation if it
// is dirty.  The buffer stays readable and writable while the upload
// is in flight.
func (c *contentCache) takeDirty(key string) (data []byte, gen uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, found := c.buffers[key]
	if !found || !b.dirty {
		return nil, 0, false
	}
	data = make([]byte, len(b.data))
	copy(data, b.data)
	return data, b.gen, true
}

// snapshot returns a copy of the buffer and its generation whether
// dirty or not
func (c *contentCache) snapshot(key string) (data []byte, gen uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, found := c.buffers[key]
	if !found {
		return nil, 0, false
	}
	data = make([]byte, len(b.data))
	copy(data, b.data)
	return data, b.gen, true
}

// uploadDone clears the dirty flag after a successful upload, but
// only if the buffer has not been written since the snapshot at gen
// was taken.  Returns true if the buffer is still dirty and needs
// another upload.
func (c *contentCache) uploadDone(key string, gen uint64) (stillDirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[key]
	if !ok {
		return false
	}
	if b.gen != gen {
		return true
	}
	b.dirty = false
	return false
}

// remove destroys the buffer for key
func (c *contentCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buffers, key)
}

// renameKey moves a buffer to a new key, dirty flag and all
func (c *contentCache) renameKey(oldKey, newKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[oldKey]
	if !ok {
		return
	}
	delete(c.buffers, oldKey)
	c.buffers[newKey] = b
}

// renamePrefix re-keys every buffer under oldPrefix, for directory
// renames
func (c *contentCache) renamePrefix(oldPrefix, newPrefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buffers {
		if strings.HasPrefix(key, oldPrefix+"/") {
			delete(c.buffers, key)
			c.buffers[newPrefix+key[len(oldPrefix):]] = b
		}
	}
}

// totalBytes returns the cached byte count
func (c *contentCache) totalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, b := range c.buffers {
		n += int64(len(b.data))
	}
	return n
}

// clear drops all buffers, for unmount
func (c *contentCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = map[string]*contentBuffer{}
}

// evictLocked trims least recently used clean buffers while the
// cache is over its byte cap.  Dirty buffers are pinned until their
// upload succeeds.  Call with the lock held.
func (c *contentCache) evictLocked() {
	if c.maxBytes <= 0 {
		return
	}
	var total int64
	for _, b := range c.buffers {
		total += int64(len(b.data))
	}
	if total <= c.maxBytes {
		return
	}
	type candidate struct {
		key string
		b   *contentBuffer
	}
	var clean []candidate
	for key, b := range c.buffers {
		if !b.dirty {
			clean = append(clean, candidate{key, b})
		}
	}
	sort.Slice(clean, func(i, j int) bool { return clean[i].b.lastUsed.Before(clean[j].b.lastUsed) })
	for _, cand := range clean {
		if total <= c.maxBytes {
			break
		}
		total -= int64(len(cand.b.data))
		delete(c.buffers, cand.key)
	}
}
