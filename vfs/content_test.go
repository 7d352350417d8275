package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentReadWrite(t *testing.T) {
	c := newContentCache(0)

	// missing buffer reads as empty
	buf := make([]byte, 10)
	assert.Equal(t, 0, c.read("/a", 0, buf))

	// write then read the same range back
	size := c.write("/a", 0, []byte("hello"))
	assert.Equal(t, int64(5), size)
	n := c.read("/a", 0, buf)
	assert.Equal(t, "hello", string(buf[:n]))

	// sparse write zero fills the gap
	size = c.write("/a", 7, []byte("x"))
	assert.Equal(t, int64(8), size)
	n = c.read("/a", 0, buf)
	assert.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 'x'}, buf[:n])

	// read at and past EOF
	assert.Equal(t, 0, c.read("/a", 8, buf))
	assert.Equal(t, 0, c.read("/a", 100, buf))
	assert.Equal(t, 0, c.read("/a", -1, buf))
}

func TestContentTruncate(t *testing.T) {
	c := newContentCache(0)
	c.write("/a", 0, []byte("hello world"))

	assert.Equal(t, int64(5), c.truncate("/a", 5))
	data, _, ok := c.snapshot("/a")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	// extension is zero filled
	assert.Equal(t, int64(7), c.truncate("/a", 7))
	data, _, _ = c.snapshot("/a")
	assert.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0}, data)
}

func TestContentDirtyGenerations(t *testing.T) {
	c := newContentCache(0)

	_, _, ok := c.takeDirty("/a")
	assert.False(t, ok, "clean missing buffer must not be dirty")

	c.install("/a", []byte("server"))
	assert.False(t, c.isDirty("/a"))

	c.write("/a", 0, []byte("local1"))
	data, gen, ok := c.takeDirty("/a")
	require.True(t, ok)
	assert.Equal(t, "local1", string(data))

	// upload succeeded with no writes in between: buffer goes clean
	assert.False(t, c.uploadDone("/a", gen))
	assert.False(t, c.isDirty("/a"))

	// a write during the upload keeps the buffer dirty
	c.write("/a", 0, []byte("local2"))
	data, gen, ok = c.takeDirty("/a")
	require.True(t, ok)
	assert.Equal(t, "local2", string(data))
	c.write("/a", 6, []byte("+"))
	assert.True(t, c.uploadDone("/a", gen), "must stay dirty after racing write")
	assert.True(t, c.isDirty("/a"))
}

func TestContentInstallDoesNotClobber(t *testing.T) {
	c := newContentCache(0)
	c.write("/a", 0, []byte("local"))
	// a slow download landing later must not overwrite local writes
	c.install("/a", []byte("server"))
	data, _, _ := c.snapshot("/a")
	assert.Equal(t, "local", string(data))
	assert.True(t, c.isDirty("/a"))
}

func TestContentRenameKey(t *testing.T) {
	c := newContentCache(0)
	c.write("/a", 0, []byte("seven77"))
	c.renameKey("/a", "/b")
	assert.False(t, c.exists("/a"))
	assert.Equal(t, int64(7), c.size("/b"))
	assert.True(t, c.isDirty("/b"), "dirty flag must follow the rename")
}

func TestContentEviction(t *testing.T) {
	c := newContentCache(10)
	c.install("/clean1", []byte("0123456789"))
	c.write("/dirty", 0, []byte("0123456789"))
	// over the cap: the clean buffer goes, the dirty one is pinned
	assert.False(t, c.exists("/clean1"))
	assert.True(t, c.exists("/dirty"))
}
