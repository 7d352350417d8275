package version

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T) Store {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	content := []byte("hello world")

	v, err := store.Save("/dir/a.txt", content, hashOf(content))
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, int64(11), v.Size)

	got, err := store.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSaveDeduplicates(t *testing.T) {
	store := newTestStore(t)
	content := []byte("same bytes")
	hash := hashOf(content)

	v1, err := store.Save("/a.txt", content, hash)
	require.NoError(t, err)
	v2, err := store.Save("/a.txt", content, hash)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, v2.ID, "same (path, hash) must be stored once")

	// the same content under another path is a separate version
	v3, err := store.Save("/b.txt", content, hash)
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, v3.ID)

	versions, err := store.List("/a.txt")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	first := []byte("one")
	second := []byte("two")
	_, err := store.Save("/a.txt", first, hashOf(first))
	require.NoError(t, err)
	_, err = store.Save("/a.txt", second, hashOf(second))
	require.NoError(t, err)

	versions, err := store.List("/a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, hashOf(second), versions[0].Hash)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("no-such-id")
	assert.Error(t, err)
}

func TestRollback(t *testing.T) {
	store := newTestStore(t)
	content := []byte("restore me")
	v, err := store.Save("/a.txt", content, hashOf(content))
	require.NoError(t, err)

	got, data, err := store.Rollback(v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, content, data)
}
