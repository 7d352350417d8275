package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpmount/ftpmount/ftpc"
)

func TestObscureRoundTrip(t *testing.T) {
	for _, secret := range []string{"", "potato", "very long password with spaces and ünïcode"} {
		obscured, err := Obscure(secret)
		require.NoError(t, err)
		revealed, err := Reveal(obscured)
		require.NoError(t, err)
		assert.Equal(t, secret, revealed)
	}
}

func TestObscureIsNotPlaintext(t *testing.T) {
	obscured, err := Obscure("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, obscured, "hunter2")

	// a fresh IV every time: two obscurings differ
	again, err := Obscure("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, obscured, again)
}

func TestRevealRejectsGarbage(t *testing.T) {
	_, err := Reveal("not obscured!")
	assert.Error(t, err)
	_, err = Reveal("c2hvcnQ")
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftpmount.conf")
	store, err := Load(path)
	require.NoError(t, err)

	ci := &ftpc.ConnectionInfo{
		Name:        "work",
		Host:        "ftp.example.com",
		Port:        2121,
		User:        "alice",
		Pass:        "hunter2",
		ExplicitTLS: true,
	}
	require.NoError(t, store.Set(ci))

	// passwords are never stored in the clear
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	// a fresh load reads the record back
	store2, err := Load(path)
	require.NoError(t, err)
	got, err := store2.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.com", got.Host)
	assert.Equal(t, 2121, got.Port)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "hunter2", got.Pass)
	assert.True(t, got.ExplicitTLS)
	assert.False(t, got.TLS)

	assert.Equal(t, []string{"work"}, store2.List())
}

func TestStoreGetMissing(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "ftpmount.conf"))
	require.NoError(t, err)
	_, err = store.Get("nope")
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftpmount.conf")
	store, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(&ftpc.ConnectionInfo{Name: "gone", Host: "h"}))
	require.NoError(t, store.Delete("gone"))
	_, err = store.Get("gone")
	assert.Error(t, err)
	assert.NoError(t, store.Delete("never-existed"))
}
