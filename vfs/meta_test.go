package vfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpmount/ftpmount/ftpc"
)

func noUploads(string) bool { return false }

func TestMetaRootAlwaysExists(t *testing.T) {
	m := newMetaView(false)
	root, ok := m.statDir("/")
	require.True(t, ok)
	assert.Equal(t, "/", root.Path)
	m.removeDir("/")
	_, ok = m.statDir("/")
	assert.True(t, ok, "the root must survive removal attempts")
}

func TestMetaCasePolicy(t *testing.T) {
	m := newMetaView(true)
	m.addFile(FileNode{Name: "Readme.TXT", Path: "/Dir/Readme.TXT"})
	n, ok := m.statFile("/dir/readme.txt")
	require.True(t, ok)
	// lookups fold case, display casing is preserved
	assert.Equal(t, "Readme.TXT", n.Name)
	assert.Equal(t, "/Dir/Readme.TXT", n.Path)

	sensitive := newMetaView(false)
	sensitive.addFile(FileNode{Name: "Readme.TXT", Path: "/Dir/Readme.TXT"})
	_, ok = sensitive.statFile("/dir/readme.txt")
	assert.False(t, ok)
}

func TestMetaFileDirExclusive(t *testing.T) {
	m := newMetaView(false)
	m.addFile(FileNode{Name: "x", Path: "/x"})
	m.addDir(DirNode{Name: "x", Path: "/x"})
	_, isFile := m.statFile("/x")
	_, isDir := m.statDir("/x")
	assert.False(t, isFile)
	assert.True(t, isDir)
}

func TestMetaMergeListing(t *testing.T) {
	m := newMetaView(false)
	now := time.Now()
	conflicts := m.mergeListing("/", []ftpc.FileInfo{
		{Name: "a.txt", Size: 5, ModTime: now},
		{Name: "docs", IsDir: true, ModTime: now},
	}, noUploads)
	assert.Empty(t, conflicts)

	n, ok := m.statFile("/a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), n.Size)
	_, ok = m.statDir("/docs")
	assert.True(t, ok)

	// server file goes away: a clean node goes with it
	m.mergeListing("/", []ftpc.FileInfo{{Name: "docs", IsDir: true, ModTime: now}}, noUploads)
	_, ok = m.statFile("/a.txt")
	assert.False(t, ok)
}

func TestMetaMergeLocalWins(t *testing.T) {
	m := newMetaView(false)
	m.addFile(FileNode{Name: "new.txt", Path: "/new.txt", Size: 7, New: true, Dirty: true})

	// a listing reporting a conflicting server entry does not clobber
	// the local not-yet-uploaded file
	m.mergeListing("/", []ftpc.FileInfo{{Name: "new.txt", Size: 999}}, noUploads)
	n, ok := m.statFile("/new.txt")
	require.True(t, ok)
	assert.Equal(t, int64(7), n.Size)
	assert.True(t, n.Dirty)
}

func TestMetaMergeTwoStrikeRemoval(t *testing.T) {
	m := newMetaView(false)
	m.addFile(FileNode{Name: "d.txt", Path: "/d.txt", Dirty: true})

	// first omission: retained, the server may not have the upload yet
	m.mergeListing("/", nil, noUploads)
	_, ok := m.statFile("/d.txt")
	assert.True(t, ok)

	// second omission but an upload is in flight: still retained
	inFlight := func(string) bool { return true }
	m.mergeListing("/", nil, inFlight)
	_, ok = m.statFile("/d.txt")
	assert.True(t, ok)

	// third omission, now with no upload in flight: dropped, surfaced
	conflicts := m.mergeListing("/", nil, noUploads)
	_, ok = m.statFile("/d.txt")
	assert.False(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "/d.txt", conflicts[0].Path)
}

func TestMetaRenameFile(t *testing.T) {
	m := newMetaView(false)
	m.addFile(FileNode{Name: "a.txt", Path: "/a.txt", Size: 7, Dirty: true})
	m.rename("/a.txt", "/b.txt")
	_, ok := m.statFile("/a.txt")
	assert.False(t, ok)
	n, ok := m.statFile("/b.txt")
	require.True(t, ok)
	assert.Equal(t, "b.txt", n.Name)
	assert.Equal(t, int64(7), n.Size)
	assert.True(t, n.Dirty, "dirty flag must survive a rename")
}

func TestMetaRenameDirMovesSubtree(t *testing.T) {
	m := newMetaView(false)
	m.addDir(DirNode{Name: "old", Path: "/old"})
	m.addFile(FileNode{Name: "f.txt", Path: "/old/f.txt", Size: 3})
	m.addDir(DirNode{Name: "sub", Path: "/old/sub"})
	m.addFile(FileNode{Name: "g.txt", Path: "/old/sub/g.txt"})

	m.rename("/old", "/new")

	_, ok := m.statFile("/old/f.txt")
	assert.False(t, ok)
	n, ok := m.statFile("/new/f.txt")
	require.True(t, ok)
	assert.Equal(t, "/new/f.txt", n.Path)
	_, ok = m.statDir("/new/sub")
	assert.True(t, ok)
	_, ok = m.statFile("/new/sub/g.txt")
	assert.True(t, ok)
}

func TestMetaEnumerateChildren(t *testing.T) {
	m := newMetaView(false)
	m.addDir(DirNode{Name: "dir", Path: "/dir"})
	m.addFile(FileNode{Name: "b.txt", Path: "/dir/b.txt"})
	m.addFile(FileNode{Name: "a.txt", Path: "/dir/a.txt"})
	m.addFile(FileNode{Name: "deep.txt", Path: "/dir/sub/deep.txt"})
	m.addDir(DirNode{Name: "sub", Path: "/dir/sub"})

	files, dirs := m.enumerateChildren("/dir")
	require.Len(t, files, 2, "grandchildren must not appear")
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "b.txt", files[1].Name)
	require.Len(t, dirs, 1)
	assert.Equal(t, "sub", dirs[0].Name)
}
