package vfs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ftpmount/ftpmount/ftpc"
)

// FileNode is the in-memory metadata for one remote file.
type FileNode struct {
	Name    string // display name, server casing preserved
	Path    string // display path
	Size    int64
	ModTime time.Time

	New      bool // created locally, not yet seen on the server
	Dirty    bool // content cache differs from server-confirmed content
	Pending  bool // a remote operation for this path is in flight
	ReadOnly bool

	// missedListings counts consecutive listings of the parent that
	// omitted this locally-retained node.  At two strikes, with no
	// upload in flight, the node goes.
	missedListings int
}

// DirNode is the in-memory metadata for one remote directory.
type DirNode struct {
	Name          string
	Path          string
	ModTime       time.Time
	ChildrenKnown bool
}

// metaView is the metadata tree: two keyed maps from normalized
// path to node.  All returned nodes are copies; mutation happens only
// through the methods here.
type metaView struct {
	mu              sync.RWMutex
	caseInsensitive bool
	files           map[string]*FileNode
	dirs            map[string]*DirNode
}

func newMetaView(caseInsensitive bool) *metaView {
	m := &metaView{
		caseInsensitive: caseInsensitive,
		files:           map[string]*FileNode{},
		dirs:            map[string]*DirNode{},
	}
	// the root exists from mount to unmount
	m.dirs["/"] = &DirNode{Name: "/", Path: "/", ModTime: time.Now()}
	return m
}

// key returns the canonical map key for a path
func (m *metaView) key(p string) string {
	return Normalize(p, m.caseInsensitive)
}

// statFile returns a copy of the file node at path, if any
func (m *metaView) statFile(p string) (FileNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.files[m.key(p)]
	if !ok {
		return FileNode{}, false
	}
	return *n, true
}

// statDir returns a copy of the dir node at path, if any
func (m *metaView) statDir(p string) (DirNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.dirs[m.key(p)]
	if !ok {
		return DirNode{}, false
	}
	return *n, true
}

// exists reports whether path is known as either a file or a directory
func (m *metaView) exists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := m.key(p)
	_, file := m.files[key]
	_, dir := m.dirs[key]
	return file || dir
}

// addFile inserts or replaces a file node created locally
func (m *metaView) addFile(n FileNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(n.Path)
	delete(m.dirs, key) // a path is a file or a dir, never both
	m.files[key] = &n
}

// addDir inserts or replaces a directory node
func (m *metaView) addDir(n DirNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(n.Path)
	if key == "/" {
		return
	}
	delete(m.files, key)
	m.dirs[key] = &n
}

// updateFile applies fn to the file node at path under the lock
func (m *metaView) updateFile(p string, fn func(n *FileNode)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.files[m.key(p)]
	if !ok {
		return false
	}
	fn(n)
	return true
}

// removeFile tombstones a file node
func (m *metaView) removeFile(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, m.key(p))
}

// removeDir tombstones a directory node.  The root cannot go.
func (m *metaView) removeDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(p)
	if key == "/" {
		return
	}
	delete(m.dirs, key)
}

// rename re-keys a node from oldPath to newPath.  The dirty flag and
// everything else travel with it.  For directories the children are
// re-keyed too.
func (m *metaView) rename(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldKey, newKey := m.key(oldPath), m.key(newPath)
	if n, ok := m.files[oldKey]; ok {
		delete(m.files, oldKey)
		n.Path = ToWire(newPath)
		n.Name = baseOf(newPath)
		n.ModTime = time.Now()
		delete(m.dirs, newKey)
		m.files[newKey] = n
		return
	}
	if n, ok := m.dirs[oldKey]; ok {
		delete(m.dirs, oldKey)
		n.Path = ToWire(newPath)
		n.Name = baseOf(newPath)
		n.ModTime = time.Now()
		delete(m.files, newKey)
		m.dirs[newKey] = n
		// move the subtree
		oldPrefix := oldKey + "/"
		for key, child := range m.files {
			if strings.HasPrefix(key, oldPrefix) {
				delete(m.files, key)
				suffix := child.Path[len(oldKey):]
				child.Path = ToWire(newPath) + suffix
				m.files[newKey+key[len(oldKey):]] = child
			}
		}
		for key, child := range m.dirs {
			if strings.HasPrefix(key, oldPrefix) {
				delete(m.dirs, key)
				suffix := child.Path[len(oldKey):]
				child.Path = ToWire(newPath) + suffix
				m.dirs[newKey+key[len(oldKey):]] = child
			}
		}
	}
}

// enumerateChildren returns copies of the direct children of parent
// sorted by name, used to serve listings from what is already known.
func (m *metaView) enumerateChildren(parent string) (files []FileNode, dirs []DirNode) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parentKey := m.key(parent)
	prefix := parentKey + "/"
	if parentKey == "/" {
		prefix = "/"
	}
	for key, n := range m.files {
		if strings.HasPrefix(key, prefix) && !strings.Contains(key[len(prefix):], "/") {
			files = append(files, *n)
		}
	}
	for key, n := range m.dirs {
		if key == "/" {
			continue
		}
		if strings.HasPrefix(key, prefix) && !strings.Contains(key[len(prefix):], "/") {
			dirs = append(dirs, *n)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return files, dirs
}

// conflict reports a local node which a fresh listing disagreed with
type conflict struct {
	Path   string
	Reason string
}

// mergeListing reconciles a fresh server listing of dir into the
// view.  Local nodes win over the listing while they are new or
// dirty; locally-retained nodes the server keeps omitting are removed
// on the second consecutive miss once no upload is in flight for
// them.  Returned conflicts must be surfaced by the caller - they are
// never dropped silently.
func (m *metaView) mergeListing(dir string, entries []ftpc.FileInfo, uploadInFlight func(normPath string) bool) []conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirKey := m.key(dir)
	dirDisplay := dir
	if d, ok := m.dirs[dirKey]; ok {
		dirDisplay = d.Path
		d.ChildrenKnown = true
	}

	var conflicts []conflict
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		childDisplay := joinPath(ToWire(dirDisplay), e.Name)
		childKey := m.key(childDisplay)
		seen[childKey] = true
		if e.IsDir {
			if local, ok := m.files[childKey]; ok && (local.New || local.Dirty) {
				// a local not-yet-uploaded file shadows a server directory
				conflicts = append(conflicts, conflict{Path: local.Path, Reason: "server has a directory where a local file awaits upload"})
				continue
			}
			delete(m.files, childKey)
			if existing, ok := m.dirs[childKey]; ok {
				existing.ModTime = e.ModTime
				existing.Name = e.Name
			} else {
				m.dirs[childKey] = &DirNode{Name: e.Name, Path: childDisplay, ModTime: e.ModTime}
			}
			continue
		}
		if local, ok := m.files[childKey]; ok {
			if local.New || local.Dirty {
				// local wins until the upload confirms or fails
				local.missedListings = 0
				continue
			}
			local.Name = e.Name
			local.Size = e.Size
			local.ModTime = e.ModTime
			local.missedListings = 0
			continue
		}
		delete(m.dirs, childKey)
		m.files[childKey] = &FileNode{Name: e.Name, Path: childDisplay, Size: e.Size, ModTime: e.ModTime}
	}

	// Now the other direction: local children the listing omitted
	prefix := dirKey + "/"
	if dirKey == "/" {
		prefix = "/"
	}
	for key, n := range m.files {
		if !strings.HasPrefix(key, prefix) || strings.Contains(key[len(prefix):], "/") {
			continue
		}
		if seen[key] {
			continue
		}
		if n.New || n.Dirty {
			// server may simply not have received the write yet
			n.missedListings++
			if n.missedListings >= 2 && !uploadInFlight(key) {
				delete(m.files, key)
				conflicts = append(conflicts, conflict{Path: n.Path, Reason: "dropped after repeated omission from server listings"})
			}
			continue
		}
		delete(m.files, key)
	}
	for key := range m.dirs {
		if key == "/" || !strings.HasPrefix(key, prefix) || strings.Contains(key[len(prefix):], "/") {
			continue
		}
		if !seen[key] {
			delete(m.dirs, key)
		}
	}
	return conflicts
}

// clear drops everything except the root, for unmount
func (m *metaView) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = map[string]*FileNode{}
	m.dirs = map[string]*DirNode{"/": {Name: "/", Path: "/", ModTime: time.Now()}}
}
