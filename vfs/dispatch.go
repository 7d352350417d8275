package vfs

import (
	"bytes"
	"context"
	"time"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
)

// CreateMode is how CreateFile should treat an existing or missing
// target
type CreateMode int

// Create modes
const (
	OpenExisting CreateMode = iota // fail if missing
	CreateNew                      // fail if present
	OpenOrCreate                   // open if present, create if missing
)

// Dispatcher is the callback vtable the mount host drives.  Each
// callback follows a fixed latency policy: answered from the caches,
// a bounded wait on the operation queue, or fire-and-forget with
// errors routed to the activity log.
type Dispatcher interface {
	Mounted()
	Unmounted()
	GetVolumeInformation() VolumeInfo
	GetDiskFreeSpace() (total, free uint64)

	FindFiles(path string) ([]ftpc.FileInfo, Status)
	GetFileInformation(path string) (ftpc.FileInfo, Status)

	CreateFile(path string, mode CreateMode, isDir bool) Status
	ReadFile(path string, off int64, buf []byte) (int, Status)
	WriteFile(path string, off int64, data []byte) (int, Status)
	SetEndOfFile(path string, size int64) Status
	SetAllocationSize(path string, size int64) Status
	SetFileTime(path string, mtime time.Time) Status
	SetFileAttributes(path string) Status
	FlushFileBuffers(path string) Status
	Cleanup(path string)
	CloseFile(path string)

	DeleteFile(path string) Status
	DeleteDirectory(path string) Status
	MoveFile(oldPath, newPath string, replace bool) Status

	GetFileSecurity(path string) Status
	SetFileSecurity(path string) Status
	FindStreams(path string) Status
	LockFile(path string, off, length int64) Status
	UnlockFile(path string, off, length int64) Status
}

const volumeCapacity = 1 << 40 // advertise 1 TiB, FTP has no quota query

// Mounted is bookkeeping only
func (vfs *VFS) Mounted() {
	fs.Debugf(vfs, "host reports mounted")
}

// Unmounted is bookkeeping only
func (vfs *VFS) Unmounted() {
	fs.Debugf(vfs, "host reports unmounted")
}

// GetVolumeInformation answers from constants
func (vfs *VFS) GetVolumeInformation() VolumeInfo {
	return VolumeInfo{
		Name:           vfs.conn.String(),
		FilesystemName: "ftpmount",
		CaseSensitive:  !vfs.opt.CaseInsensitive,
	}
}

// GetDiskFreeSpace advertises a large synthetic capacity
func (vfs *VFS) GetDiskFreeSpace() (total, free uint64) {
	used := uint64(vfs.content.totalBytes())
	if used > volumeCapacity {
		used = volumeCapacity
	}
	return volumeCapacity, volumeCapacity - used
}

// localEntries materializes a listing for dir from the metadata
// view, so everything served has a node behind it.
func (vfs *VFS) localEntries(dir string) []ftpc.FileInfo {
	files, dirs := vfs.meta.enumerateChildren(dir)
	entries := make([]ftpc.FileInfo, 0, len(files)+len(dirs)+2)
	mtime := time.Now()
	if d, ok := vfs.meta.statDir(dir); ok {
		mtime = d.ModTime
	}
	entries = append(entries,
		ftpc.FileInfo{Name: ".", IsDir: true, ModTime: mtime},
		ftpc.FileInfo{Name: "..", IsDir: true, ModTime: mtime},
	)
	for _, d := range dirs {
		entries = append(entries, ftpc.FileInfo{Name: d.Name, IsDir: true, ModTime: d.ModTime})
	}
	for _, f := range files {
		entries = append(entries, ftpc.FileInfo{Name: f.Name, Size: f.Size, ModTime: f.ModTime})
	}
	return entries
}

// FindFiles lists dir.  Fresh cache: answered locally.  Stale cache:
// answered locally with a background refresh.  Cold cache: a bounded
// wait on the single-flight refresh, falling back to the locally
// known subset - the next call picks the refreshed listing up.
func (vfs *VFS) FindFiles(dir string) ([]ftpc.FileInfo, Status) {
	key := vfs.meta.key(dir)
	if _, isFile := vfs.meta.statFile(key); isFile {
		return nil, StatusObjectNameNotFound
	}
	if _, fresh := vfs.listings.get(key); fresh {
		return vfs.localEntries(key), StatusSuccess
	}
	ch := vfs.refreshListing(key)
	if _, known := vfs.listings.getStale(key); known {
		// stale but useful; the refresh carries on in the background
		return vfs.localEntries(key), StatusSuccess
	}
	timer := time.NewTimer(vfs.opt.ListingTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		// refresh succeeded or failed; either way serve what the
		// view now holds (failure was recorded by the refresh)
	case <-timer.C:
	}
	return vfs.localEntries(key), StatusSuccess
}

// GetFileInformation answers from the metadata view.  On a miss with
// a warm parent listing the answer is an authoritative not-found; on
// a cold miss a provisional entry is returned and a background stat
// scheduled - the next call sees its result.
func (vfs *VFS) GetFileInformation(p string) (ftpc.FileInfo, Status) {
	key := vfs.meta.key(p)
	if n, ok := vfs.meta.statFile(key); ok {
		return ftpc.FileInfo{Name: n.Name, Size: n.Size, ModTime: n.ModTime}, StatusSuccess
	}
	if n, ok := vfs.meta.statDir(key); ok {
		return ftpc.FileInfo{Name: n.Name, IsDir: true, ModTime: n.ModTime}, StatusSuccess
	}
	if parent, ok := vfs.meta.statDir(parentOf(key)); ok && parent.ChildrenKnown {
		// the parent has been listed, so absence is authoritative
		return ftpc.FileInfo{}, StatusObjectNameNotFound
	}
	vfs.scheduleStat(key)
	return ftpc.FileInfo{Name: baseOf(p), ModTime: time.Now()}, StatusSuccess
}

// CreateFile opens or creates the node at p.
//
// Open-for-read of a file not in the content cache is the one
// bounded wait on the read path: the download must land before the
// host starts issuing ReadFile.  A download that misses its deadline
// fails the open with IoTimeout rather than silently serving empty
// content.
func (vfs *VFS) CreateFile(p string, mode CreateMode, isDir bool) Status {
	key := vfs.meta.key(p)
	_, fileKnown := vfs.meta.statFile(key)
	_, dirKnown := vfs.meta.statDir(key)

	if mode == OpenExisting {
		if isDir || dirKnown {
			if dirKnown {
				return StatusSuccess
			}
			return StatusObjectNameNotFound
		}
		if !fileKnown {
			return StatusObjectNameNotFound
		}
		if vfs.content.exists(key) {
			return StatusSuccess
		}
		if err := vfs.download(key); err != nil {
			vfs.record("Open", key, time.Now(), err, 0)
			return statusFromErr(err)
		}
		// keep the view consistent with what was fetched
		if size := vfs.content.size(key); size >= 0 {
			vfs.meta.updateFile(key, func(n *FileNode) {
				if !n.Dirty {
					n.Size = size
				}
			})
		}
		return StatusSuccess
	}

	// create modes
	if mode == CreateNew && (fileKnown || dirKnown) {
		return StatusObjectNameCollision
	}
	if isDir {
		if dirKnown {
			return StatusSuccess
		}
		return vfs.createDirectory(key, p)
	}
	if dirKnown {
		// a directory is in the way of the file create
		return StatusObjectNameCollision
	}
	if fileKnown {
		// OpenOrCreate of an existing file behaves like open
		return vfs.CreateFile(p, OpenExisting, false)
	}
	display := ToWire(p)
	vfs.meta.addFile(FileNode{Name: baseOf(display), Path: display, ModTime: time.Now(), New: true})
	vfs.content.installEmpty(key)
	vfs.listings.invalidate(parentOf(key))
	// the server sees the file when the first upload lands on close
	return StatusSuccess
}

// createDirectory makes the node locally and the directory remotely,
// fire-and-forget
func (vfs *VFS) createDirectory(key, p string) Status {
	display := ToWire(p)
	vfs.meta.addDir(DirNode{Name: baseOf(display), Path: display, ModTime: time.Now()})
	vfs.listings.invalidate(parentOf(key))
	start := time.Now()
	t := vfs.queue.Enqueue(vfs.ctx, "Mkdir "+key, vfs.opt.DefaultTimeout, func(ctx context.Context, s ftpc.Session) error {
		return mkdirAll(s, display)
	})
	go func() {
		err := t.Wait(context.Background())
		vfs.record("Mkdir", key, start, err, 0)
		if err != nil {
			// the optimistic node goes again; the next listing
			// refresh settles the truth
			vfs.meta.removeDir(key)
			vfs.listings.invalidate(parentOf(key))
		}
	}()
	return StatusSuccess
}

// ReadFile serves purely from the content cache.  A missing buffer
// reads as empty rather than failing the application.
func (vfs *VFS) ReadFile(p string, off int64, buf []byte) (int, Status) {
	return vfs.content.read(vfs.resolve(vfs.meta.key(p)), off, buf), StatusSuccess
}

// WriteFile updates the content cache only - uploads are deferred to
// Cleanup.
func (vfs *VFS) WriteFile(p string, off int64, data []byte) (int, Status) {
	key := vfs.resolve(vfs.meta.key(p))
	if _, ok := vfs.meta.statFile(key); !ok {
		if _, isDir := vfs.meta.statDir(key); isDir {
			return 0, StatusAccessDenied
		}
		display := ToWire(p)
		vfs.meta.addFile(FileNode{Name: baseOf(display), Path: display, ModTime: time.Now(), New: true})
	}
	size := vfs.content.write(key, off, data)
	vfs.meta.updateFile(key, func(n *FileNode) {
		n.Dirty = true
		n.Size = size
		n.ModTime = time.Now()
	})
	return len(data), StatusSuccess
}

// SetEndOfFile truncates or extends the cached content
func (vfs *VFS) SetEndOfFile(p string, size int64) Status {
	key := vfs.resolve(vfs.meta.key(p))
	if _, ok := vfs.meta.statFile(key); !ok {
		return StatusObjectNameNotFound
	}
	newSize := vfs.content.truncate(key, size)
	vfs.meta.updateFile(key, func(n *FileNode) {
		n.Dirty = true
		n.Size = newSize
		n.ModTime = time.Now()
	})
	return StatusSuccess
}

// SetAllocationSize is treated like SetEndOfFile
func (vfs *VFS) SetAllocationSize(p string, size int64) Status {
	return vfs.SetEndOfFile(p, size)
}

// SetFileTime updates the cached mtime; FTP has no general way to
// push it so it stays local.
func (vfs *VFS) SetFileTime(p string, mtime time.Time) Status {
	vfs.meta.updateFile(vfs.meta.key(p), func(n *FileNode) { n.ModTime = mtime })
	return StatusSuccess
}

// SetFileAttributes has nothing to map onto FTP
func (vfs *VFS) SetFileAttributes(p string) Status {
	return StatusSuccess
}

// FlushFileBuffers is a no-op - the deferred upload policy applies
func (vfs *VFS) FlushFileBuffers(p string) Status {
	return StatusSuccess
}

// Cleanup is the last-close signal: dirty or new content is uploaded
// in the background, at most once per path at a time.
func (vfs *VFS) Cleanup(p string) {
	key := vfs.resolve(vfs.meta.key(p))
	n, ok := vfs.meta.statFile(key)
	if !ok {
		return
	}
	if n.Dirty || n.New || vfs.content.isDirty(key) {
		vfs.scheduleUpload(key)
	}
}

// CloseFile is a no-op - Cleanup did the work
func (vfs *VFS) CloseFile(p string) {}

// DeleteFile removes the file from the view immediately and deletes
// it on the server in the background.  A failed server delete
// surfaces through the activity log and the file re-appears on the
// next listing refresh.
func (vfs *VFS) DeleteFile(p string) Status {
	key := vfs.meta.key(p)
	n, ok := vfs.meta.statFile(key)
	if !ok {
		return StatusObjectNameNotFound
	}
	wirePath := ToWire(n.Path)
	vfs.meta.removeFile(key)
	vfs.content.remove(key)
	vfs.dropAliasesTo(key)
	vfs.listings.invalidate(parentOf(key))
	start := time.Now()
	t := vfs.queue.Enqueue(vfs.ctx, "Delete "+key, vfs.opt.DeleteTimeout, func(ctx context.Context, s ftpc.Session) error {
		return s.Delete(wirePath)
	})
	go func() {
		vfs.record("Delete", key, start, t.Wait(context.Background()), n.Size)
	}()
	return StatusSuccess
}

// DeleteDirectory removes the directory optimistically with a
// background RMD
func (vfs *VFS) DeleteDirectory(p string) Status {
	key := vfs.meta.key(p)
	n, ok := vfs.meta.statDir(key)
	if !ok {
		return StatusObjectNameNotFound
	}
	if key == "/" {
		return StatusAccessDenied
	}
	wirePath := ToWire(n.Path)
	vfs.meta.removeDir(key)
	vfs.listings.invalidateTree(key)
	start := time.Now()
	t := vfs.queue.Enqueue(vfs.ctx, "Rmdir "+key, vfs.opt.DeleteTimeout, func(ctx context.Context, s ftpc.Session) error {
		return s.Rmdir(wirePath)
	})
	go func() {
		vfs.record("Rmdir", key, start, t.Wait(context.Background()), 0)
	}()
	return StatusSuccess
}

// MoveFile re-keys the node and its content atomically and renames
// on the server in the background, falling back to
// download-upload-delete where the server cannot rename.
func (vfs *VFS) MoveFile(oldPath, newPath string, replace bool) Status {
	oldKey, newKey := vfs.meta.key(oldPath), vfs.meta.key(newPath)
	if !vfs.meta.exists(oldKey) {
		return StatusObjectNameNotFound
	}
	if !replace && vfs.meta.exists(newKey) {
		return StatusObjectNameCollision
	}
	oldWire := vfs.wirePathOf(oldKey)
	newWire := ToWire(newPath)
	_, wasDir := vfs.meta.statDir(oldKey)
	vfs.meta.rename(oldKey, newPath)
	vfs.content.renameKey(oldKey, newKey)
	if wasDir {
		vfs.content.renamePrefix(oldKey, newKey)
	}
	vfs.addAlias(oldKey, newKey)
	vfs.listings.invalidateTree(oldKey)
	vfs.listings.invalidate(parentOf(newKey))

	start := time.Now()
	t := vfs.queue.Enqueue(vfs.ctx, "Rename "+oldKey, vfs.opt.RenameTimeout, func(ctx context.Context, s ftpc.Session) error {
		err := s.Rename(oldWire, newWire)
		if fs.Kind(err) != fs.KindUnsupported {
			return err
		}
		// server without RNFR/RNTO: copy through the client
		rc, err := s.Download(oldWire)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return err
		}
		if err := rc.Close(); err != nil {
			return err
		}
		if err := s.Upload(newWire, bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}
		return s.Delete(oldWire)
	})
	go func() {
		vfs.record("Rename", oldKey+" -> "+newKey, start, t.Wait(context.Background()), 0)
	}()
	return StatusSuccess
}

// GetFileSecurity is not supported over FTP
func (vfs *VFS) GetFileSecurity(p string) Status { return StatusNotImplemented }

// SetFileSecurity is not supported over FTP
func (vfs *VFS) SetFileSecurity(p string) Status { return StatusNotImplemented }

// FindStreams is not supported over FTP
func (vfs *VFS) FindStreams(p string) Status { return StatusNotImplemented }

// LockFile is not supported over FTP
func (vfs *VFS) LockFile(p string, off, length int64) Status { return StatusNotImplemented }

// UnlockFile is not supported over FTP
func (vfs *VFS) UnlockFile(p string, off, length int64) Status { return StatusNotImplemented }

// Check the interface is satisfied
var _ Dispatcher = (*VFS)(nil)
