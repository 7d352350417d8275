package mount

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/ftpmount/ftpmount/vfs"
)

// errnoFor translates a dispatcher status into a FUSE errno
func errnoFor(st vfs.Status) error {
	switch st {
	case vfs.StatusSuccess:
		return nil
	case vfs.StatusObjectNameNotFound:
		return fuse.Errno(syscall.ENOENT)
	case vfs.StatusObjectNameCollision:
		return fuse.Errno(syscall.EEXIST)
	case vfs.StatusAccessDenied:
		return fuse.Errno(syscall.EACCES)
	case vfs.StatusIoTimeout:
		return fuse.Errno(syscall.ETIMEDOUT)
	case vfs.StatusNotImplemented:
		return fuse.Errno(syscall.ENOSYS)
	}
	return fuse.Errno(syscall.EIO)
}

// filesystem is the bazil fs.FS glue around a dispatcher
type filesystem struct {
	d vfs.Dispatcher
}

// Root implements fs.FS
func (f *filesystem) Root() (fusefs.Node, error) {
	return &dirNode{d: f.d, path: "/"}, nil
}

// Statfs implements fs.FSStatfser
func (f *filesystem) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	const blockSize = 4096
	total, free := f.d.GetDiskFreeSpace()
	resp.Bsize = blockSize
	resp.Blocks = total / blockSize
	resp.Bfree = free / blockSize
	resp.Bavail = free / blockSize
	resp.Namelen = 255
	return nil
}

// joinChild joins a directory path and a child name
func joinChild(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// dirNode is a directory
type dirNode struct {
	d    vfs.Dispatcher
	path string
}

// Attr implements fs.Node
func (n *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	info, st := n.d.GetFileInformation(n.path)
	if !st.Ok() {
		return errnoFor(st)
	}
	a.Mode = os.ModeDir | 0755
	a.Mtime = info.ModTime
	a.Ctime = info.ModTime
	return nil
}

// Lookup implements fs.NodeStringLookuper
func (n *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	childPath := joinChild(n.path, name)
	info, st := n.d.GetFileInformation(childPath)
	if !st.Ok() {
		return nil, errnoFor(st)
	}
	if info.IsDir {
		return &dirNode{d: n.d, path: childPath}, nil
	}
	return &fileNode{d: n.d, path: childPath}, nil
}

// ReadDirAll implements fs.HandleReadDirAller
func (n *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, st := n.d.FindFiles(n.path)
	if !st.Ok() {
		return nil, errnoFor(st)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		dt := fuse.DT_File
		if e.IsDir {
			dt = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{Name: e.Name, Type: dt})
	}
	return dirents, nil
}

// Create implements fs.NodeCreater
func (n *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	childPath := joinChild(n.path, req.Name)
	mode := vfs.OpenOrCreate
	if req.Flags&fuse.OpenExclusive != 0 {
		mode = vfs.CreateNew
	}
	if st := n.d.CreateFile(childPath, mode, false); !st.Ok() {
		return nil, nil, errnoFor(st)
	}
	child := &fileNode{d: n.d, path: childPath}
	return child, &fileHandle{d: n.d, path: childPath}, nil
}

// Mkdir implements fs.NodeMkdirer
func (n *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	childPath := joinChild(n.path, req.Name)
	if st := n.d.CreateFile(childPath, vfs.CreateNew, true); !st.Ok() {
		return nil, errnoFor(st)
	}
	return &dirNode{d: n.d, path: childPath}, nil
}

// Remove implements fs.NodeRemover
func (n *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := joinChild(n.path, req.Name)
	if req.Dir {
		return errnoFor(n.d.DeleteDirectory(childPath))
	}
	return errnoFor(n.d.DeleteFile(childPath))
}

// Rename implements fs.NodeRenamer
func (n *dirNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*dirNode)
	if !ok {
		return fuse.Errno(syscall.EIO)
	}
	oldPath := joinChild(n.path, req.OldName)
	newPath := joinChild(target.path, req.NewName)
	// POSIX rename replaces an existing target
	return errnoFor(n.d.MoveFile(oldPath, newPath, true))
}

// fileNode is a regular file
type fileNode struct {
	d    vfs.Dispatcher
	path string
}

// Attr implements fs.Node
func (n *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	info, st := n.d.GetFileInformation(n.path)
	if !st.Ok() {
		return errnoFor(st)
	}
	a.Mode = 0644
	a.Size = uint64(info.Size)
	a.Mtime = info.ModTime
	a.Ctime = info.ModTime
	return nil
}

// Open implements fs.NodeOpener.  Opening for read pulls the content
// into the cache with a bounded wait; a miss surfaces as a timeout
// instead of silent empty content.
func (n *fileNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if !req.Flags.IsWriteOnly() && req.Flags&fuse.OpenTruncate == 0 {
		if st := n.d.CreateFile(n.path, vfs.OpenExisting, false); !st.Ok() {
			return nil, errnoFor(st)
		}
	}
	if req.Flags&fuse.OpenTruncate != 0 {
		if st := n.d.SetEndOfFile(n.path, 0); !st.Ok() {
			return nil, errnoFor(st)
		}
	}
	return &fileHandle{d: n.d, path: n.path}, nil
}

// Setattr implements fs.NodeSetattrer
func (n *fileNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if st := n.d.SetEndOfFile(n.path, int64(req.Size)); !st.Ok() {
			return errnoFor(st)
		}
	}
	if req.Valid.Mtime() {
		if st := n.d.SetFileTime(n.path, req.Mtime); !st.Ok() {
			return errnoFor(st)
		}
	}
	return n.Attr(ctx, &resp.Attr)
}

// Fsync implements fs.NodeFsyncer - the deferred upload policy
// applies, so there is nothing to push here
func (n *fileNode) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return errnoFor(n.d.FlushFileBuffers(n.path))
}

// fileHandle is one open handle on a file
type fileHandle struct {
	d    vfs.Dispatcher
	path string
}

// Read implements fs.HandleReader
func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, st := h.d.ReadFile(h.path, req.Offset, buf)
	if !st.Ok() {
		return errnoFor(st)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements fs.HandleWriter
func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, st := h.d.WriteFile(h.path, req.Offset, req.Data)
	if !st.Ok() {
		return errnoFor(st)
	}
	resp.Size = n
	return nil
}

// Flush implements fs.HandleFlusher
func (h *fileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return errnoFor(h.d.FlushFileBuffers(h.path))
}

// Release implements fs.HandleReleaser - the last close is where
// dirty content gets scheduled for upload
func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.d.Cleanup(h.path)
	h.d.CloseFile(h.path)
	return nil
}

// Check the interfaces are satisfied
var (
	_ fusefs.FS                 = (*filesystem)(nil)
	_ fusefs.FSStatfser         = (*filesystem)(nil)
	_ fusefs.Node               = (*dirNode)(nil)
	_ fusefs.NodeStringLookuper = (*dirNode)(nil)
	_ fusefs.HandleReadDirAller = (*dirNode)(nil)
	_ fusefs.NodeCreater        = (*dirNode)(nil)
	_ fusefs.NodeMkdirer        = (*dirNode)(nil)
	_ fusefs.NodeRemover        = (*dirNode)(nil)
	_ fusefs.NodeRenamer        = (*dirNode)(nil)
	_ fusefs.Node               = (*fileNode)(nil)
	_ fusefs.NodeOpener         = (*fileNode)(nil)
	_ fusefs.NodeSetattrer      = (*fileNode)(nil)
	_ fusefs.NodeFsyncer        = (*fileNode)(nil)
	_ fusefs.HandleReader       = (*fileHandle)(nil)
	_ fusefs.HandleWriter       = (*fileHandle)(nil)
	_ fusefs.HandleFlusher      = (*fileHandle)(nil)
	_ fusefs.HandleReleaser     = (*fileHandle)(nil)
)
