// Package mount attaches a vfs.Dispatcher to the host OS as a FUSE
// filesystem.  It is the POSIX implementation of the MountHost
// contract - all filesystem semantics live behind the dispatcher, so
// this package only translates requests and statuses.
package mount

import (
	"errors"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/vfs"
)

// Host mounts a dispatcher with FUSE
type Host struct {
	mu         sync.Mutex
	mountpoint string
	conn       *fuse.Conn
	serveErr   chan error
}

// New creates an unmounted Host
func New() *Host {
	return &Host{serveErr: make(chan error, 1)}
}

// String implements fmt.Stringer for logging
func (h *Host) String() string {
	return "fuse host"
}

// Mount implements vfs.MountHost.Mount
func (h *Host) Mount(mountpoint string, d vfs.Dispatcher) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return errors.New("already mounted")
	}
	vol := d.GetVolumeInformation()
	conn, err := fuse.Mount(mountpoint,
		fuse.FSName("ftpmount"),
		fuse.Subtype(vol.FilesystemName),
		fuse.VolumeName(vol.Name),
	)
	if err != nil {
		return err
	}
	h.conn = conn
	h.mountpoint = mountpoint
	go func() {
		err := fusefs.Serve(conn, &filesystem{d: d})
		if closeErr := conn.Close(); err == nil {
			err = closeErr
		}
		d.Unmounted()
		h.serveErr <- err
	}()
	d.Mounted()
	fs.Debugf(h, "serving at %q", mountpoint)
	return nil
}

// Unmount implements vfs.MountHost.Unmount
func (h *Host) Unmount() error {
	h.mu.Lock()
	mountpoint := h.mountpoint
	mounted := h.conn != nil
	h.mu.Unlock()
	if !mounted {
		return nil
	}
	return fuse.Unmount(mountpoint)
}

// Wait implements vfs.MountHost.Wait
func (h *Host) Wait() error {
	return <-h.serveErr
}

// ListAvailableMountPoints returns mount point candidates.  On POSIX
// any empty directory will do, so there is nothing to enumerate -
// the Windows host is where drive letters get listed.
func ListAvailableMountPoints() []string {
	return nil
}
