// Package vfs is the virtual filesystem core: the non-blocking
// bridge between the synchronous per-syscall callbacks of a host
// filesystem driver and a pool of FTP control connections.
//
// Callback threads never touch the network.  They answer from the
// metadata view, the content cache and the listing cache, and submit
// remote work to the operation queue - waiting with a deadline only
// where correctness demands it.
package vfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ftpmount/ftpmount/activity"
	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
	"github.com/ftpmount/ftpmount/lib/connpool"
	"github.com/ftpmount/ftpmount/lib/taskqueue"
	"github.com/ftpmount/ftpmount/version"
	"github.com/ftpmount/ftpmount/vfs/vfscommon"
)

// MountHost is the OS side user-mode filesystem driver.  It delivers
// per-syscall callbacks into the Dispatcher it was registered with.
type MountHost interface {
	// Mount attaches the dispatcher at mountpoint and starts
	// delivering callbacks.  It returns once the mount is up.
	Mount(mountpoint string, d Dispatcher) error
	// Unmount detaches the mount point and stops callbacks.
	Unmount() error
	// Wait blocks until the mount is torn down, returning the serve
	// error if any.
	Wait() error
}

// VolumeInfo is what GetVolumeInformation reports
type VolumeInfo struct {
	Name           string
	FilesystemName string
	CaseSensitive  bool
}

// VFS is the virtual filesystem core.  One VFS serves one mount of
// one FTP server.
type VFS struct {
	opt      vfscommon.Options
	conn     *ftpc.ConnectionInfo
	pool     *connpool.Pool
	queue    *taskqueue.Queue
	meta     *metaView
	content  *contentCache
	listings *dirCache
	activity activity.Log
	versions version.Store
	events   *events

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	host       MountHost
	mountPoint string
	mounted    bool

	uploadMu sync.Mutex
	uploads  map[string]*uploadFlight

	// aliasMu guards aliases, which maps the pre-rename key of a
	// file to its current key so handles opened before a MoveFile
	// keep working
	aliasMu sync.Mutex
	aliases map[string]string

	statMu       sync.Mutex
	statInFlight map[string]bool

	downloads singleflight.Group
}

// uploadFlight guards the at-most-one-upload-per-path rule.  again
// is set when a Cleanup arrives while an upload is already running -
// the content is re-uploaded once the first attempt finishes.
type uploadFlight struct {
	again bool
}

// New creates a VFS for the server described by conn.  Pass nil for
// opt to get the defaults and activity/version Discard stores for
// log and store to run without them.
func New(conn *ftpc.ConnectionInfo, opt *vfscommon.Options, log activity.Log, store version.Store) *VFS {
	return newWithDialer(conn, opt, log, store, func(ctx context.Context) (ftpc.Session, error) {
		return ftpc.Dial(ctx, conn)
	})
}

// newWithDialer is New with the session dialer split out so tests
// can run against a scripted server
func newWithDialer(conn *ftpc.ConnectionInfo, opt *vfscommon.Options, log activity.Log, store version.Store, dial ftpc.Dialer) *VFS {
	if opt == nil {
		o := vfscommon.Opt
		opt = &o
	}
	if log == nil {
		log = activity.Discard()
	}
	if store == nil {
		store = version.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	vfs := &VFS{
		opt:          *opt,
		conn:         conn,
		meta:         newMetaView(opt.CaseInsensitive),
		content:      newContentCache(opt.CacheMaxBytes),
		listings:     newDirCache(opt.ListingTTL, opt.RootListingTTL),
		activity:     log,
		versions:     store,
		events:       newEvents(),
		ctx:          ctx,
		cancel:       cancel,
		uploads:      map[string]*uploadFlight{},
		aliases:      map[string]string{},
		statInFlight: map[string]bool{},
	}
	vfs.pool = connpool.New(connpool.Options{
		MinSize:        opt.PoolMinSize,
		MaxSize:        opt.PoolMaxSize,
		AcquireTimeout: opt.PoolAcquireTimeout,
		IdleTimeout:    opt.PoolIdleTimeout,
	}, dial)
	vfs.queue = taskqueue.New(ctx, taskqueue.Options{
		MaxConcurrency: opt.MaxConcurrency,
		DefaultTimeout: opt.DefaultTimeout,
	}, vfs.pool)
	return vfs
}

// String implements fmt.Stringer for logging
func (vfs *VFS) String() string {
	return "vfs " + vfs.conn.String()
}

// Opt returns a copy of the options in use
func (vfs *VFS) Opt() vfscommon.Options { return vfs.opt }

// QueueStats returns the operation queue counters
func (vfs *VFS) QueueStats() taskqueue.Stats { return vfs.queue.Stats() }

// PoolStats returns the connection pool counters
func (vfs *VFS) PoolStats() connpool.Stats { return vfs.pool.Stats() }

// Mount brings the filesystem up at mountpoint through host.
func (vfs *VFS) Mount(host MountHost, mountpoint string) error {
	vfs.mu.Lock()
	if vfs.mounted {
		vfs.mu.Unlock()
		return fs.ErrorBusy
	}
	vfs.host = host
	vfs.mountPoint = mountpoint
	vfs.mu.Unlock()

	// Dial the pool's minimum connections up front so credential and
	// network problems fail the mount instead of the first callback.
	warmCtx, cancel := context.WithTimeout(vfs.ctx, vfs.opt.PoolAcquireTimeout)
	err := vfs.pool.Warm(warmCtx)
	cancel()
	if err != nil {
		vfs.events.emitMountStatus(MountStatusChanged{Error: fmt.Sprintf("mount failed: %v", err)})
		return fmt.Errorf("mount: %w", err)
	}

	// Pre-fetch the root listing so the first FindFiles("/") is
	// served warm.  A failure here does not fail the mount - the
	// first listing returns a provisional result and retriggers.
	if vfs.opt.PrefetchRoot {
		ch := vfs.refreshListing("/")
		timer := time.NewTimer(vfs.opt.RootRefreshTimeout)
		select {
		case <-ch:
		case <-timer.C:
			fs.Logf(vfs, "root pre-fetch did not finish in %v, continuing", vfs.opt.RootRefreshTimeout)
		}
		timer.Stop()
	}

	if err := host.Mount(mountpoint, vfs); err != nil {
		vfs.events.emitMountStatus(MountStatusChanged{Error: fmt.Sprintf("mount failed: %v", err)})
		return fmt.Errorf("mount: %w", err)
	}
	vfs.mu.Lock()
	vfs.mounted = true
	vfs.mu.Unlock()
	vfs.events.emitMountStatus(MountStatusChanged{IsMounted: true, MountPoint: mountpoint})
	fs.Infof(vfs, "mounted at %q", mountpoint)
	return nil
}

// Wait blocks until the host tears the mount down
func (vfs *VFS) Wait() error {
	vfs.mu.Lock()
	host := vfs.host
	vfs.mu.Unlock()
	if host == nil {
		return nil
	}
	return host.Wait()
}

// Unmount detaches the mount point, flushes what it can and shuts
// everything down.
func (vfs *VFS) Unmount() error {
	vfs.mu.Lock()
	host := vfs.host
	mountPoint := vfs.mountPoint
	wasMounted := vfs.mounted
	vfs.mounted = false
	vfs.mu.Unlock()

	var err error
	if host != nil && wasMounted {
		err = host.Unmount()
	}

	// Push any dirty buffers that never saw a Cleanup, then let the
	// queue drain under a deadline.
	for _, key := range vfs.dirtyPaths() {
		vfs.scheduleUpload(key)
	}
	if !vfs.queue.Drain(vfs.opt.DrainTimeout) {
		for _, key := range vfs.dirtyPaths() {
			fs.Errorf(vfs, "unmount: %q still dirty, changes not uploaded", key)
			vfs.activity.Append(activity.Record{Op: "SyncFailed", Path: key, Success: false, Error: "unmount before upload completed"})
		}
	}
	vfs.queue.Shutdown()
	vfs.cancel()
	_ = vfs.pool.Close()
	vfs.meta.clear()
	vfs.content.clear()
	vfs.listings.clear()
	vfs.events.emitMountStatus(MountStatusChanged{IsMounted: false, MountPoint: mountPoint})
	fs.Infof(vfs, "unmounted from %q", mountPoint)
	return err
}

// dirtyPaths lists the normalized paths with dirty content
func (vfs *VFS) dirtyPaths() []string {
	vfs.content.mu.Lock()
	defer vfs.content.mu.Unlock()
	var keys []string
	for key, b := range vfs.content.buffers {
		if b.dirty {
			keys = append(keys, key)
		}
	}
	return keys
}

// record writes one operation outcome to the activity log and the
// event stream
func (vfs *VFS) record(op, path string, start time.Time, err error, size int64) {
	rec := activity.Record{
		Op:         op,
		Path:       path,
		Success:    err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Size:       size,
		User:       vfs.conn.User,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	vfs.activity.Append(rec)
	vfs.events.emitFileOp(FileOperation{Path: path, Op: op, Success: err == nil, Error: rec.Error})
}

// resolve follows rename aliases so operations arriving on a stale
// handle path land on the node's current key
func (vfs *VFS) resolve(key string) string {
	vfs.aliasMu.Lock()
	defer vfs.aliasMu.Unlock()
	for i := 0; i < len(vfs.aliases); i++ {
		next, ok := vfs.aliases[key]
		if !ok {
			break
		}
		key = next
	}
	return key
}

// addAlias records that oldKey is now newKey, re-pointing any chain
// that ended at oldKey
func (vfs *VFS) addAlias(oldKey, newKey string) {
	vfs.aliasMu.Lock()
	defer vfs.aliasMu.Unlock()
	delete(vfs.aliases, newKey) // the new key is live again
	vfs.aliases[oldKey] = newKey
}

// dropAliasesTo forgets aliases ending at key, for delete
func (vfs *VFS) dropAliasesTo(key string) {
	vfs.aliasMu.Lock()
	defer vfs.aliasMu.Unlock()
	for from, to := range vfs.aliases {
		if to == key {
			delete(vfs.aliases, from)
		}
	}
	delete(vfs.aliases, key)
}

// wirePathOf returns the path to use on the wire for a normalized or
// host path: the display casing if the node is known, the path as
// given otherwise.
func (vfs *VFS) wirePathOf(p string) string {
	if n, ok := vfs.meta.statFile(p); ok {
		return ToWire(n.Path)
	}
	if n, ok := vfs.meta.statDir(p); ok {
		return ToWire(n.Path)
	}
	return ToWire(p)
}

// ------------------------------------------------------------
// Listing refresh

// refreshListing starts (or joins) the single-flight refresh of dir
// and returns the channel its result arrives on.
func (vfs *VFS) refreshListing(dir string) <-chan singleflight.Result {
	key := vfs.meta.key(dir)
	wirePath := vfs.wirePathOf(dir)
	return vfs.listings.refresh(key, func() (*Listing, error) {
		var entries []ftpc.FileInfo
		start := time.Now()
		t := vfs.queue.Enqueue(vfs.ctx, "List "+key, vfs.opt.ListingTimeout, func(ctx context.Context, s ftpc.Session) error {
			var err error
			entries, err = s.List(wirePath)
			return err
		})
		if err := t.Wait(vfs.ctx); err != nil {
			// previous cache entry is retained, stale but useful
			vfs.record("List", key, start, err, 0)
			return nil, err
		}
		conflicts := vfs.meta.mergeListing(key, entries, vfs.uploadInFlight)
		for _, c := range conflicts {
			fs.Logf(vfs, "listing conflict on %q: %s", c.Path, c.Reason)
			vfs.activity.Append(activity.Record{Op: "Conflict", Path: c.Path, Success: false, Error: c.Reason})
		}
		l := vfs.listings.put(key, entries)
		vfs.record("List", key, start, nil, int64(len(entries)))
		return l, nil
	})
}

// uploadInFlight reports whether an upload for the normalized path
// is currently running
func (vfs *VFS) uploadInFlight(key string) bool {
	vfs.uploadMu.Lock()
	defer vfs.uploadMu.Unlock()
	_, ok := vfs.uploads[key]
	return ok
}

// ------------------------------------------------------------
// Background stat (GetFileInformation miss path)

// scheduleStat fetches attributes for p in the background, once per
// path at a time.
func (vfs *VFS) scheduleStat(p string) {
	key := vfs.meta.key(p)
	vfs.statMu.Lock()
	if vfs.statInFlight[key] {
		vfs.statMu.Unlock()
		return
	}
	vfs.statInFlight[key] = true
	vfs.statMu.Unlock()

	wirePath := vfs.wirePathOf(p)
	var info *ftpc.FileInfo
	start := time.Now()
	t := vfs.queue.Enqueue(vfs.ctx, "Stat "+key, vfs.opt.StatTimeout, func(ctx context.Context, s ftpc.Session) error {
		var err error
		info, err = s.Stat(wirePath)
		return err
	})
	go func() {
		err := t.Wait(context.Background())
		vfs.statMu.Lock()
		delete(vfs.statInFlight, key)
		vfs.statMu.Unlock()
		if err != nil {
			vfs.record("Stat", key, start, err, 0)
			return
		}
		if info == nil {
			return // not on the server, leave the view alone
		}
		if info.IsDir {
			vfs.meta.addDir(DirNode{Name: baseOf(wirePath), Path: wirePath, ModTime: info.ModTime})
		} else {
			if _, ok := vfs.meta.statFile(key); ok {
				vfs.meta.updateFile(key, func(n *FileNode) {
					if !n.Dirty && !n.New {
						n.Size = info.Size
						n.ModTime = info.ModTime
					}
				})
			} else {
				vfs.meta.addFile(FileNode{Name: baseOf(wirePath), Path: wirePath, Size: info.Size, ModTime: info.ModTime})
			}
		}
	}()
}

// ------------------------------------------------------------
// Download (open-for-read path)

// download fetches the content of p into the content cache,
// single-flight per path.  The wait is bounded by DownloadTimeout
// (plus a small slack); on expiry it returns fs.ErrorTimeout.
func (vfs *VFS) download(p string) error {
	key := vfs.meta.key(p)
	wirePath := vfs.wirePathOf(p)
	ch := vfs.downloads.DoChan(key, func() (interface{}, error) {
		var buf bytes.Buffer
		start := time.Now()
		t := vfs.queue.Enqueue(vfs.ctx, "Download "+key, vfs.opt.DownloadTimeout, func(ctx context.Context, s ftpc.Session) error {
			rc, err := s.Download(wirePath)
			if err != nil {
				return err
			}
			_, err = buf.ReadFrom(rc)
			if closeErr := rc.Close(); err == nil {
				err = closeErr
			}
			return err
		})
		err := t.Wait(vfs.ctx)
		vfs.record("Download", key, start, err, int64(buf.Len()))
		if err != nil {
			return nil, err
		}
		vfs.content.install(key, buf.Bytes())
		return nil, nil
	})

	timer := time.NewTimer(vfs.opt.DownloadTimeout + 100*time.Millisecond)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.Err
	case <-timer.C:
		return fs.ErrorTimeout
	}
}

// ------------------------------------------------------------
// Upload on close

// scheduleUpload uploads the content buffer of p.  It does not check
// whether the buffer is dirty or the node new - callers decide that.
// At most one upload per path is in flight; a
// second request while one runs coalesces into a re-upload once the
// first completes.
func (vfs *VFS) scheduleUpload(p string) {
	key := vfs.meta.key(p)
	vfs.uploadMu.Lock()
	if f, ok := vfs.uploads[key]; ok {
		f.again = true
		vfs.uploadMu.Unlock()
		return
	}
	vfs.uploads[key] = &uploadFlight{}
	vfs.uploadMu.Unlock()
	vfs.startUpload(key)
}

// endUploadFlight closes the flight for key and reports whether a
// re-upload was requested while it ran
func (vfs *VFS) endUploadFlight(key string) (again bool) {
	vfs.uploadMu.Lock()
	defer vfs.uploadMu.Unlock()
	if f, ok := vfs.uploads[key]; ok {
		again = f.again
		delete(vfs.uploads, key)
	}
	return again
}

// startUpload snapshots the buffer for key and enqueues the upload.
// Call only with the flight for key held.
func (vfs *VFS) startUpload(key string) {
	node, ok := vfs.meta.statFile(key)
	if !ok {
		vfs.endUploadFlight(key)
		return
	}
	if node.New {
		// a created-and-never-written file still uploads as empty
		vfs.content.install(key, []byte{})
	}
	data, gen, ok := vfs.content.snapshot(key)
	if !ok {
		vfs.endUploadFlight(key)
		return
	}
	wirePath := ToWire(node.Path)
	vfs.meta.updateFile(key, func(n *FileNode) { n.Pending = true })

	start := time.Now()
	// deadline < 0: uploads are never abandoned part way, only
	// cancelled by shutdown
	t := vfs.queue.Enqueue(vfs.ctx, "Upload "+key, -1, func(ctx context.Context, s ftpc.Session) error {
		if err := mkdirAll(s, parentOf(wirePath)); err != nil {
			return err
		}
		return s.Upload(wirePath, bytes.NewReader(data))
	})
	go func() {
		err := t.Wait(context.Background())
		size := int64(len(data))
		stillDirty := false
		if err != nil {
			// dirty stays set, retried on the next close or unmount
			vfs.meta.updateFile(key, func(n *FileNode) { n.Pending = false })
			vfs.record("Upload", key, start, err, size)
		} else {
			stillDirty = vfs.content.uploadDone(key, gen)
			vfs.meta.updateFile(key, func(n *FileNode) {
				n.New = false
				n.Pending = false
				n.Dirty = stillDirty
				if !stillDirty {
					n.Size = size
				}
				n.missedListings = 0
			})
			vfs.record("Modify", key, start, nil, size)
			sum := sha256.Sum256(data)
			if _, vErr := vfs.versions.Save(key, data, hex.EncodeToString(sum[:])); vErr != nil {
				fs.Errorf(vfs, "version save for %q failed: %v", key, vErr)
			}
			vfs.listings.invalidate(parentOf(key))
		}
		again := vfs.endUploadFlight(key)
		// a coalesced close always re-uploads; a write during a
		// successful upload left the buffer dirty and re-uploads too.
		// A failed upload with no new close waits for the next close.
		if again || (err == nil && stillDirty) {
			if _, ok := vfs.meta.statFile(key); ok {
				vfs.scheduleUpload(key)
			}
		}
	}()
}

// mkdirAll creates wireDir and its missing parents, tolerating
// already-exists answers from the server
func mkdirAll(s ftpc.Session, wireDir string) error {
	if wireDir == "/" || wireDir == "" {
		return nil
	}
	if err := mkdirAll(s, parentOf(wireDir)); err != nil {
		return err
	}
	err := s.Mkdir(wireDir)
	if err == nil || fs.Kind(err) == fs.KindAlreadyExists {
		return nil
	}
	return err
}
