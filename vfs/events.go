package vfs

import (
	"time"
)

// MountStatusChanged is published when the mount comes up or goes
// down
type MountStatusChanged struct {
	IsMounted  bool
	MountPoint string
	Error      string
}

// FileOperation is published for every completed remote operation
type FileOperation struct {
	Path    string
	Op      string
	Success bool
	Error   string
	TS      time.Time
}

const eventBuffer = 64

// events fans the two event streams out to the host UI.  Sends never
// block - a slow or absent consumer loses events rather than stalling
// a callback.
type events struct {
	mountStatus chan MountStatusChanged
	fileOps     chan FileOperation
}

func newEvents() *events {
	return &events{
		mountStatus: make(chan MountStatusChanged, eventBuffer),
		fileOps:     make(chan FileOperation, eventBuffer),
	}
}

func (e *events) emitMountStatus(ev MountStatusChanged) {
	select {
	case e.mountStatus <- ev:
	default:
	}
}

func (e *events) emitFileOp(ev FileOperation) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	select {
	case e.fileOps <- ev:
	default:
	}
}

// MountStatusEvents returns the mount status stream
func (vfs *VFS) MountStatusEvents() <-chan MountStatusChanged {
	return vfs.events.mountStatus
}

// FileOperationEvents returns the per-operation stream
func (vfs *VFS) FileOperationEvents() <-chan FileOperation {
	return vfs.events.fileOps
}
