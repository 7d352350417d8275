package vfs

import (
	"github.com/ftpmount/ftpmount/fs"
)

// Status is what a driver callback returns.  It is deliberately a
// small fixed set - the translation to host specific codes (NTSTATUS,
// errno) is the mount adapter's business.
type Status int

// Callback statuses
const (
	StatusSuccess Status = iota
	StatusObjectNameNotFound
	StatusObjectNameCollision
	StatusAccessDenied
	StatusIoTimeout
	StatusNotImplemented
	StatusInternal
)

// String converts the status to a human readable string
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusObjectNameNotFound:
		return "ObjectNameNotFound"
	case StatusObjectNameCollision:
		return "ObjectNameCollision"
	case StatusAccessDenied:
		return "AccessDenied"
	case StatusIoTimeout:
		return "IoTimeout"
	case StatusNotImplemented:
		return "NotImplemented"
	}
	return "Internal"
}

// Ok reports whether the status is a success
func (s Status) Ok() bool { return s == StatusSuccess }

// statusFromErr translates an error to the status a callback should
// return
func statusFromErr(err error) Status {
	switch fs.Kind(err) {
	case fs.KindSuccess:
		return StatusSuccess
	case fs.KindNotFound:
		return StatusObjectNameNotFound
	case fs.KindAlreadyExists:
		return StatusObjectNameCollision
	case fs.KindPermissionDenied:
		return StatusAccessDenied
	case fs.KindIoTimeout, fs.KindCancelled:
		return StatusIoTimeout
	case fs.KindUnsupported:
		return StatusNotImplemented
	}
	return StatusInternal
}
