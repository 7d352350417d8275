package fs

import (
	"context"
	"errors"
	"net"
	"net/textproto"
)

// Error describes low level errors in a cross platform way.
type Error string

// Error renders the error as a string
func (e Error) Error() string { return string(e) }

// Sentinel errors returned by the VFS and the wire client.  Compare
// with errors.Is - they may arrive wrapped.
var (
	ErrorObjectNotFound   = Error("object not found")
	ErrorDirNotFound      = Error("directory not found")
	ErrorObjectExists     = Error("object already exists")
	ErrorDirExists        = Error("directory already exists")
	ErrorPermissionDenied = Error("permission denied")
	ErrorTimeout          = Error("operation timed out")
	ErrorBusy             = Error("resource busy")
	ErrorCancelled        = Error("operation cancelled")
	ErrorNotImplemented   = Error("optional feature not implemented")
	ErrorIsFile           = Error("is a file not a directory")
	ErrorIsDir            = Error("is a directory not a file")
	ErrorPoolExhausted    = Error("connection pool exhausted")
	ErrorQueueStopped     = Error("operation queue stopped")
)

// ErrKind classifies an error into one of a fixed set of kinds for
// reporting and for translation into driver statuses.
type ErrKind byte

// Error kinds
const (
	KindSuccess ErrKind = iota
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	KindIoTimeout
	KindNetworkError
	KindProtocolError
	KindBusy
	KindCancelled
	KindUnsupported
	KindInternal
)

// String converts the kind to a human readable string
func (k ErrKind) String() string {
	switch k {
	case KindSuccess:
		return "Success"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindIoTimeout:
		return "IoTimeout"
	case KindNetworkError:
		return "NetworkError"
	case KindProtocolError:
		return "ProtocolError"
	case KindBusy:
		return "Busy"
	case KindCancelled:
		return "Cancelled"
	case KindUnsupported:
		return "Unsupported"
	}
	return "Internal"
}

// Kind classifies err.  nil maps to KindSuccess, anything
// unrecognised to KindInternal.
func Kind(err error) ErrKind {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, ErrorObjectNotFound), errors.Is(err, ErrorDirNotFound):
		return KindNotFound
	case errors.Is(err, ErrorObjectExists), errors.Is(err, ErrorDirExists):
		return KindAlreadyExists
	case errors.Is(err, ErrorPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrorTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindIoTimeout
	case errors.Is(err, ErrorCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrorBusy), errors.Is(err, ErrorPoolExhausted):
		return KindBusy
	case errors.Is(err, ErrorNotImplemented):
		return KindUnsupported
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindIoTimeout
		}
		return KindNetworkError
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return KindProtocolError
	}
	return KindInternal
}
