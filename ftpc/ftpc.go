// Package ftpc implements the FTP wire client used by the virtual
// filesystem.  It wraps a single FTP control connection - pooling and
// concurrency are the caller's business (see lib/connpool).
package ftpc

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ConnectionInfo holds everything needed to dial an FTP or FTPS
// server.
type ConnectionInfo struct {
	Name              string // connection name, for display only
	Host              string
	Port              int
	User              string
	Pass              string
	TLS               bool // implicit FTPS
	ExplicitTLS       bool // explicit FTPS (AUTH TLS)
	SkipVerifyTLSCert bool
	DisableEPSV       bool
	ConnectTimeout    time.Duration
}

// Addr returns the dial address host:port
func (ci *ConnectionInfo) Addr() string {
	port := ci.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", ci.Host, port)
}

// URL returns a display URL for the connection
func (ci *ConnectionInfo) URL() string {
	protocol := "ftp://"
	if ci.TLS {
		protocol = "ftps://"
	}
	return protocol + ci.Addr()
}

// String implements fmt.Stringer for logging
func (ci *ConnectionInfo) String() string {
	if ci.Name != "" {
		return ci.Name
	}
	return ci.URL()
}

// FileInfo is the metadata known about a remote file or directory.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Session is one FTP control connection.  All paths are in wire form:
// forward slash separated, case preserved, absolute from the server
// root.
//
// A Session must not be used from two goroutines at once.
type Session interface {
	// List returns the entries of the directory at path.  The
	// server's own "." and ".." entries are filtered out.
	List(path string) ([]FileInfo, error)
	// Download opens path for reading.  The returned ReadCloser
	// must be closed before the Session is used again.
	Download(path string) (io.ReadCloser, error)
	// Upload stores the contents of r at path.
	Upload(path string, r io.Reader) error
	// Delete removes the file at path.
	Delete(path string) error
	// Mkdir creates the directory at path.
	Mkdir(path string) error
	// Rmdir removes the empty directory at path.
	Rmdir(path string) error
	// Rename moves oldPath to newPath (RNFR/RNTO).
	Rename(oldPath, newPath string) error
	// Stat looks a single path up.  It returns (nil, nil) if the
	// path does not exist.
	Stat(path string) (*FileInfo, error)
	// NoOp checks the control connection is alive.
	NoOp() error
	// Quit closes the connection.
	Quit() error
}

// Dialer makes new Sessions.  The connection pool calls this when it
// needs to grow.
type Dialer func(ctx context.Context) (Session, error)
