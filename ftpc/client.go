package ftpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/ftpmount/ftpmount/fs"
)

const defaultConnectTimeout = 15 * time.Second

// serverSession implements Session over a jlaffaye/ftp connection.
type serverSession struct {
	conn     *ftp.ServerConn
	info     *ConnectionInfo
	mlstSeen bool // server supports MLST so Stat can use GetEntry
}

// tlsConfig builds a TLS config for this connection.  Each connection
// gets its own session cache - caches cannot be shared between
// control connections.
func tlsConfig(ci *ConnectionInfo) *tls.Config {
	if !ci.TLS && !ci.ExplicitTLS {
		return nil
	}
	return &tls.Config{
		ServerName:         ci.Host,
		InsecureSkipVerify: ci.SkipVerifyTLSCert,
		ClientSessionCache: tls.NewLRUClientSessionCache(32),
	}
}

// Dial opens a new control connection and logs in.
func Dial(ctx context.Context, ci *ConnectionInfo) (Session, error) {
	if ci.TLS && ci.ExplicitTLS {
		return nil, errors.New("implicit TLS and explicit TLS are mutually incompatible")
	}
	fs.Debugf(ci, "Connecting to FTP server")
	timeout := ci.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}
	conf := tlsConfig(ci)
	if ci.TLS {
		opts = append(opts, ftp.DialWithTLS(conf))
	} else if ci.ExplicitTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(conf))
	}
	if ci.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}
	conn, err := ftp.Dial(ci.Addr(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to make FTP connection to %q: %w", ci.Addr(), err)
	}
	user := ci.User
	if user == "" {
		user = "anonymous"
	}
	if err := conn.Login(user, ci.Pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login to %q failed: %w", ci.Addr(), err)
	}
	return &serverSession{
		conn:     conn,
		info:     ci,
		mlstSeen: conn.IsTimePreciseInList(),
	}, nil
}

// textprotoError returns a *textproto.Error if err contains one or
// nil otherwise
func textprotoError(err error) (errX *textproto.Error) {
	if errors.As(err, &errX) {
		return errX
	}
	return nil
}

// translateErrorFile turns FTP errors into fs errors if possible for a file
func translateErrorFile(err error) error {
	if errX := textprotoError(err); errX != nil {
		switch errX.Code {
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			err = fs.ErrorObjectNotFound
		case ftp.StatusNotAvailable:
			err = fs.ErrorBusy
		case ftp.StatusNotImplemented, ftp.StatusNotImplementedParameter:
			err = fs.ErrorNotImplemented
		}
	}
	return err
}

// translateErrorDir turns FTP errors into fs errors if possible for a directory
func translateErrorDir(err error) error {
	if errX := textprotoError(err); errX != nil {
		switch errX.Code {
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			err = fs.ErrorDirNotFound
		}
	}
	return err
}

// entryToInfo converts an ftp.Entry to a FileInfo
func entryToInfo(entry *ftp.Entry) FileInfo {
	return FileInfo{
		Name:    entry.Name,
		Size:    int64(entry.Size),
		ModTime: entry.Time,
		IsDir:   entry.Type == ftp.EntryTypeFolder,
	}
}

// List implements Session.List
func (s *serverSession) List(dir string) ([]FileInfo, error) {
	entries, err := s.conn.List(dir)
	if err != nil {
		return nil, translateErrorDir(err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		infos = append(infos, entryToInfo(entry))
	}
	return infos, nil
}

// ftpReadCloser wraps the RETR data connection so read errors are
// still visible at Close time.
type ftpReadCloser struct {
	rc  io.ReadCloser
	err error // errors found during read
}

func (f *ftpReadCloser) Read(p []byte) (n int, err error) {
	n, err = f.rc.Read(p)
	if err != nil && err != io.EOF {
		f.err = err // store any errors for Close to examine
	}
	return
}

func (f *ftpReadCloser) Close() error {
	err := f.rc.Close()
	// mask the error if it was caused by a premature close
	if errX := textprotoError(err); errX != nil {
		switch errX.Code {
		case ftp.StatusTransfertAborted, ftp.StatusFileUnavailable, ftp.StatusAboutToSend:
			err = nil
		}
	}
	if f.err != nil {
		return f.err
	}
	return err
}

// Download implements Session.Download
func (s *serverSession) Download(p string) (io.ReadCloser, error) {
	resp, err := s.conn.Retr(p)
	if err != nil {
		return nil, translateErrorFile(err)
	}
	return &ftpReadCloser{rc: resp}, nil
}

// Upload implements Session.Upload
func (s *serverSession) Upload(p string, r io.Reader) error {
	err := s.conn.Stor(p, r)
	// Ignore error 250 here - sent by some servers
	if errX := textprotoError(err); errX != nil {
		switch errX.Code {
		case ftp.StatusRequestedFileActionOK:
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("upload stor: %w", translateErrorFile(err))
	}
	return nil
}

// Delete implements Session.Delete
func (s *serverSession) Delete(p string) error {
	return translateErrorFile(s.conn.Delete(p))
}

// Mkdir implements Session.Mkdir
func (s *serverSession) Mkdir(p string) error {
	err := s.conn.MakeDir(p)
	if errX := textprotoError(err); errX != nil {
		switch errX.Code {
		case ftp.StatusRequestedFileActionOK: // some ftp servers return 250 instead of 257
			err = nil
		case ftp.StatusFileUnavailable: // dir already exists
			err = fs.ErrorDirExists
		case 521: // dir already exists: error number according to RFC 959
			err = fs.ErrorDirExists
		}
	}
	return err
}

// Rmdir implements Session.Rmdir
func (s *serverSession) Rmdir(p string) error {
	return translateErrorDir(s.conn.RemoveDir(p))
}

// Rename implements Session.Rename
func (s *serverSession) Rename(oldPath, newPath string) error {
	return translateErrorFile(s.conn.Rename(oldPath, newPath))
}

// Stat implements Session.Stat
func (s *serverSession) Stat(p string) (*FileInfo, error) {
	if p == "" || p == "/" {
		// the root always exists, synthesize an entry
		return &FileInfo{Name: "/", IsDir: true, ModTime: time.Now()}, nil
	}
	if s.mlstSeen {
		entry, err := s.conn.GetEntry(p)
		if err != nil {
			err = translateErrorFile(err)
			if errors.Is(err, fs.ErrorObjectNotFound) {
				return nil, nil
			}
			if errX := textprotoError(err); errX != nil && errX.Code == ftp.StatusBadArguments {
				// fall through to the LIST path below
			} else {
				return nil, err
			}
		} else if entry != nil {
			info := entryToInfo(entry)
			info.Name = path.Base(p)
			return &info, nil
		}
	}
	// No MLST: list the parent and look for the base name
	dir, base := path.Dir(p), path.Base(p)
	entries, err := s.conn.List(dir)
	if err != nil {
		err = translateErrorDir(err)
		if errors.Is(err, fs.ErrorDirNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.Name == base {
			info := entryToInfo(entry)
			return &info, nil
		}
	}
	return nil, nil
}

// NoOp implements Session.NoOp
func (s *serverSession) NoOp() error {
	return s.conn.NoOp()
}

// Quit implements Session.Quit
func (s *serverSession) Quit() error {
	return s.conn.Quit()
}

// Check the interface is satisfied
var _ Session = (*serverSession)(nil)
