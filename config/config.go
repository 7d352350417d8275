package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Unknwon/goconfig"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/ftpc"
)

// DefaultPath returns where the connection file lives unless
// overridden
func DefaultPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".ftpmount.conf"
	}
	return filepath.Join(home, ".ftpmount", "ftpmount.conf")
}

// Store is the saved-connection manager: connection records keyed by
// name, persisted in an ini file with obscured passwords.
type Store struct {
	mu   sync.Mutex
	path string
	file *goconfig.ConfigFile
}

// Load opens the store at path, creating an empty file if none
// exists
func Load(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0600); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	file, err := goconfig.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %q: %w", path, err)
	}
	return &Store{path: path, file: file}, nil
}

// save writes the file out.  Call with the lock held.
func (s *Store) save() error {
	return goconfig.SaveConfigFile(s.file, s.path)
}

// List returns the saved connection names
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, section := range s.file.GetSectionList() {
		if section != goconfig.DEFAULT_SECTION {
			names = append(names, section)
		}
	}
	return names
}

// Get loads the connection record called name
func (s *Store) Get(name string) (*ftpc.ConnectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, err := s.file.GetSection(name)
	if err != nil {
		return nil, fs.ErrorObjectNotFound
	}
	ci := &ftpc.ConnectionInfo{Name: name}
	ci.Host = section["host"]
	if portStr := section["port"]; portStr != "" {
		if ci.Port, err = strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("config: bad port for %q: %w", name, err)
		}
	}
	ci.User = section["user"]
	if pass := section["pass"]; pass != "" {
		if ci.Pass, err = Reveal(pass); err != nil {
			return nil, fmt.Errorf("config: %q: %w", name, err)
		}
	}
	ci.TLS = section["tls"] == "true"
	ci.ExplicitTLS = section["explicit_tls"] == "true"
	ci.SkipVerifyTLSCert = section["no_check_certificate"] == "true"
	return ci, nil
}

// Set saves (or overwrites) the connection record under ci.Name
func (s *Store) Set(ci *ftpc.ConnectionInfo) error {
	if ci.Name == "" {
		return fmt.Errorf("config: connection needs a name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := ci.Name
	s.file.DeleteSection(name)
	s.file.SetValue(name, "host", ci.Host)
	if ci.Port != 0 {
		s.file.SetValue(name, "port", strconv.Itoa(ci.Port))
	}
	if ci.User != "" {
		s.file.SetValue(name, "user", ci.User)
	}
	if ci.Pass != "" {
		obscured, err := Obscure(ci.Pass)
		if err != nil {
			return err
		}
		s.file.SetValue(name, "pass", obscured)
	}
	if ci.TLS {
		s.file.SetValue(name, "tls", "true")
	}
	if ci.ExplicitTLS {
		s.file.SetValue(name, "explicit_tls", "true")
	}
	if ci.SkipVerifyTLSCert {
		s.file.SetValue(name, "no_check_certificate", "true")
	}
	return s.save()
}

// Delete removes the record called name.  Deleting a missing record
// is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.DeleteSection(name)
	return s.save()
}
