// Package version keeps the content history of files synced through
// the mount.  Each successful upload saves a version; identical
// content for the same path is stored once.
//
// The store is backed by badger with three key spaces: an index entry
// per (path, hash) holding version metadata, the same metadata keyed
// by version id, and one blob per content hash.
package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ftpmount/ftpmount/fs"
)

// Version is the metadata of one saved content version
type Version struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// Store is the version history contract the virtual filesystem saves
// into on every successful upload.
type Store interface {
	// Save records content for path.  Saving the same (path, hash)
	// again returns the existing version without writing the blob
	// twice.
	Save(path string, content []byte, hash string) (Version, error)
	// List returns the versions saved for path, newest first.
	List(path string) ([]Version, error)
	// Get returns the content of a version by id.
	Get(id string) ([]byte, error)
	// Rollback returns a version and its content so the caller can
	// write it back through the mount.
	Rollback(id string) (Version, []byte, error)
	Close() error
}

// key layout
const (
	indexPrefix = "v:" // v:<path>:<hash> -> Version JSON
	idPrefix    = "i:" // i:<id>          -> Version JSON
	blobPrefix  = "b:" // b:<hash>        -> content
)

func indexKey(path, hash string) []byte { return []byte(indexPrefix + path + ":" + hash) }
func idKey(id string) []byte            { return []byte(idPrefix + id) }
func blobKey(hash string) []byte        { return []byte(blobPrefix + hash) }

type store struct {
	db *badger.DB
}

// Open opens or creates a Store in dir
func Open(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	return &store{db: db}, nil
}

// Save implements Store.Save
func (s *store) Save(path string, content []byte, hash string) (Version, error) {
	var v Version
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(path, hash))
		if err == nil {
			// deduplicate on (path, hash)
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		v = Version{
			ID:      uuid.New().String(),
			Path:    path,
			Hash:    hash,
			Size:    int64(len(content)),
			SavedAt: time.Now(),
		}
		meta, err := json.Marshal(&v)
		if err != nil {
			return err
		}
		if err := txn.Set(indexKey(path, hash), meta); err != nil {
			return err
		}
		if err := txn.Set(idKey(v.ID), meta); err != nil {
			return err
		}
		// the blob may exist already if another path has the same content
		if _, err := txn.Get(blobKey(hash)); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(blobKey(hash), content)
		} else if err != nil {
			return err
		}
		return nil
	})
	return v, err
}

// List implements Store.List
func (s *store) List(path string) ([]Version, error) {
	var versions []Version
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(indexPrefix + path + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v Version
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first
	sort.Slice(versions, func(i, j int) bool { return versions[i].SavedAt.After(versions[j].SavedAt) })
	return versions, nil
}

// getVersion loads Version metadata by id
func (s *store) getVersion(id string) (Version, error) {
	var v Version
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fs.ErrorObjectNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	return v, err
}

// Get implements Store.Get
func (s *store) Get(id string) ([]byte, error) {
	v, err := s.getVersion(id)
	if err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(v.Hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fs.ErrorObjectNotFound
		}
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	return content, err
}

// Rollback implements Store.Rollback
func (s *store) Rollback(id string) (Version, []byte, error) {
	v, err := s.getVersion(id)
	if err != nil {
		return Version{}, nil, err
	}
	content, err := s.Get(id)
	if err != nil {
		return Version{}, nil, err
	}
	return v, content, nil
}

// Close implements Store.Close
func (s *store) Close() error {
	return s.db.Close()
}

// discard is a Store that keeps nothing
type discard struct{}

func (discard) Save(path string, content []byte, hash string) (Version, error) {
	return Version{Path: path, Hash: hash, Size: int64(len(content)), SavedAt: time.Now()}, nil
}
func (discard) List(string) ([]Version, error) { return nil, nil }
func (discard) Get(string) ([]byte, error)     { return nil, fs.ErrorObjectNotFound }
func (discard) Rollback(string) (Version, []byte, error) {
	return Version{}, nil, fs.ErrorObjectNotFound
}
func (discard) Close() error { return nil }

// Discard returns a Store that ignores all saves
func Discard() Store { return discard{} }
