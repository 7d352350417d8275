// Package activity records what the virtual filesystem did: one
// record per operation, queryable in memory and exportable as JSON
// lines.
package activity

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Record is one logged operation
type Record struct {
	TS         time.Time `json:"ts"`
	Op         string    `json:"op"`
	Path       string    `json:"path"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Size       int64     `json:"size,omitempty"`
	User       string    `json:"user,omitempty"`
}

// Filter selects records for Query.  Zero values match everything.
type Filter struct {
	Op           string
	PathPrefix   string
	FailuresOnly bool
	Since        time.Time
	Limit        int
}

// Log is the activity log contract the virtual filesystem writes to
type Log interface {
	Append(r Record)
	Query(f Filter) []Record
	Export(w io.Writer) error
	Close() error
}

const defaultRingSize = 4096

// ring is an in-memory Log with optional append-only JSONL
// persistence.
type ring struct {
	mu      sync.Mutex
	records []Record
	next    int
	full    bool
	file    *os.File
	enc     *json.Encoder
}

// New creates a Log holding the most recent defaultRingSize records.
// If path is not empty every record is also appended to the JSONL
// file there.
func New(path string) (Log, error) {
	r := &ring{records: make([]Record, defaultRingSize)}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		r.file = f
		r.enc = json.NewEncoder(f)
	}
	return r, nil
}

// Append implements Log.Append
func (r *ring) Append(rec Record) {
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
	if r.enc != nil {
		_ = r.enc.Encode(&rec)
	}
}

// inOrder returns the ring contents oldest first.  Call with the
// lock held.
func (r *ring) inOrder() []Record {
	if !r.full {
		return r.records[:r.next]
	}
	out := make([]Record, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

// Query implements Log.Query.  Results are newest first.
func (r *ring) Query(f Filter) []Record {
	r.mu.Lock()
	all := r.inOrder()
	r.mu.Unlock()
	var out []Record
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if f.Op != "" && rec.Op != f.Op {
			continue
		}
		if f.PathPrefix != "" && !strings.HasPrefix(rec.Path, f.PathPrefix) {
			continue
		}
		if f.FailuresOnly && rec.Success {
			continue
		}
		if !f.Since.IsZero() && rec.TS.Before(f.Since) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Export implements Log.Export, writing the ring contents oldest
// first as JSON lines.
func (r *ring) Export(w io.Writer) error {
	r.mu.Lock()
	all := r.inOrder()
	r.mu.Unlock()
	enc := json.NewEncoder(w)
	for i := range all {
		if err := enc.Encode(&all[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Log.Close
func (r *ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.enc = nil
		return err
	}
	return nil
}

// discard is a Log that drops everything
type discard struct{}

func (discard) Append(Record)          {}
func (discard) Query(Filter) []Record  { return nil }
func (discard) Export(io.Writer) error { return nil }
func (discard) Close() error           { return nil }

// Discard returns a Log that ignores all records
func Discard() Log { return discard{} }
