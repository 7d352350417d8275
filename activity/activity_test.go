package activity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndQuery(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	log.Append(Record{Op: "List", Path: "/dir", Success: true})
	log.Append(Record{Op: "Upload", Path: "/dir/a.txt", Success: false, Error: "permission denied"})
	log.Append(Record{Op: "Delete", Path: "/x.txt", Success: true})

	all := log.Query(Filter{})
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, "Delete", all[0].Op)
	assert.False(t, all[0].TS.IsZero(), "Append must stamp records")

	failures := log.Query(Filter{FailuresOnly: true})
	require.Len(t, failures, 1)
	assert.Equal(t, "/dir/a.txt", failures[0].Path)

	byPath := log.Query(Filter{PathPrefix: "/dir"})
	assert.Len(t, byPath, 2)

	limited := log.Query(Filter{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, "Delete", limited[0].Op)
}

func TestQuerySince(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	log.Append(Record{Op: "Old", TS: time.Now().Add(-time.Hour)})
	log.Append(Record{Op: "New", TS: time.Now()})

	recent := log.Query(Filter{Since: time.Now().Add(-time.Minute)})
	require.Len(t, recent, 1)
	assert.Equal(t, "New", recent[0].Op)
}

func TestRingWraps(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	for i := 0; i < defaultRingSize+10; i++ {
		log.Append(Record{Op: "Tick"})
	}
	assert.Len(t, log.Query(Filter{}), defaultRingSize)
}

func TestExport(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	defer func() { _ = log.Close() }()
	log.Append(Record{Op: "List", Path: "/"})
	log.Append(Record{Op: "Modify", Path: "/a"})

	var buf bytes.Buffer
	require.NoError(t, log.Export(&buf))
	scanner := bufio.NewScanner(&buf)
	var ops []string
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ops = append(ops, rec.Op)
	}
	// export is oldest first
	assert.Equal(t, []string{"List", "Modify"}, ops)
}

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	log, err := New(path)
	require.NoError(t, err)
	log.Append(Record{Op: "Upload", Path: "/a.txt", Success: true})
	require.NoError(t, log.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &rec))
	assert.Equal(t, "Upload", rec.Op)
}
