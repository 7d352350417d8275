// Package vfscommon holds the options for the virtual filesystem so
// they can be shared between the vfs, mount and cmd packages.
package vfscommon

import (
	"runtime"
	"time"
)

// Options is the configuration of the virtual filesystem core.
type Options struct {
	// Connection pool
	PoolMinSize        int
	PoolMaxSize        int
	PoolAcquireTimeout time.Duration
	PoolIdleTimeout    time.Duration

	// Operation queue
	MaxConcurrency int
	DefaultTimeout time.Duration

	// Listing cache
	ListingTTL     time.Duration // interactively browsed directories
	RootListingTTL time.Duration // the mount root after pre-fetch
	ListingTimeout time.Duration // deadline for one LIST

	// Per operation deadlines
	DownloadTimeout    time.Duration // open-for-read bounded wait
	StatTimeout        time.Duration
	DeleteTimeout      time.Duration
	RenameTimeout      time.Duration
	RootRefreshTimeout time.Duration // synchronous pre-fetch at mount

	// Behaviour
	PrefetchRoot    bool
	CaseInsensitive bool
	CacheMaxBytes   int64         // content cache cap, 0 = unbounded; only clean buffers are evicted
	DrainTimeout    time.Duration // wait for pending uploads at unmount
}

// Opt is the default options, modified by the command line flags
var Opt = Options{
	PoolMinSize:        2,
	PoolMaxSize:        8,
	PoolAcquireTimeout: 30 * time.Second,
	PoolIdleTimeout:    60 * time.Second,
	MaxConcurrency:     8,
	DefaultTimeout:     30 * time.Second,
	ListingTTL:         60 * time.Second,
	RootListingTTL:     5 * time.Minute,
	ListingTimeout:     10 * time.Second,
	DownloadTimeout:    30 * time.Second,
	StatTimeout:        5 * time.Second,
	DeleteTimeout:      10 * time.Second,
	RenameTimeout:      30 * time.Second,
	RootRefreshTimeout: 5 * time.Second,
	PrefetchRoot:       true,
	CaseInsensitive:    caseInsensitiveDefault(),
	CacheMaxBytes:      0,
	DrainTimeout:       30 * time.Second,
}

// caseInsensitiveDefault returns the path case policy of the host OS
func caseInsensitiveDefault() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	}
	return false
}
