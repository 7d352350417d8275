package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/ftpmount/ftpmount/activity"
	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/mount"
	"github.com/ftpmount/ftpmount/version"
	"github.com/ftpmount/ftpmount/vfs"
	"github.com/ftpmount/ftpmount/vfs/vfscommon"
)

var (
	vfsOpt = vfscommon.Opt

	flagMetricsAddr  string
	flagActivityPath string
	flagVersionsDir  string
	flagNoVersions   bool
)

// stateDir returns ~/.ftpmount or a relative fallback
func stateDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".ftpmount"
	}
	return filepath.Join(home, ".ftpmount")
}

var mountCmd = &cobra.Command{
	Use:   "mount connection|ftp://host mountpoint",
	Short: "Mount a remote FTP server at a local mount point",
	Long: `Mount the remote server at the given mount point and serve it until
interrupted.  The first argument is a saved connection name, an
ftp:// or ftps:// URL, or a bare host name combined with the
connection flags.`,
	Args: cobra.ExactArgs(2),
	RunE: func(command *cobra.Command, args []string) error {
		ci, err := resolveConnection(args[0])
		if err != nil {
			return err
		}
		mountpoint := args[1]

		logPath := flagActivityPath
		if logPath == "" {
			logPath = filepath.Join(stateDir(), "activity.jsonl")
		}
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
			return err
		}
		log, err := activity.New(logPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Close() }()

		store := version.Discard()
		if !flagNoVersions {
			dir := flagVersionsDir
			if dir == "" {
				dir = filepath.Join(stateDir(), "versions")
			}
			store, err = version.Open(dir)
			if err != nil {
				return err
			}
		}
		defer func() { _ = store.Close() }()

		v := vfs.New(ci, &vfsOpt, log, store)
		if flagMetricsAddr != "" {
			go serveMetrics(flagMetricsAddr, v)
		}
		if err := v.Mount(mount.New(), mountpoint); err != nil {
			return err
		}

		// unmount cleanly on SIGINT/SIGTERM
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- v.Wait() }()
		select {
		case s := <-sig:
			fs.Infof(nil, "received %v, unmounting", s)
			if err := v.Unmount(); err != nil {
				fs.Errorf(nil, "unmount: %v", err)
			}
			select {
			case err = <-done:
			case <-time.After(10 * time.Second):
				err = fmt.Errorf("timed out waiting for the mount to stop")
			}
		case err = <-done:
			// mount went away underneath us (fusermount -u etc.)
			_ = v.Unmount()
		}
		return err
	},
}

func init() {
	Root.AddCommand(mountCmd)
	addConnectionFlags(mountCmd)
	flags := mountCmd.Flags()
	flags.IntVar(&vfsOpt.PoolMinSize, "pool-min", vfsOpt.PoolMinSize, "Connections kept warm in the pool")
	flags.IntVar(&vfsOpt.PoolMaxSize, "pool-max", vfsOpt.PoolMaxSize, "Maximum simultaneous FTP connections")
	flags.DurationVar(&vfsOpt.PoolAcquireTimeout, "pool-acquire-timeout", vfsOpt.PoolAcquireTimeout, "Maximum wait for a free connection")
	flags.IntVar(&vfsOpt.MaxConcurrency, "max-concurrency", vfsOpt.MaxConcurrency, "Maximum concurrently running remote operations")
	flags.DurationVar(&vfsOpt.DefaultTimeout, "op-timeout", vfsOpt.DefaultTimeout, "Default deadline for remote operations")
	flags.DurationVar(&vfsOpt.ListingTTL, "listing-ttl", vfsOpt.ListingTTL, "How long directory listings stay fresh")
	flags.DurationVar(&vfsOpt.DownloadTimeout, "download-timeout", vfsOpt.DownloadTimeout, "Bounded wait when opening a file for read")
	flags.BoolVar(&vfsOpt.PrefetchRoot, "prefetch-root", vfsOpt.PrefetchRoot, "Fetch the root listing synchronously at mount time")
	flags.BoolVar(&vfsOpt.CaseInsensitive, "case-insensitive", vfsOpt.CaseInsensitive, "Treat paths as case insensitive")
	flags.Int64Var(&vfsOpt.CacheMaxBytes, "cache-max-bytes", vfsOpt.CacheMaxBytes, "Evict clean cached content above this many bytes (0 = unlimited)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. localhost:9100)")
	flags.StringVar(&flagActivityPath, "activity-log", "", "Activity log file (default ~/.ftpmount/activity.jsonl)")
	flags.StringVar(&flagVersionsDir, "versions-dir", "", "Version store directory (default ~/.ftpmount/versions)")
	flags.BoolVar(&flagNoVersions, "no-versions", false, "Disable the version history store")
}
