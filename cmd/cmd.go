// Package cmd implements the ftpmount command line
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ftpmount/ftpmount/fs"
)

// Root is the main ftpmount command
var Root = &cobra.Command{
	Use:   "ftpmount",
	Short: "Mount FTP and FTPS servers as a local filesystem",
	Long: `ftpmount mounts a remote FTP or FTPS server as a local filesystem
so unmodified applications can open, edit, create and delete remote
files as if they were local.

Remote operations run asynchronously against a pool of FTP
connections; file content is cached in memory and written back to
the server when files are closed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	verbose    int
	configPath string
)

func init() {
	Root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Print lots more stuff (repeat for more)")
	Root.PersistentFlags().StringVar(&configPath, "config", "", "Config file to use (default ~/.ftpmount/ftpmount.conf)")
	cobra.OnInitialize(func() {
		switch {
		case verbose >= 2:
			fs.SetLogLevel(fs.LogLevelDebug)
		case verbose == 1:
			fs.SetLogLevel(fs.LogLevelInfo)
		}
	})
}

// Main runs the root command and exits nonzero on error
func Main() {
	if err := Root.Execute(); err != nil {
		fs.Errorf(nil, "%v", err)
		os.Exit(1)
	}
}
