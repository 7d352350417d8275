package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at link time
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number",
	Args:  cobra.NoArgs,
	Run: func(command *cobra.Command, args []string) {
		fmt.Printf("ftpmount %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	Root.AddCommand(versionCmd)
}
