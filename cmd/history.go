package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftpmount/ftpmount/version"
)

var historyDir string

var versionsCmd = &cobra.Command{
	Use:   "versions path",
	Short: "List the saved versions of a file",
	Long: `Every successful upload saves the file content to the version
store, deduplicated by content hash.  This lists what is held for
one path, newest first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		dir := historyDir
		if dir == "" {
			dir = filepath.Join(stateDir(), "versions")
		}
		store, err := version.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		versions, err := store.List(args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%s  %8d bytes  %s  %s\n", v.SavedAt.Format(time.RFC3339), v.Size, v.ID, v.Hash[:12])
		}
		return nil
	},
}

var versionsCatCmd = &cobra.Command{
	Use:   "cat id",
	Short: "Write the content of a saved version to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		dir := historyDir
		if dir == "" {
			dir = filepath.Join(stateDir(), "versions")
		}
		store, err := version.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		content, err := store.Get(args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(content)
		return err
	},
}

func init() {
	Root.AddCommand(versionsCmd)
	versionsCmd.AddCommand(versionsCatCmd)
	versionsCmd.PersistentFlags().StringVar(&historyDir, "versions-dir", "", "Version store directory (default ~/.ftpmount/versions)")
}
