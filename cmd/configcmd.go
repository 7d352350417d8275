package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftpmount/ftpmount/config"
	"github.com/ftpmount/ftpmount/ftpc"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage saved connections",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved connections",
	Args:  cobra.NoArgs,
	RunE: func(command *cobra.Command, args []string) error {
		store, err := config.Load(configPath)
		if err != nil {
			return err
		}
		for _, name := range store.List() {
			ci, err := store.Get(name)
			if err != nil {
				fmt.Printf("%s (unreadable: %v)\n", name, err)
				continue
			}
			fmt.Printf("%-20s %s\n", name, ci.URL())
		}
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save name",
	Short: "Save a connection under a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		if flagHost == "" {
			return fmt.Errorf("--host is required")
		}
		store, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ci := &ftpc.ConnectionInfo{Name: args[0]}
		applyConnectionFlags(ci)
		return store.Set(ci)
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete name",
	Short: "Delete a saved connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		store, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

func init() {
	Root.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configSaveCmd, configDeleteCmd)
	addConnectionFlags(configSaveCmd)
}
