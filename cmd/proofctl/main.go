// Command proofctl drives both ends of the capture pairing flow from a
// terminal: initiate shows the pairing code and streams captures, capture
// plays the phone and uploads files into a session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proof-capture-app/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "proofctl",
	Short:        "Pair a capture device with a session and collect proof images",
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the proof config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.Save(configPath, config.Defaults()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
