// Package cli implements the livedesk command line.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/livedesk/livedesk/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _     _           ____            _\n" +
		" | |   (_)_   _____|  _ \\  ___  ___| | __\n" +
		" | |   | \\ \\ / / _ \\ | | |/ _ \\/ __| |/ /\n" +
		" | |___| |\\ V /  __/ |_| |  __/\\__ \\   <\n" +
		" |_____|_| \\_/ \\___|____/ \\___||___/_|\\_\\\n"
)

var rootCmd = &cobra.Command{
	Use:   "livedesk",
	Short: "LiveDesk - live chat session orchestration",
	Long:  color.CyanString(logo) + "\nSession orchestration and specialist assignment for live support chat.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}
