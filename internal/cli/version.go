package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the livedesk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livedesk %s\n", version)
	},
}
