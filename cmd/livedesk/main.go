// Package main is the entry point for the livedesk CLI.
package main

import (
	"os"

	"github.com/livedesk/livedesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
