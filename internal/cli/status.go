package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status of a running gateway",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	addr := cfg.Gateway.Addr
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/queue")
	if err != nil {
		color.Red("Gateway unreachable at %s", addr)
		return err
	}
	defer resp.Body.Close()

	var status chat.QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode queue status: %w", err)
	}

	color.Cyan("LiveDesk queue")
	fmt.Printf("  waiting sessions: %d\n", status.Length)
	fmt.Printf("  estimated wait:   %.0fs\n", status.AverageWaitTime)
	return nil
}
