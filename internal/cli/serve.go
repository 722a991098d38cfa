package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/livedesk/livedesk/internal/analytics"
	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/config"
	"github.com/livedesk/livedesk/internal/gateway"
	"github.com/livedesk/livedesk/internal/notify"
	"github.com/livedesk/livedesk/internal/orchestrator"
	"github.com/livedesk/livedesk/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat orchestration gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	color.Cyan(logo)
	fmt.Println("Starting LiveDesk gateway...")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	durable, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer durable.Close()

	var realtime store.RealtimePresenceStore
	if cfg.Realtime.Addr != "" {
		rs, err := store.OpenRedis(ctx, cfg.Realtime.Addr, cfg.Realtime.DB)
		if err != nil {
			return err
		}
		realtime = rs
		log.Info("realtime store connected", "addr", cfg.Realtime.Addr)
	} else {
		realtime = store.NewMemoryRealtime()
		log.Warn("no realtime store configured, using in-process tree")
	}
	defer realtime.Close()

	var publisher analytics.Publisher = analytics.Nop{}
	if len(cfg.Analytics.Brokers) > 0 {
		kp := analytics.NewKafka(cfg.Analytics.Brokers, cfg.Analytics.Topic)
		defer kp.Close()
		publisher = kp
		log.Info("analytics stream enabled", "topic", cfg.Analytics.Topic)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Slack.Token != "" {
		notifier = notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel, log)
		log.Info("slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	sessions := chat.NewSessions(durable, realtime, log)
	router := chat.NewRouter(realtime, sessions, log)
	queue := chat.NewQueue(realtime, log)
	directory := chat.NewDirectory(durable, realtime, log)
	assigner := chat.NewAssigner(directory, sessions, queue, log)
	perf := chat.NewPerformance(directory, log)

	orch := orchestrator.New(orchestrator.Deps{
		Sessions:    sessions,
		Router:      router,
		Queue:       queue,
		Directory:   directory,
		Assigner:    assigner,
		Performance: perf,
		Analytics:   publisher,
		Notifier:    notifier,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gateway.New(orch, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Gateway.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
