package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shadow-sync/internal/agent"
	"shadow-sync/internal/config"
	"shadow-sync/internal/protocol"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		serverURL      string
		clientID       string
		reconnectDelay time.Duration
		tick           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "shadow-agent",
		Short: "Run one app instance's shadow-sync channel",
		Long: "shadow-agent maintains the persistent channel to the coordination server,\n" +
			"mirrors local state changes to it, and logs commands pushed back by an\n" +
			"administrator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				return fmt.Errorf("a client id is required (--client-id or SHADOW_CLIENT_ID)")
			}
			return run(cmd.Context(), serverURL, clientID, reconnectDelay, tick)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", cfg.Agent.ServerURL, "server address, scheme/host/port must match the server exactly")
	cmd.Flags().StringVar(&clientID, "client-id", cfg.Agent.ClientID, "stable client identifier for the handshake")
	cmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", cfg.Agent.ReconnectDelay, "fixed delay between reconnect attempts")
	cmd.Flags().DurationVar(&tick, "tick", 15*time.Second, "interval for demo state mutations, 0 disables")

	return cmd
}

func run(ctx context.Context, serverURL, clientID string, reconnectDelay, tick time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := agent.NewStore(map[string]any{
		"app":        "shadow-agent",
		"started_at": time.Now().Unix(),
	})

	cm := agent.NewConnectionManager(serverURL, clientID, reconnectDelay)
	cm.OnCommand(func(action string, payload map[string]any) {
		slog.Info("Command received", "action", action, "payload", payload)
	})
	// Fresh full snapshot after every (re)connect so the server mirror never
	// stays on stale state longer than one round trip.
	cm.OnConnect(func() {
		cm.Emit(protocol.TypeStateSnapshot, store.Snapshot())
	})

	feed := agent.NewChangeFeed(store, cm)
	feed.Start()
	cm.Connect()

	if tick > 0 {
		go func() {
			t := time.NewTicker(tick)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-t.C:
					store.Set("last_active", now.Unix())
				}
			}
		}()
	}

	slog.Info("Agent running", "clientID", clientID, "server", serverURL)
	<-ctx.Done()

	cm.Disconnect()
	slog.Info("Agent stopped")
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
