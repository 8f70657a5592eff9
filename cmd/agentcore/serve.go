package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/rpc"
)

// buildServeCmd creates the "serve" command: the JSON-RPC-over-websocket
// surface backed by a runtime.Manager, plus the scheduled idle-session reap
// and compaction sweeps, running until SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	var (
		workspaceRoot string
		dataDir       string
		addr          string
		tokenSecret   string
		idleTimeout   time.Duration
		compactCron   string
		idleCron      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC-over-websocket server",
		Long: `Run the agentcore JSON-RPC server.

The server:
1. Wires one runtime.Manager from the configured provider API keys.
2. Schedules idle-session reaping and periodic compaction sweeps.
3. Upgrades incoming HTTP connections to the JSON-RPC-over-websocket
   transport described in the runtime's RPC surface, and serves Prometheus
   metrics at /metrics.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), workspaceRoot, dataDir, addr, tokenSecret, idleTimeout, idleCron, compactCron)
		},
	}
	cmd.Flags().StringVar(&workspaceRoot, "workspace", ".", "Workspace root for file tools")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for session persistence and supervision sentinels")
	cmd.Flags().StringVar(&addr, "addr", ":8089", "Address to listen on")
	cmd.Flags().StringVar(&tokenSecret, "token-secret", "", "HMAC secret for signing session handles; required")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "Reap a session idle for longer than this")
	cmd.Flags().StringVar(&idleCron, "idle-reap-cron", "*/5 * * * *", "Cron schedule for the idle-session reap sweep")
	cmd.Flags().StringVar(&compactCron, "compaction-cron", "0 * * * *", "Cron schedule for the periodic compaction sweep")
	return cmd
}

func runServe(ctx context.Context, workspaceRoot, dataDir, addr, tokenSecret string, idleTimeout time.Duration, idleCron, compactCron string) error {
	if tokenSecret == "" {
		return fmt.Errorf("agentcore: --token-secret is required")
	}

	mgr, err := buildManager(workspaceRoot, dataDir)
	if err != nil {
		return err
	}

	if err := mgr.StartSweeps(idleCron, idleTimeout, compactCron); err != nil {
		return fmt.Errorf("agentcore: start sweeps: %w", err)
	}
	defer mgr.StopSweeps()

	if err := mgr.WatchDataDir(dataDir); err != nil {
		return fmt.Errorf("agentcore: watch data dir: %w", err)
	}
	defer mgr.StopWatch()

	tokens := rpc.NewTokenService(tokenSecret, 24*time.Hour)
	server := rpc.NewServer(mgr, tokens)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agentcore: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		slog.Info("agentcore: shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
