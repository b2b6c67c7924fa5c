package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clinicrew/internal/adapter/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket gateway",
	Long: `Serve the REST, SSE and WebSocket gateway at gateway.addr. Sessions are
created on demand and reaped after sessions.max_idle without use.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := bootstrap(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	auth, err := gateway.NewAuthenticator(cfg.Gateway.Auth)
	if err != nil {
		return err
	}
	opts := []gateway.Option{gateway.WithEvents(a.bus)}
	if cfg.Metrics.Enabled {
		opts = append(opts, gateway.WithMetrics(cfg.Metrics.Path, a.metrics.Handler()))
	}

	srv := gateway.NewServer(a.sessions, auth, cfg.Gateway, log, opts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("gateway stopped")
	return nil
}
