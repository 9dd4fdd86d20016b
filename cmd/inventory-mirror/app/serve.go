package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/inventory-mirror/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled synchronization and serve the run history API",
		Long: `Run a synchronization pass every sync interval (with jitter) and serve health,
readiness, run history and metrics over HTTP until interrupted.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryOpts, shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	opts := append([]app.MirrorAppOptions{
		app.WithConfig(cfg),
		app.WithAddress(address),
	}, telemetryOpts...)

	// The app context must outlive the signal so Stop can drain the server
	mirrorApp, err := app.NewMirrorApp(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer mirrorApp.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(mirrorApp.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Received shutdown signal")
		return mirrorApp.Stop(defaultGracefulTimeout)
	})

	return g.Wait()
}
