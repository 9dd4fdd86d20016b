package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/inventory-mirror/internal/app"
	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// setupTelemetry initializes telemetry from cfg and returns the app options
// wiring it, plus a shutdown function that flushes exporters
func setupTelemetry(ctx context.Context, cfg *config.Config) ([]app.MirrorAppOptions, func(), error) {
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithTenancyID(cfg.TenancyID),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	opts := []app.MirrorAppOptions{
		app.WithTracerProvider(tel.TracerProvider()),
		app.WithMeterProvider(tel.MeterProvider()),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}
	return opts, shutdown, nil
}
