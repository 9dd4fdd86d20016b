package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/inventory-mirror/internal/app"
	"github.com/stacklok/inventory-mirror/internal/status"
)

const (
	reportFormatText = "text"
	reportFormatJSON = "json"
	reportFormatYAML = "yaml"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass and exit",
		Long: `Run one synchronization pass over every configured kind and region, print the
run report and exit. The exit status is non-zero when any scope failed.

Examples:
  # Reconcile only instances and volumes of one region
  inventory-mirror sync --config config.yaml --kind instance --kind volume --region ap-seoul-1

  # Reconcile the daily cost of a given day without writing anything
  inventory-mirror sync --config config.yaml --kind daily_cost --date 2025-03-14 --dry-run --report json`,
		RunE: runSync,
	}

	cmd.Flags().StringSlice("kind", nil, "Resource kind to reconcile, repeatable (default: every configured kind)")
	cmd.Flags().String("date", "", "Usage date reconciled by the daily cost kind (YYYY-MM-DD, default: yesterday UTC)")
	cmd.Flags().Bool("dry-run", false, "Reconcile into memory only; no mirror rows, history, or status files are written")
	cmd.Flags().String("report", reportFormatText, "Report format (text, json, yaml)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	kinds, err := cmd.Flags().GetStringSlice("kind")
	if err != nil {
		return fmt.Errorf("failed to get kind flag: %w", err)
	}
	date, err := cmd.Flags().GetString("date")
	if err != nil {
		return fmt.Errorf("failed to get date flag: %w", err)
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}
	format, err := cmd.Flags().GetString("report")
	if err != nil {
		return fmt.Errorf("failed to get report flag: %w", err)
	}
	if !validReportFormat(format) {
		return fmt.Errorf("unsupported report format %q", format)
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
		app.WithKinds(kinds...),
		app.WithUsageDate(date),
		app.WithDryRun(dryRun),
	}, telemetryOpts...)

	mirrorApp, err := app.NewMirrorApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer mirrorApp.Close()

	report, runErr := mirrorApp.RunOnce(ctx)
	if report != nil {
		if err := writeReport(cmd.OutOrStdout(), report, format); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func validReportFormat(format string) bool {
	switch format {
	case reportFormatText, reportFormatJSON, reportFormatYAML:
		return true
	default:
		return false
	}
}

// writeReport renders a run report in the requested format
func writeReport(w io.Writer, report *status.RunReport, format string) error {
	switch format {
	case reportFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case reportFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeTextReport(w, report)
	}
}

func writeTextReport(w io.Writer, report *status.RunReport) error {
	observed, upserted, deleted := report.Totals()
	dryRun := ""
	if report.DryRun {
		dryRun = " (dry run)"
	}
	if _, err := fmt.Fprintf(w, "run %s%s: %s in %s, %d scopes (%d failed), observed %d, upserted %d, deleted %d\n",
		report.RunID, dryRun, report.Phase, report.Duration(), len(report.Scopes), report.ScopesFailed(),
		observed, upserted, deleted); err != nil {
		return err
	}
	if report.Message != "" {
		if _, err := fmt.Fprintf(w, "message: %s\n", report.Message); err != nil {
			return err
		}
	}
	if len(report.Scopes) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Scopes))
	for _, s := range report.Scopes {
		rows = append(rows, []string{
			s.Kind, s.Scope.String(), string(s.Phase),
			strconv.Itoa(s.Observed), strconv.Itoa(s.Upserted), strconv.FormatInt(s.Deleted, 10), s.Error,
		})
	}
	return renderTable(w, []string{"KIND", "SCOPE", "PHASE", "OBSERVED", "UPSERTED", "DELETED", "ERROR"}, rows)
}
