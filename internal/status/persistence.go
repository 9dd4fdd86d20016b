// Package status provides run report types and persistence of the latest report.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_report_persistence.go -package=mocks -source=persistence.go ReportPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// ErrNoReport is returned when no run has been recorded yet
var ErrNoReport = errors.New("no run report recorded")

// ReportPersistence stores the latest run report of each tenancy
type ReportPersistence interface {
	// SaveReport saves the report as the latest one of its tenancy
	SaveReport(ctx context.Context, report *RunReport) error

	// LoadReport loads the latest report of a tenancy.
	// Returns ErrNoReport if no run has been recorded yet.
	LoadReport(ctx context.Context, tenancyID string) (*RunReport, error)

	// LoadAllReports loads the latest report of every tenancy
	LoadAllReports(ctx context.Context) (map[string]*RunReport, error)
}

// fileReportPersistence implements ReportPersistence using local filesystem
type fileReportPersistence struct {
	basePath string
}

// NewFileReportPersistence creates a new file-based report persistence.
// basePath is the base directory where per-tenancy status files will be stored.
func NewFileReportPersistence(basePath string) ReportPersistence {
	return &fileReportPersistence{
		basePath: basePath,
	}
}

// SaveReport saves the report to a JSON file in a tenancy-specific directory
func (f *fileReportPersistence) SaveReport(_ context.Context, report *RunReport) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}
	dir, err := f.tenancyDir(report.TenancyID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for tenancy '%s': %w", report.TenancyID, err)
	}

	filePath := filepath.Join(dir, StatusFileName)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report for tenancy '%s': %w", report.TenancyID, err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for tenancy '%s': %w", report.TenancyID, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for tenancy '%s': %w", report.TenancyID, err)
	}

	return nil
}

// LoadReport loads the latest report of a tenancy from its JSON file
func (f *fileReportPersistence) LoadReport(_ context.Context, tenancyID string) (*RunReport, error) {
	dir, err := f.tenancyDir(tenancyID)
	if err != nil {
		return nil, err
	}
	filePath := filepath.Join(dir, StatusFileName)

	// #nosec G304 -- filePath is basePath plus a validated tenancy directory name
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("failed to read status file for tenancy '%s': %w", tenancyID, err)
	}

	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report for tenancy '%s': %w", tenancyID, err)
	}

	return &report, nil
}

// LoadAllReports loads the latest report of every tenancy directory under basePath
func (f *fileReportPersistence) LoadAllReports(ctx context.Context) (map[string]*RunReport, error) {
	result := make(map[string]*RunReport)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		tenancyID := entry.Name()
		report, err := f.LoadReport(ctx, tenancyID)
		if errors.Is(err, ErrNoReport) {
			continue
		}
		if err != nil {
			// Unreadable reports are skipped so the others still load
			slog.WarnContext(ctx, "Skipping unreadable status file", "tenancy_id", tenancyID, "error", err)
			continue
		}
		result[tenancyID] = report
	}

	return result, nil
}

func (f *fileReportPersistence) tenancyDir(tenancyID string) (string, error) {
	if tenancyID == "" || tenancyID != filepath.Base(tenancyID) || tenancyID == "." || tenancyID == ".." {
		return "", fmt.Errorf("invalid tenancy id %q for status file", tenancyID)
	}
	return filepath.Join(f.basePath, tenancyID), nil
}
