package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stacklok/inventory-mirror/internal/status"
)

type fileRunHistory struct {
	persistence status.ReportPersistence
	capacity    int

	mu   sync.RWMutex
	runs map[string][]*status.RunReport
}

// NewFileRunHistory creates a history that keeps the last capacity runs per
// tenancy in memory. The latest report written by the status file persistence
// is used when nothing was recorded since the process started.
func NewFileRunHistory(persistence status.ReportPersistence, capacity int) RunHistory {
	if capacity <= 0 {
		capacity = MaxListLimit
	}
	return &fileRunHistory{
		persistence: persistence,
		capacity:    capacity,
		runs:        make(map[string][]*status.RunReport),
	}
}

func (f *fileRunHistory) Record(_ context.Context, report *status.RunReport) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	runs := f.runs[report.TenancyID]
	for i, r := range runs {
		if r.RunID == report.RunID {
			runs[i] = cloneReport(report)
			return nil
		}
	}

	runs = append(runs, cloneReport(report))
	if len(runs) > f.capacity {
		runs = runs[len(runs)-f.capacity:]
	}
	f.runs[report.TenancyID] = runs
	return nil
}

func (f *fileRunHistory) Latest(ctx context.Context, tenancyID string) (*status.RunReport, error) {
	f.mu.RLock()
	runs := f.runs[tenancyID]
	if len(runs) > 0 {
		latest := cloneReport(runs[len(runs)-1])
		f.mu.RUnlock()
		return latest, nil
	}
	f.mu.RUnlock()

	if f.persistence == nil {
		return nil, status.ErrNoReport
	}
	return f.persistence.LoadReport(ctx, tenancyID)
}

func (f *fileRunHistory) List(ctx context.Context, tenancyID string, limit int) ([]*status.RunReport, error) {
	limit = normalizeLimit(limit)

	f.mu.RLock()
	var all []*status.RunReport
	for tenancy, runs := range f.runs {
		if tenancyID != "" && tenancy != tenancyID {
			continue
		}
		all = append(all, runs...)
	}
	f.mu.RUnlock()

	if len(all) == 0 {
		return f.listPersisted(ctx, tenancyID, limit)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}

	result := make([]*status.RunReport, len(all))
	for i, r := range all {
		result[i] = cloneReport(r)
	}
	return result, nil
}

// listPersisted falls back to the latest report on disk after a restart
func (f *fileRunHistory) listPersisted(ctx context.Context, tenancyID string, limit int) ([]*status.RunReport, error) {
	result := []*status.RunReport{}
	if f.persistence == nil {
		return result, nil
	}

	if tenancyID != "" {
		report, err := f.persistence.LoadReport(ctx, tenancyID)
		if errors.Is(err, status.ErrNoReport) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		return append(result, report), nil
	}

	reports, err := f.persistence.LoadAllReports(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		result = append(result, r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneReport(r *status.RunReport) *status.RunReport {
	c := *r
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		c.FinishedAt = &finished
	}
	c.Scopes = append([]status.ScopeResult(nil), r.Scopes...)
	return &c
}
