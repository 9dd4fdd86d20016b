// Package v1 provides the REST API handlers for inspecting synchronization runs.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/inventory-mirror/internal/api/common"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// Routes serves the run history of the mirror
type Routes struct {
	history   state.RunHistory
	tenancyID string
}

// NewRoutes creates a new Routes instance. tenancyID is the tenancy used when
// a request does not name one.
func NewRoutes(history state.RunHistory, tenancyID string) *Routes {
	return &Routes{
		history:   history,
		tenancyID: tenancyID,
	}
}

// RouterOption configures the v1 router
type RouterOption func(*routerConfig)

type routerConfig struct {
	mirror *mirrorRoutes
}

// WithMirror serves GET /kinds/{kind}/ids from reader for the given kinds
func WithMirror(reader MirrorReader, kinds []resource.Kind) RouterOption {
	return func(cfg *routerConfig) {
		if reader != nil {
			cfg.mirror = newMirrorRoutes(reader, kinds, "")
		}
	}
}

// Router creates a new router for the run history API
func Router(history state.RunHistory, tenancyID string, opts ...RouterOption) http.Handler {
	cfg := &routerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	routes := NewRoutes(history, tenancyID)

	r := chi.NewRouter()
	r.Get("/runs", routes.listRuns)
	r.Get("/runs/latest", routes.getLatestRun)
	r.Get("/tenancies/{tenancyID}/runs", routes.listTenancyRuns)
	r.Get("/tenancies/{tenancyID}/runs/latest", routes.getTenancyLatestRun)

	if cfg.mirror != nil {
		cfg.mirror.tenancyID = tenancyID
		r.Get("/kinds/{kind}/ids", cfg.mirror.listIDs)
	}

	return r
}

// getLatestRun handles GET /v1/runs/latest
func (rr *Routes) getLatestRun(w http.ResponseWriter, r *http.Request) {
	rr.writeLatest(w, r, rr.tenancyID)
}

// getTenancyLatestRun handles GET /v1/tenancies/{tenancyID}/runs/latest
func (rr *Routes) getTenancyLatestRun(w http.ResponseWriter, r *http.Request) {
	tenancyID, err := common.GetAndValidateURLParam(r, "tenancyID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr.writeLatest(w, r, tenancyID)
}

// listRuns handles GET /v1/runs?limit=N across every tenancy
func (rr *Routes) listRuns(w http.ResponseWriter, r *http.Request) {
	rr.writeList(w, r, "")
}

// listTenancyRuns handles GET /v1/tenancies/{tenancyID}/runs?limit=N
func (rr *Routes) listTenancyRuns(w http.ResponseWriter, r *http.Request) {
	tenancyID, err := common.GetAndValidateURLParam(r, "tenancyID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr.writeList(w, r, tenancyID)
}

func (rr *Routes) writeLatest(w http.ResponseWriter, r *http.Request, tenancyID string) {
	report, err := rr.history.Latest(r.Context(), tenancyID)
	if errors.Is(err, status.ErrNoReport) {
		common.WriteErrorResponse(w, "no run recorded for tenancy "+tenancyID, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load latest run", "tenancy_id", tenancyID, "error", err)
		common.WriteErrorResponse(w, "failed to load latest run", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, report, http.StatusOK)
}

func (rr *Routes) writeList(w http.ResponseWriter, r *http.Request, tenancyID string) {
	limit, err := common.ParseLimit(r)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := rr.history.List(r.Context(), tenancyID, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list runs", "tenancy_id", tenancyID, "error", err)
		common.WriteErrorResponse(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*status.RunReport{}
	}
	common.WriteJSONResponse(w, RunListResponse{Runs: runs, Count: len(runs)}, http.StatusOK)
}
