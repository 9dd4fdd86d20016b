package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stacklok/inventory-mirror/internal/api/common"
	"github.com/stacklok/inventory-mirror/internal/resource"
)

// MirrorReader lists the ids held in a mirror table
type MirrorReader interface {
	ListIDs(ctx context.Context, kind resource.Kind, scope resource.Scope) ([]string, error)
}

// mirrorRoutes serves read-only views of the mirror tables
type mirrorRoutes struct {
	reader    MirrorReader
	kinds     map[string]resource.Kind
	tenancyID string
}

func newMirrorRoutes(reader MirrorReader, kinds []resource.Kind, tenancyID string) *mirrorRoutes {
	byName := make(map[string]resource.Kind, len(kinds))
	for _, k := range kinds {
		byName[k.Name] = k
	}
	return &mirrorRoutes{reader: reader, kinds: byName, tenancyID: tenancyID}
}

// listIDs handles GET /v1/kinds/{kind}/ids?region=R[&parent=P][&tenancy=T]
func (mr *mirrorRoutes) listIDs(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "kind")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := mr.kinds[name]
	if !ok {
		common.WriteErrorResponse(w, fmt.Sprintf("kind %s is not mirrored", name), http.StatusNotFound)
		return
	}

	scope, err := mr.scopeFromQuery(r)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids, err := mr.reader.ListIDs(r.Context(), kind, scope)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list mirrored ids",
			"kind", kind.Name, "scope", scope.String(), "error", err)
		common.WriteErrorResponse(w, "failed to list mirrored ids", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	common.WriteJSONResponse(w, MirrorIDsResponse{
		Kind:  kind.Name,
		Scope: scope,
		IDs:   ids,
		Count: len(ids),
	}, http.StatusOK)
}

func (mr *mirrorRoutes) scopeFromQuery(r *http.Request) (resource.Scope, error) {
	q := r.URL.Query()
	scope := resource.Scope{
		TenancyID: q.Get("tenancy"),
		Region:    q.Get("region"),
		ParentID:  q.Get("parent"),
	}
	if scope.TenancyID == "" {
		scope.TenancyID = mr.tenancyID
	}
	if scope.Region == "" {
		return resource.Scope{}, fmt.Errorf("region is required")
	}
	for param, value := range map[string]string{
		"tenancy": scope.TenancyID, "region": scope.Region, "parent": scope.ParentID,
	} {
		if strings.ContainsAny(value, " \t\n") {
			return resource.Scope{}, fmt.Errorf("invalid %s parameter", param)
		}
	}
	return scope, nil
}
