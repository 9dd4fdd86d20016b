package v1

import (
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/status"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status" example:"ready"`
}

// RunListResponse is the page of run reports returned by GET /v1/runs
type RunListResponse struct {
	Runs  []*status.RunReport `json:"runs"`
	Count int                 `json:"count"`
}

// MirrorIDsResponse lists the ids mirrored for one kind and scope
type MirrorIDsResponse struct {
	Kind  string         `json:"kind"`
	Scope resource.Scope `json:"scope"`
	IDs   []string       `json:"ids"`
	Count int            `json:"count"`
}
