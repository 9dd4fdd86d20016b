// Package resource defines the records reconciled into the mirror and the
// per-kind attribute schema used to normalize them.
package resource

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is returned when a record does not satisfy its kind's schema
var ErrInvalidRecord = errors.New("invalid resource record")

// Scope identifies one independent reconciliation boundary
type Scope struct {
	TenancyID string `json:"tenancy_id" yaml:"tenancyId"`
	Region    string `json:"region" yaml:"region"`
	// ParentID is empty for kinds reconciled per tenancy and region
	ParentID string `json:"parent_id,omitempty" yaml:"parentId,omitempty"`
}

func (s Scope) String() string {
	if s.ParentID == "" {
		return s.TenancyID + "/" + s.Region
	}
	return s.TenancyID + "/" + s.Region + "/" + s.ParentID
}

// Record is one upstream resource observed during a run
type Record struct {
	ID    string
	Scope Scope

	CompartmentID   string
	CompartmentName string
	CompartmentPath string
	DisplayName     string
	LifecycleState  string
	TimeCreated     *time.Time

	Attributes Attributes
	ObservedAt time.Time
}

// Validate checks the invariants every record must hold before it reaches a store
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.Scope.TenancyID == "" || r.Scope.Region == "" {
		return fmt.Errorf("%w: record %s has incomplete scope %q", ErrInvalidRecord, r.ID, r.Scope.String())
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: record %s has no observation time", ErrInvalidRecord, r.ID)
	}
	return nil
}

// Kind describes one resource type mirrored into its own table
type Kind struct {
	// Name is the identifier used in configuration and reports
	Name string
	// Table is the mirror table name, before any configured prefix
	Table string
	// Description is shown by the kinds command
	Description string
	// ParentScoped kinds are reconciled once per parent resource
	ParentScoped bool
	// Schema lists every kind-specific attribute persisted with the record
	Schema []Field
}

// TableName returns the mirror table name with prefix applied
func (k Kind) TableName(prefix string) string {
	return prefix + k.Table
}
