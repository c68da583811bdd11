package models

import (
	"time"

	"github.com/google/uuid"
)

// DependencyType classifies the relationship an edge in the dependency
// graph represents. The set is closed; satisfaction checks dispatch on it.
type DependencyType string

const (
	// DependencyTypeData means the target's extracted data must be available.
	DependencyTypeData DependencyType = "data"
	// DependencyTypeExecution means the target's extraction must have completed.
	// Only execution-type cycles are fatal to scheduling.
	DependencyTypeExecution DependencyType = "execution"
	// DependencyTypeResource means a shared resource held by the target must be free.
	DependencyTypeResource DependencyType = "resource"
	// DependencyTypeSchema means the target's schema must be compatible.
	DependencyTypeSchema DependencyType = "schema"
)

// Valid reports whether t is one of the known dependency types.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyTypeData, DependencyTypeExecution, DependencyTypeResource, DependencyTypeSchema:
		return true
	}
	return false
}

// Dependency is a directed, typed constraint: SourceID's extraction should
// not proceed until TargetID meets the condition implied by Type.
// Dependencies are soft-deleted (Active=false) so lineage survives removal.
type Dependency struct {
	ID         uuid.UUID      `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       DependencyType `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Required   bool           `json:"required"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TargetState is a point-in-time snapshot of one target's readiness flags.
// Absent flags read as false: an unknown target is unsatisfied.
type TargetState struct {
	DataAvailable     bool `json:"data_available"`
	ExecutionComplete bool `json:"execution_complete"`
	ResourceAvailable bool `json:"resource_available"`
	SchemaCompatible  bool `json:"schema_compatible"`
}

// SatisfactionContext maps target ids to their current readiness state.
// It is a snapshot handed to the dependency manager, never mutated by it.
type SatisfactionContext map[string]TargetState

// ImpactReport lists which sources are affected when a source changes.
type ImpactReport struct {
	SourceID             string   `json:"source_id"`
	DirectDependents     []string `json:"direct_dependents"`
	TransitiveDependents []string `json:"transitive_dependents"`
}
