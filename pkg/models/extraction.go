package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the kind of external system a source lives in.
// It selects the connector implementation used for extraction.
type SourceType string

const (
	SourceTypePostgres SourceType = "postgres"
	SourceTypeMSSQL    SourceType = "mssql"
	SourceTypeRESTAPI  SourceType = "restapi"
)

// Valid reports whether the type names a known connector kind.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypePostgres, SourceTypeMSSQL, SourceTypeRESTAPI:
		return true
	}
	return false
}

// SourceDescriptor describes a registered source: its identity and the
// connection configuration its connector needs. Resolved through the
// metadata repository at submission time.
type SourceDescriptor struct {
	SourceID  string         `json:"source_id"`
	Name      string         `json:"name"`
	Type      SourceType     `json:"type"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExtractionStatus is the lifecycle state of an extraction process.
type ExtractionStatus string

const (
	ExtractionStatusPending ExtractionStatus = "pending"
	ExtractionStatusRunning ExtractionStatus = "running"
	ExtractionStatusSuccess ExtractionStatus = "success"
	ExtractionStatusFailed  ExtractionStatus = "failed"
	ExtractionStatusHealing ExtractionStatus = "healing"
)

// IsTerminal reports whether the status admits no further transitions
// within the same process. A failed process can only continue as a new
// process via healing or explicit retry.
func (s ExtractionStatus) IsTerminal() bool {
	return s == ExtractionStatusSuccess || s == ExtractionStatusFailed
}

// HealingAction records one corrective action applied to a failed
// extraction. Actions are proposed by the external healing collaborator;
// the orchestrator only records and re-dispatches them.
type HealingAction struct {
	ID         string         `json:"id"`
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	AppliedAt  time.Time      `json:"applied_at"`
}

// ExtractionSnapshot is an immutable view of an extraction process.
// The live process object never leaves the orchestrator; callers and the
// audit trail only ever see snapshots.
type ExtractionSnapshot struct {
	ID             uuid.UUID        `json:"id"`
	SourceID       string           `json:"source_id"`
	SourceName     string           `json:"source_name"`
	SourceType     SourceType       `json:"source_type"`
	Params         map[string]any   `json:"params,omitempty"`
	Status         ExtractionStatus `json:"status"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	ResultMetadata map[string]any   `json:"result_metadata,omitempty"`
	ErrorDetails   map[string]any   `json:"error_details,omitempty"`
	RetryCount     int              `json:"retry_count"`
	RetriedFrom    *uuid.UUID       `json:"retried_from,omitempty"`
	HealingActions []HealingAction  `json:"healing_actions,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
