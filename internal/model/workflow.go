package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a state of the ticket workflow.
type Stage string

const (
	StageSubmission         Stage = "submission"
	StageClassification     Stage = "classification"
	StageKnowledgeRetrieval Stage = "knowledge_retrieval"
	StageRouting            Stage = "routing"
	StageResolutionAttempt  Stage = "resolution_attempt"
	StageCompletion         Stage = "completion"
	StageEscalation         Stage = "escalation"
)

// Index returns the position of the stage in the workflow. Completion and
// Escalation share the terminal position.
func (s Stage) Index() int {
	switch s {
	case StageSubmission:
		return 0
	case StageClassification:
		return 1
	case StageKnowledgeRetrieval:
		return 2
	case StageRouting:
		return 3
	case StageResolutionAttempt:
		return 4
	case StageCompletion, StageEscalation:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether no further stage runs after s.
func (s Stage) Terminal() bool {
	return s == StageCompletion || s == StageEscalation
}

// EntryType classifies a workflow log entry.
type EntryType string

const (
	EntryTransition EntryType = "transition"
	EntryDecision   EntryType = "decision"
	EntryRouting    EntryType = "routing"
	EntryToolUsage  EntryType = "tool_usage"
	EntryError      EntryType = "error"
)

// Severity is the log level of a workflow log entry.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// WorkflowLogEntry is an append-only audit record. Never mutated after creation.
type WorkflowLogEntry struct {
	ID          uuid.UUID      `json:"id"`
	TicketID    string         `json:"ticket_id"`
	UserID      string         `json:"user_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Stage       Stage          `json:"stage"`
	Type        EntryType      `json:"entry_type"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	ContentHash string         `json:"content_hash"`
	CreatedAt   time.Time      `json:"created_at"`
}

// LogFilter selects workflow log entries. Zero fields match everything.
type LogFilter struct {
	TicketID  string     `json:"ticket_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Stage     Stage      `json:"stage,omitempty"`
	Type      EntryType  `json:"entry_type,omitempty"`
	Severity  Severity   `json:"severity,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every set field of f.
func (f LogFilter) Matches(e WorkflowLogEntry) bool {
	if f.TicketID != "" && e.TicketID != f.TicketID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// TicketLogSummary aggregates the log entries of one ticket.
type TicketLogSummary struct {
	TicketID     string            `json:"ticket_id"`
	TotalEntries int               `json:"total_entries"`
	ByType       map[EntryType]int `json:"by_type"`
	Stages       []Stage           `json:"stages"`
	Errors       int               `json:"errors"`
	FirstEntry   *time.Time        `json:"first_entry,omitempty"`
	LastEntry    *time.Time        `json:"last_entry,omitempty"`
	TrailRoot    string            `json:"trail_root"`
	Tampered     int               `json:"tampered_entries"`
}

// TicketOutcome is the final result of processing one ticket.
type TicketOutcome struct {
	TicketID          string                `json:"ticket_id"`
	SessionID         string                `json:"session_id"`
	UserID            string                `json:"user_id"`
	FinalStage        Stage                 `json:"final_stage"`
	Stages            []Stage               `json:"stages"`
	Classification    *ClassificationResult `json:"classification,omitempty"`
	Retrieval         *RetrievalResult      `json:"retrieval,omitempty"`
	Escalation        *EscalationDecision   `json:"escalation,omitempty"`
	Routing           *RoutingDecision      `json:"routing,omitempty"`
	Response          string                `json:"response"`
	EscalationReason  string                `json:"escalation_reason,omitempty"`
	DependencyFailure *string               `json:"dependency_failure,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	CompletedAt       time.Time             `json:"completed_at"`
}

// Escalated reports whether the ticket ended in the human queue.
func (o TicketOutcome) Escalated() bool {
	return o.FinalStage == StageEscalation
}
