package model

import (
	"encoding/json"
	"time"
)

// MemoryEntry is one key/value pair in the state or session scope.
type MemoryEntry struct {
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
}

// SessionMessage is one turn of the session conversation log.
type SessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolInvocation records one call to an external capability.
type ToolInvocation struct {
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input,omitempty"`
	Status    string         `json:"status"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionContext is the conversation state owned by one session. A session
// spans every ticket submitted under the same caller session id. Stage is
// the furthest stage any of those tickets reached, so StageIndex never
// decreases; the stage of an individual ticket lives in the state scope.
type SessionContext struct {
	SessionID    string                 `json:"session_id"`
	ThreadID     string                 `json:"thread_id"`
	UserID       string                 `json:"user_id"`
	Messages     []SessionMessage       `json:"messages"`
	ToolCalls    []ToolInvocation       `json:"tool_calls"`
	Values       map[string]MemoryEntry `json:"values,omitempty"`
	Stage        Stage                  `json:"stage"`
	StageIndex   int                    `json:"stage_index"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
}

// SessionSummary is a compact view of a session for operators.
type SessionSummary struct {
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	MessageCount  int            `json:"message_count"`
	ToolCallCount int            `json:"tool_call_count"`
	ToolUsage     map[string]int `json:"tool_usage"`
	Stage         Stage          `json:"stage"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
	Duration      time.Duration  `json:"duration_ns"`
}

// LongTermRecord is a durable per-user fact that survives sessions.
type LongTermRecord struct {
	UserID    string          `json:"user_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Well-known long-term memory keys.
const (
	MemoryKeyResolvedIssues = "resolved_issues"
	MemoryKeyPreferences    = "preferences"
)

// ResolvedIssue is appended to a user's long-term memory on completion.
type ResolvedIssue struct {
	TicketID   string       `json:"ticket_id"`
	Category   Category     `json:"category"`
	Handler    HandlerLabel `json:"handler"`
	Summary    string       `json:"summary"`
	ResolvedAt time.Time    `json:"resolved_at"`
}

// AgentContext is the memory view handed to decision stages: recent session
// turns plus what is known about the user from earlier sessions.
type AgentContext struct {
	SessionID      string           `json:"session_id"`
	UserID         string           `json:"user_id"`
	RecentMessages []SessionMessage `json:"recent_messages"`
	ResolvedIssues []ResolvedIssue  `json:"resolved_issues"`
	Preferences    map[string]any   `json:"preferences,omitempty"`
}

// MemoryStats reports the size of the in-process memory scopes.
type MemoryStats struct {
	ActiveSessions int `json:"active_sessions"`
	StateEntries   int `json:"state_entries"`
	CachedRecords  int `json:"cached_long_term_records"`
}
