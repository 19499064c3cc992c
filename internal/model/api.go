package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// SubmitTicketRequest is the request body for POST /v1/tickets.
type SubmitTicketRequest struct {
	TicketID string         `json:"ticket_id,omitempty"`
	Text     string         `json:"text"`
	Metadata TicketMetadata `json:"metadata"`
}

// BatchSubmitRequest is the request body for POST /v1/tickets/batch.
type BatchSubmitRequest struct {
	Tickets []SubmitTicketRequest `json:"tickets"`
}

// ClassifyRequest is the request body for POST /v1/classify.
type ClassifyRequest struct {
	Text     string         `json:"text"`
	Metadata TicketMetadata `json:"metadata"`
}

// KnowledgeSearchRequest is the request body for POST /v1/knowledge/search.
type KnowledgeSearchRequest struct {
	Query    string          `json:"query"`
	Metadata *TicketMetadata `json:"metadata,omitempty"`
}

// LookupAccountRequest is the request body for POST /v1/support/accounts/lookup.
type LookupAccountRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type,omitempty"`
}

// ManageSubscriptionRequest is the request body for POST /v1/support/subscriptions.
type ManageSubscriptionRequest struct {
	UserID string             `json:"user_id"`
	Action SubscriptionAction `json:"action"`
	Params map[string]any     `json:"params,omitempty"`
}

// ProcessRefundRequest is the request body for POST /v1/support/refunds.
type ProcessRefundRequest struct {
	UserID        string   `json:"user_id"`
	ReservationID string   `json:"reservation_id"`
	Reason        string   `json:"reason"`
	Amount        *float64 `json:"amount,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatsResponse is the response for GET /v1/stats.
type StatsResponse struct {
	Routing   RoutingStats   `json:"routing"`
	Retrieval RetrievalStats `json:"retrieval"`
}

// RoutingStats aggregates routing decisions.
type RoutingStats struct {
	TotalTickets           int                  `json:"total_tickets"`
	CategoryDistribution   map[Category]int     `json:"category_distribution"`
	PriorityDistribution   map[Priority]int     `json:"priority_distribution"`
	ComplexityDistribution map[Complexity]int   `json:"complexity_distribution"`
	EscalationRate         float64              `json:"escalation_rate"`
	AverageUrgencyScore    float64              `json:"average_urgency_score"`
	HandlerWorkload        map[HandlerLabel]int `json:"handler_workload"`
}

// RetrievalStats aggregates knowledge retrievals.
type RetrievalStats struct {
	TotalQueries             int                     `json:"total_queries"`
	EscalationRate           float64                 `json:"escalation_rate"`
	ConfidenceDistribution   map[ConfidenceLevel]int `json:"confidence_distribution"`
	AverageArticlesRetrieved float64                 `json:"average_articles_retrieved"`
	AverageRelevanceScore    float64                 `json:"average_relevance_score"`
	AverageConfidenceScore   float64                 `json:"average_confidence_score"`
	SuccessfulRetrievals     int                     `json:"successful_retrievals"`
	FailedRetrievals         int                     `json:"failed_retrievals"`
}
