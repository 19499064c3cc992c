package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account tiers recognized in ticket metadata.
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

// MaxTicketTextLen bounds the raw ticket text accepted at intake.
const MaxTicketTextLen = 32 * 1024

var ticketIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ErrValidation is matched by errors.Is for every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a malformed ticket. Tickets that fail validation
// never enter the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TicketMetadata carries the caller-supplied context for a ticket.
type TicketMetadata struct {
	UserID          string         `json:"user_id"`
	SessionID       string         `json:"session_id,omitempty"`
	AccountTier     string         `json:"user_type,omitempty"`
	UserBlocked     bool           `json:"user_blocked,omitempty"`
	PreviousTickets int            `json:"previous_tickets,omitempty"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Premium reports whether the account is on the premium tier.
func (m TicketMetadata) Premium() bool {
	return strings.EqualFold(m.AccountTier, TierPremium)
}

// Ticket is one unit of customer input. Immutable once accepted.
type Ticket struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  TicketMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTicket builds a ticket, generating an id when none is supplied.
func NewTicket(id, text string, md TicketMetadata) Ticket {
	if id == "" {
		id = uuid.NewString()
	}
	return Ticket{ID: id, Text: text, Metadata: md, CreatedAt: time.Now().UTC()}
}

// Validate checks the identifiers a ticket needs before it can be processed.
func (t Ticket) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !ticketIDPattern.MatchString(t.ID) {
		return &ValidationError{Field: "id", Reason: "must be 1-128 characters of letters, digits, '.', '_', ':' or '-'"}
	}
	if strings.TrimSpace(t.Metadata.UserID) == "" {
		return &ValidationError{Field: "metadata.user_id", Reason: "is required"}
	}
	if len(t.Text) > MaxTicketTextLen {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("exceeds maximum length of %d bytes", MaxTicketTextLen)}
	}
	return nil
}

// Age returns how long ago the ticket was originally opened, using the
// metadata timestamp when the caller supplied one.
func (t Ticket) Age(now time.Time) time.Duration {
	if t.Metadata.CreatedAt != nil {
		return now.Sub(*t.Metadata.CreatedAt)
	}
	return now.Sub(t.CreatedAt)
}
