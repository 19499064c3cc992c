package model

import (
	"time"
)

// OperationStatus is the outcome of a data-access operation.
type OperationStatus string

const (
	StatusSuccess          OperationStatus = "success"
	StatusError            OperationStatus = "error"
	StatusNotFound         OperationStatus = "not_found"
	StatusValidationError  OperationStatus = "validation_error"
	StatusPermissionDenied OperationStatus = "permission_denied"
)

// OperationResult is returned by every data-access operation. A non-success
// status is data for the escalation policy, not a crash.
type OperationResult struct {
	Operation   string          `json:"operation"`
	Status      OperationStatus `json:"status"`
	Payload     map[string]any  `json:"payload"`
	Message     string          `json:"message"`
	OperationID string          `json:"operation_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

// OK reports whether the operation succeeded.
func (r OperationResult) OK() bool { return r.Status == StatusSuccess }

// Account is a customer account as seen by support operations.
type Account struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Tier      string    `json:"tier"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionAction is an operation on a customer subscription.
type SubscriptionAction string

const (
	SubscriptionCreate SubscriptionAction = "create"
	SubscriptionUpdate SubscriptionAction = "update"
	SubscriptionCancel SubscriptionAction = "cancel"
	SubscriptionRenew  SubscriptionAction = "renew"
	SubscriptionStatus SubscriptionAction = "status"
)

// Valid reports whether a is a known subscription action.
func (a SubscriptionAction) Valid() bool {
	switch a {
	case SubscriptionCreate, SubscriptionUpdate, SubscriptionCancel, SubscriptionRenew, SubscriptionStatus:
		return true
	}
	return false
}

// Subscription is a customer subscription.
type Subscription struct {
	ID           string     `json:"subscription_id"`
	UserID       string     `json:"user_id"`
	Plan         string     `json:"plan_type"`
	Status       string     `json:"status"`
	MonthlyQuota int        `json:"monthly_quota"`
	StartedAt    time.Time  `json:"start_date"`
	EndsAt       *time.Time `json:"end_date,omitempty"`
}

// Reservation states.
const (
	ReservationConfirmed = "confirmed"
	ReservationPaid      = "paid"
	ReservationRefunded  = "refunded"
)

// Reservation is a customer booking that may be refunded.
type Reservation struct {
	ID        string    `json:"reservation_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Refundable reports whether the reservation is in a refundable state.
func (r Reservation) Refundable() bool {
	return r.Status == ReservationConfirmed || r.Status == ReservationPaid
}

// Refund records a processed refund.
type Refund struct {
	ID            string    `json:"refund_id"`
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processed_at"`
}
