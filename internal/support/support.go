// Package support implements the customer data operations available to
// ticket handlers: account lookup, subscription management, and refunds.
//
// Every operation returns a model.OperationResult and never an error. A
// failed lookup or a rejected refund is data for the workflow, not a crash.
// Every operation is recorded in an audit log.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Operation names recorded in results and the audit log.
const (
	OpAccountLookup = "account_lookup"
	OpSubscription  = "subscription_management"
	OpRefund        = "refund_processing"
)

// Identifier types accepted by LookupAccount.
const (
	IdentifierEmail  = "email"
	IdentifierUserID = "user_id"
)

// DefaultRefundAmount is used when a refund request carries no amount.
const DefaultRefundAmount = 100.0

const (
	recentReservations = 5
	defaultQuota       = 4
	billingPeriod      = 30 * 24 * time.Hour
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Capability is what handlers may ask of customer data.
type Capability interface {
	LookupAccount(ctx context.Context, identifier, identifierType string) model.OperationResult
	ManageSubscription(ctx context.Context, userID string, action model.SubscriptionAction, params map[string]any) model.OperationResult
	ProcessRefund(ctx context.Context, userID, reservationID, reason string, amount *float64) model.OperationResult
}

// Store persists customer data. Missing entities are reported with
// model.ErrNotFound.
type Store interface {
	FindAccount(ctx context.Context, identifier string, byEmail bool) (model.Account, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	ListReservations(ctx context.Context, userID string, limit int) ([]model.Reservation, error)
	GetSubscription(ctx context.Context, userID, subscriptionID string) (model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	// RefundReservation marks the reservation refunded and stores the refund
	// in one transaction. It fails with model.ErrNotFound or
	// model.ErrNotRefundable.
	RefundReservation(ctx context.Context, refund model.Refund) error
	RecordOperation(ctx context.Context, op model.OperationResult) error
	ListOperations(ctx context.Context, limit int) ([]model.OperationResult, error)
}

// Service implements Capability on top of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// LookupAccount finds an account by email or user id, with its
// subscriptions and most recent reservations.
func (s *Service) LookupAccount(ctx context.Context, identifier, identifierType string) model.OperationResult {
	op := s.begin(OpAccountLookup)
	identifier = strings.TrimSpace(identifier)
	if identifierType == "" {
		identifierType = IdentifierEmail
	}

	switch identifierType {
	case IdentifierEmail:
		if !emailPattern.MatchString(identifier) {
			return s.finish(ctx, op, model.StatusValidationError, nil, "invalid email format")
		}
	case IdentifierUserID:
		if identifier == "" {
			return s.finish(ctx, op, model.StatusValidationError, nil, "invalid user id format")
		}
	default:
		return s.finish(ctx, op, model.StatusValidationError, nil, fmt.Sprintf("unknown identifier type %q", identifierType))
	}

	acct, err := s.store.FindAccount(ctx, identifier, identifierType == IdentifierEmail)
	if errors.Is(err, model.ErrNotFound) {
		return s.finish(ctx, op, model.StatusNotFound, nil, fmt.Sprintf("account not found for %s: %s", identifierType, identifier))
	}
	if err != nil {
		return s.fail(ctx, op, "account lookup", err)
	}
	subs, err := s.store.ListSubscriptions(ctx, acct.UserID)
	if err != nil {
		return s.fail(ctx, op, "account lookup", err)
	}
	res, err := s.store.ListReservations(ctx, acct.UserID, recentReservations)
	if err != nil {
		return s.fail(ctx, op, "account lookup", err)
	}

	payload := map[string]any{
		"user_id":              acct.UserID,
		"full_name":            acct.FullName,
		"email":                acct.Email,
		"tier":                 acct.Tier,
		"is_blocked":           acct.Blocked,
		"subscription_count":   len(subs),
		"active_subscriptions": subs,
		"recent_reservations":  res,
	}
	return s.finish(ctx, op, model.StatusSuccess, payload, fmt.Sprintf("account found for %s: %s", identifierType, identifier))
}

// ManageSubscription applies action to the user's subscriptions. update,
// cancel and renew require params["subscription_id"].
func (s *Service) ManageSubscription(ctx context.Context, userID string, action model.SubscriptionAction, params map[string]any) model.OperationResult {
	op := s.begin(OpSubscription)
	if strings.TrimSpace(userID) == "" {
		return s.finish(ctx, op, model.StatusValidationError, nil, "invalid user id format")
	}
	if !action.Valid() {
		return s.finish(ctx, op, model.StatusValidationError, nil, fmt.Sprintf("invalid action %q", action))
	}

	if action == model.SubscriptionStatus {
		subs, err := s.store.ListSubscriptions(ctx, userID)
		if err != nil {
			return s.fail(ctx, op, "subscription status", err)
		}
		return s.finish(ctx, op, model.StatusSuccess, map[string]any{
			"user_id":              userID,
			"subscription_count":   len(subs),
			"active_subscriptions": subs,
		}, "subscription status retrieved")
	}

	now := s.now().UTC()
	months := intParam(params, "duration_months", 1)

	if action == model.SubscriptionCreate {
		end := now.Add(time.Duration(months) * billingPeriod)
		sub := model.Subscription{
			ID:           uuid.NewString(),
			UserID:       userID,
			Plan:         stringParam(params, "plan_type", "basic"),
			Status:       "active",
			MonthlyQuota: defaultQuota,
			StartedAt:    now,
			EndsAt:       &end,
		}
		if err := s.store.SaveSubscription(ctx, sub); err != nil {
			return s.fail(ctx, op, "create subscription", err)
		}
		return s.finish(ctx, op, model.StatusSuccess, subscriptionPayload(sub, "created"), "subscription created")
	}

	subID := stringParam(params, "subscription_id", "")
	if subID == "" {
		return s.finish(ctx, op, model.StatusValidationError, nil, fmt.Sprintf("subscription_id is required for %s", action))
	}
	sub, err := s.store.GetSubscription(ctx, userID, subID)
	if errors.Is(err, model.ErrNotFound) {
		return s.finish(ctx, op, model.StatusNotFound, nil, fmt.Sprintf("subscription not found: %s", subID))
	}
	if err != nil {
		return s.fail(ctx, op, "load subscription", err)
	}

	var verb string
	switch action {
	case model.SubscriptionUpdate:
		sub.Plan = stringParam(params, "plan_type", sub.Plan)
		sub.Status = stringParam(params, "status", sub.Status)
		verb = "updated"
	case model.SubscriptionCancel:
		sub.Status = "cancelled"
		sub.EndsAt = &now
		verb = "cancelled"
	case model.SubscriptionRenew:
		end := now.Add(time.Duration(months) * billingPeriod)
		sub.Status = "active"
		sub.EndsAt = &end
		verb = "renewed"
	}
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return s.fail(ctx, op, "save subscription", err)
	}
	return s.finish(ctx, op, model.StatusSuccess, subscriptionPayload(sub, verb), "subscription "+verb)
}

// ProcessRefund refunds a confirmed or paid reservation. amount defaults to
// DefaultRefundAmount.
func (s *Service) ProcessRefund(ctx context.Context, userID, reservationID, reason string, amount *float64) model.OperationResult {
	op := s.begin(OpRefund)
	if strings.TrimSpace(userID) == "" {
		return s.finish(ctx, op, model.StatusValidationError, nil, "invalid user id format")
	}
	if strings.TrimSpace(reservationID) == "" {
		return s.finish(ctx, op, model.StatusValidationError, nil, "reservation id is required")
	}
	amt := DefaultRefundAmount
	if amount != nil {
		if *amount <= 0 {
			return s.finish(ctx, op, model.StatusValidationError, nil, "refund amount must be positive")
		}
		amt = *amount
	}

	refund := model.Refund{
		ID:            uuid.NewString(),
		ReservationID: reservationID,
		UserID:        userID,
		Amount:        amt,
		Reason:        reason,
		Status:        "processed",
		ProcessedAt:   s.now().UTC(),
	}
	err := s.store.RefundReservation(ctx, refund)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return s.finish(ctx, op, model.StatusNotFound, nil, fmt.Sprintf("reservation not found: %s", reservationID))
	case errors.Is(err, model.ErrNotRefundable):
		return s.finish(ctx, op, model.StatusValidationError, nil, "reservation not eligible for refund")
	case err != nil:
		return s.fail(ctx, op, "refund", err)
	}
	return s.finish(ctx, op, model.StatusSuccess, map[string]any{
		"refund_id":          refund.ID,
		"reservation_id":     reservationID,
		"user_id":            userID,
		"amount":             amt,
		"reason":             reason,
		"status":             refund.Status,
		"reservation_status": model.ReservationRefunded,
	}, fmt.Sprintf("refund processed for reservation: %s", reservationID))
}

// Operations returns the newest audit entries, newest first.
func (s *Service) Operations(ctx context.Context, limit int) ([]model.OperationResult, error) {
	ops, err := s.store.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("support: list operations: %w", err)
	}
	return ops, nil
}

func (s *Service) begin(operation string) model.OperationResult {
	now := s.now().UTC()
	return model.OperationResult{
		Operation:   operation,
		OperationID: fmt.Sprintf("op_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		Timestamp:   now,
	}
}

func (s *Service) fail(ctx context.Context, op model.OperationResult, what string, err error) model.OperationResult {
	s.logger.Error("support: operation failed", "operation", op.Operation, "operation_id", op.OperationID, "error", err)
	return s.finish(ctx, op, model.StatusError, nil, fmt.Sprintf("error during %s: %v", what, err))
}

// finish fills in the result and records it. An audit write failure is
// logged; it never changes the result.
func (s *Service) finish(ctx context.Context, op model.OperationResult, status model.OperationStatus, payload map[string]any, msg string) model.OperationResult {
	op.Status = status
	op.Message = msg
	op.Payload = payload
	if op.Payload == nil {
		op.Payload = map[string]any{}
	}
	if err := s.store.RecordOperation(ctx, op); err != nil {
		s.logger.Warn("support: audit write failed", "operation_id", op.OperationID, "error", err)
	}
	return op
}

func subscriptionPayload(sub model.Subscription, action string) map[string]any {
	return map[string]any{
		"subscription_id": sub.ID,
		"plan_type":       sub.Plan,
		"status":          sub.Status,
		"start_date":      sub.StartedAt,
		"end_date":        sub.EndsAt,
		"action":          action,
	}
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intParam accepts JSON numbers (float64) and Go ints.
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	}
	return def
}
