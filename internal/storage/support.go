package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
)

var _ support.Store = (*DB)(nil)

// FindAccount looks an account up by email (case-insensitive) or user id.
func (db *DB) FindAccount(ctx context.Context, identifier string, byEmail bool) (model.Account, error) {
	q := `SELECT user_id, email, full_name, tier, is_blocked, created_at FROM accounts WHERE user_id = $1`
	if byEmail {
		q = `SELECT user_id, email, full_name, tier, is_blocked, created_at FROM accounts WHERE lower(email) = lower($1)`
	}
	var a model.Account
	err := db.pool.QueryRow(ctx, q, identifier).Scan(&a.UserID, &a.Email, &a.FullName, &a.Tier, &a.Blocked, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("storage: find account: %w", err)
	}
	return a, nil
}

// ListSubscriptions returns the user's active subscriptions.
func (db *DB) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date
		 FROM subscriptions WHERE user_id = $1 AND status = 'active' ORDER BY subscription_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list subscriptions: %w", err)
	}
	defer rows.Close()

	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListReservations returns the user's most recent reservations.
func (db *DB) ListReservations(ctx context.Context, userID string, limit int) ([]model.Reservation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT reservation_id, user_id, status, created_at FROM reservations
		 WHERE user_id = $1 ORDER BY created_at DESC, reservation_id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list reservations: %w", err)
	}
	defer rows.Close()

	out := []model.Reservation{}
	for rows.Next() {
		var r model.Reservation
		if err := rows.Scan(&r.ID, &r.UserID, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSubscription returns one of the user's subscriptions.
func (db *DB) GetSubscription(ctx context.Context, userID, subscriptionID string) (model.Subscription, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date
		 FROM subscriptions WHERE subscription_id = $1 AND user_id = $2`, subscriptionID, userID)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	return s, err
}

// SaveSubscription upserts a subscription.
func (db *DB) SaveSubscription(ctx context.Context, s model.Subscription) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO subscriptions (subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (subscription_id) DO UPDATE SET
		     plan_type = EXCLUDED.plan_type, status = EXCLUDED.status,
		     monthly_quota = EXCLUDED.monthly_quota, end_date = EXCLUDED.end_date`,
		s.ID, s.UserID, s.Plan, s.Status, s.MonthlyQuota, s.StartedAt, s.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save subscription: %w", err)
	}
	return nil
}

// RefundReservation locks the reservation, checks it is refundable, marks it
// refunded and records the refund in one transaction. Serialization failures
// are retried.
func (db *DB) RefundReservation(ctx context.Context, refund model.Refund) error {
	return WithRetry(ctx, txRetries, txBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin refund tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var r model.Reservation
		err = tx.QueryRow(ctx,
			`SELECT reservation_id, user_id, status FROM reservations
			 WHERE reservation_id = $1 AND user_id = $2 FOR UPDATE`,
			refund.ReservationID, refund.UserID,
		).Scan(&r.ID, &r.UserID, &r.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: lock reservation: %w", err)
		}
		if !r.Refundable() {
			return model.ErrNotRefundable
		}

		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET status = $2 WHERE reservation_id = $1`,
			r.ID, model.ReservationRefunded,
		); err != nil {
			return fmt.Errorf("storage: update reservation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO refunds (refund_id, reservation_id, user_id, amount, reason, status, processed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			refund.ID, refund.ReservationID, refund.UserID, refund.Amount, refund.Reason, refund.Status, refund.ProcessedAt,
		); err != nil {
			return fmt.Errorf("storage: insert refund: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit refund tx: %w", err)
		}
		return nil
	})
}

// RecordOperation appends a support operation to the audit log.
func (db *DB) RecordOperation(ctx context.Context, op model.OperationResult) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("storage: encode operation payload: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO support_operations (operation_id, operation, status, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		op.OperationID, op.Operation, string(op.Status), op.Message, string(payload), op.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: record operation: %w", err)
	}
	return nil
}

// ListOperations returns the newest audit entries first.
func (db *DB) ListOperations(ctx context.Context, limit int) ([]model.OperationResult, error) {
	q := `SELECT operation_id, operation, status, message, payload, created_at
	      FROM support_operations ORDER BY created_at DESC, operation_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list operations: %w", err)
	}
	defer rows.Close()

	var out []model.OperationResult
	for rows.Next() {
		var (
			op     model.OperationResult
			status string
		)
		if err := rows.Scan(&op.OperationID, &op.Operation, &status, &op.Message, &op.Payload, &op.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan operation: %w", err)
		}
		op.Status = model.OperationStatus(status)
		out = append(out, op)
	}
	return out, rows.Err()
}

// SeedCustomers loads fixtures, leaving existing rows untouched.
func (db *DB) SeedCustomers(ctx context.Context, seed support.Seed) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, a := range seed.Accounts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (user_id, email, full_name, tier, is_blocked, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
			a.UserID, a.Email, a.FullName, a.Tier, a.Blocked, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: seed account %s: %w", a.UserID, err)
		}
	}
	for _, s := range seed.Subscriptions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO subscriptions (subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
			s.ID, s.UserID, s.Plan, s.Status, s.MonthlyQuota, s.StartedAt, s.EndsAt,
		); err != nil {
			return fmt.Errorf("storage: seed subscription %s: %w", s.ID, err)
		}
	}
	for _, r := range seed.Reservations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reservations (reservation_id, user_id, status, created_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			r.ID, r.UserID, r.Status, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: seed reservation %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit seed tx: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.Plan, &s.Status, &s.MonthlyQuota, &s.StartedAt, &s.EndsAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, err
		}
		return model.Subscription{}, fmt.Errorf("storage: scan subscription: %w", err)
	}
	return s, nil
}
