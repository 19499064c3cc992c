package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
)

var _ support.Store = (*Store)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) FindAccount(ctx context.Context, identifier string, byEmail bool) (model.Account, error) {
	col := "user_id"
	if byEmail {
		col = "email"
	}
	var (
		a       model.Account
		blocked int
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, full_name, tier, is_blocked, created_at FROM accounts WHERE `+col+` = ?`, identifier,
	).Scan(&a.UserID, &a.Email, &a.FullName, &a.Tier, &blocked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, model.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("sqlite: find account: %w", err)
	}
	a.Blocked = blocked != 0
	if a.CreatedAt, err = parseTime(created); err != nil {
		return model.Account{}, err
	}
	return a, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date
		 FROM subscriptions WHERE user_id = ? AND status = 'active' ORDER BY subscription_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ListReservations(ctx context.Context, userID string, limit int) ([]model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reservation_id, user_id, status, created_at FROM reservations
		 WHERE user_id = ? ORDER BY created_at DESC, reservation_id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Reservation{}
	for rows.Next() {
		var (
			r       model.Reservation
			created string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Status, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan reservation: %w", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetSubscription(ctx context.Context, userID, subscriptionID string) (model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date
		 FROM subscriptions WHERE subscription_id = ? AND user_id = ?`, subscriptionID, userID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, model.ErrNotFound
	}
	return sub, err
}

func (s *Store) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id) DO UPDATE SET plan_type = excluded.plan_type, status = excluded.status,
		     monthly_quota = excluded.monthly_quota, end_date = excluded.end_date`,
		sub.ID, sub.UserID, sub.Plan, sub.Status, sub.MonthlyQuota, formatTime(sub.StartedAt), nullTime(sub.EndsAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save subscription: %w", err)
	}
	return nil
}

// RefundReservation checks and refunds the reservation in one transaction.
// The single-connection pool serializes it against other writers.
func (s *Store) RefundReservation(ctx context.Context, refund model.Refund) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin refund: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r model.Reservation
	err = tx.QueryRowContext(ctx,
		`SELECT reservation_id, status FROM reservations WHERE reservation_id = ? AND user_id = ?`,
		refund.ReservationID, refund.UserID,
	).Scan(&r.ID, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: load reservation: %w", err)
	}
	if !r.Refundable() {
		return model.ErrNotRefundable
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE reservation_id = ?`,
		model.ReservationRefunded, r.ID); err != nil {
		return fmt.Errorf("sqlite: update reservation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refunds (refund_id, reservation_id, user_id, amount, reason, status, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		refund.ID, refund.ReservationID, refund.UserID, refund.Amount, refund.Reason, refund.Status,
		formatTime(refund.ProcessedAt)); err != nil {
		return fmt.Errorf("sqlite: insert refund: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit refund: %w", err)
	}
	return nil
}

func (s *Store) RecordOperation(ctx context.Context, op model.OperationResult) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: encode operation payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO support_operations (operation_id, operation, status, message, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.OperationID, op.Operation, string(op.Status), op.Message, string(payload), formatTime(op.Timestamp))
	if err != nil {
		return fmt.Errorf("sqlite: record operation: %w", err)
	}
	return nil
}

func (s *Store) ListOperations(ctx context.Context, limit int) ([]model.OperationResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation_id, operation, status, message, payload, created_at
		 FROM support_operations ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.OperationResult
	for rows.Next() {
		var (
			op                       model.OperationResult
			status, payload, created string
		)
		if err := rows.Scan(&op.OperationID, &op.Operation, &status, &op.Message, &payload, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan operation: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
			return nil, fmt.Errorf("sqlite: decode operation payload: %w", err)
		}
		if op.Timestamp, err = parseTime(created); err != nil {
			return nil, err
		}
		op.Status = model.OperationStatus(status)
		out = append(out, op)
	}
	return out, rows.Err()
}

// SeedCustomers loads fixtures, leaving existing rows untouched.
func (s *Store) SeedCustomers(ctx context.Context, seed support.Seed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range seed.Accounts {
		blocked := 0
		if a.Blocked {
			blocked = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO accounts (user_id, email, full_name, tier, is_blocked, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			a.UserID, a.Email, a.FullName, a.Tier, blocked, formatTime(a.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: seed account %s: %w", a.UserID, err)
		}
	}
	for _, sub := range seed.Subscriptions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscriptions (subscription_id, user_id, plan_type, status, monthly_quota, start_date, end_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.UserID, sub.Plan, sub.Status, sub.MonthlyQuota, formatTime(sub.StartedAt), nullTime(sub.EndsAt)); err != nil {
			return fmt.Errorf("sqlite: seed subscription %s: %w", sub.ID, err)
		}
	}
	for _, r := range seed.Reservations {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO reservations (reservation_id, user_id, status, created_at) VALUES (?, ?, ?, ?)`,
			r.ID, r.UserID, r.Status, formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: seed reservation %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit seed: %w", err)
	}
	return nil
}

func scanSubscription(row scanner) (model.Subscription, error) {
	var (
		sub   model.Subscription
		start string
		end   sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.MonthlyQuota, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Subscription{}, err
		}
		return model.Subscription{}, fmt.Errorf("sqlite: scan subscription: %w", err)
	}
	var err error
	if sub.StartedAt, err = parseTime(start); err != nil {
		return model.Subscription{}, err
	}
	if end.Valid {
		t, err := parseTime(end.String)
		if err != nil {
			return model.Subscription{}, err
		}
		sub.EndsAt = &t
	}
	return sub, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
