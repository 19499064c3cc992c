package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// SaveOutcome upserts the outcome of a ticket.
func (s *Store) SaveOutcome(ctx context.Context, o model.TicketOutcome) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlite: encode outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ticket_outcomes (ticket_id, final_stage, outcome, completed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (ticket_id) DO UPDATE SET final_stage = excluded.final_stage,
		     outcome = excluded.outcome, completed_at = excluded.completed_at`,
		o.TicketID, string(o.FinalStage), string(raw), formatTime(o.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the stored outcome of ticketID.
func (s *Store) GetOutcome(ctx context.Context, ticketID string) (model.TicketOutcome, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM ticket_outcomes WHERE ticket_id = ?`, ticketID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TicketOutcome{}, fmt.Errorf("sqlite: outcome %s: %w", ticketID, model.ErrNotFound)
	}
	if err != nil {
		return model.TicketOutcome{}, fmt.Errorf("sqlite: get outcome: %w", err)
	}
	var o model.TicketOutcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return model.TicketOutcome{}, fmt.Errorf("sqlite: decode outcome: %w", err)
	}
	return o, nil
}

// ListOutcomes returns up to limit outcomes, most recently completed first.
func (s *Store) ListOutcomes(ctx context.Context, limit int) ([]model.TicketOutcome, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome FROM ticket_outcomes ORDER BY completed_at DESC, ticket_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TicketOutcome
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan outcome: %w", err)
		}
		var o model.TicketOutcome
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("sqlite: decode outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOperator inserts a new operator.
func (s *Store) CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, operator_id, name, role, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID.String(), op.OperatorID, op.Name, string(op.Role), op.APIKeyHash, formatTime(op.CreatedAt),
	)
	if err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: create operator: %w", err)
	}
	return op, nil
}

// GetOperator returns the operator with the given operator id.
func (s *Store) GetOperator(ctx context.Context, operatorID string) (model.Operator, error) {
	var (
		op               model.Operator
		id, role, create string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operator_id, name, role, api_key_hash, created_at FROM operators WHERE operator_id = ?`, operatorID,
	).Scan(&id, &op.OperatorID, &op.Name, &role, &op.APIKeyHash, &create)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operator{}, fmt.Errorf("sqlite: operator %s: %w", operatorID, model.ErrNotFound)
	}
	if err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: get operator: %w", err)
	}
	if op.ID, err = uuid.Parse(id); err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: parse operator id: %w", err)
	}
	if op.CreatedAt, err = parseTime(create); err != nil {
		return model.Operator{}, err
	}
	op.Role = model.OperatorRole(role)
	return op, nil
}

// CountOperators returns the number of registered operators.
func (s *Store) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count operators: %w", err)
	}
	return n, nil
}
