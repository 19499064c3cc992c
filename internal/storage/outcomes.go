package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// SaveOutcome upserts the outcome of a ticket. Reprocessing a ticket
// replaces its previous outcome.
func (db *DB) SaveOutcome(ctx context.Context, o model.TicketOutcome) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("storage: encode outcome: %w", err)
	}
	var category string
	if o.Classification != nil {
		category = string(o.Classification.Category)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO ticket_outcomes (ticket_id, user_id, session_id, final_stage, category, outcome, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		 ON CONFLICT (ticket_id) DO UPDATE SET
		     user_id = EXCLUDED.user_id, session_id = EXCLUDED.session_id,
		     final_stage = EXCLUDED.final_stage, category = EXCLUDED.category,
		     outcome = EXCLUDED.outcome, started_at = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at`,
		o.TicketID, o.UserID, o.SessionID, string(o.FinalStage), category, string(raw), o.StartedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the stored outcome of ticketID.
func (db *DB) GetOutcome(ctx context.Context, ticketID string) (model.TicketOutcome, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT outcome FROM ticket_outcomes WHERE ticket_id = $1`, ticketID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TicketOutcome{}, fmt.Errorf("storage: outcome %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return model.TicketOutcome{}, fmt.Errorf("storage: get outcome: %w", err)
	}
	var o model.TicketOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return model.TicketOutcome{}, fmt.Errorf("storage: decode outcome %s: %w", ticketID, err)
	}
	return o, nil
}

// ListOutcomes returns up to limit outcomes, most recently completed first.
// A non-positive limit returns all of them.
func (db *DB) ListOutcomes(ctx context.Context, limit int) ([]model.TicketOutcome, error) {
	q := `SELECT outcome FROM ticket_outcomes ORDER BY completed_at DESC, ticket_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.TicketOutcome
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: scan outcome: %w", err)
		}
		var o model.TicketOutcome
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("storage: decode outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
