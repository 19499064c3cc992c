package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Append inserts entries in one transaction, preserving batch order.
func (s *Store) Append(ctx context.Context, entries []model.WorkflowLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM workflow_log`).Scan(&seq); err != nil {
		return fmt.Errorf("sqlite: next seq: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO workflow_log (id, ticket_id, user_id, session_id, stage, entry_type, severity, message, payload, content_hash, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare append: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		var payload sql.NullString
		if len(e.Payload) > 0 {
			raw, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("sqlite: encode payload: %w", err)
			}
			payload = sql.NullString{String: string(raw), Valid: true}
		}
		seq++
		if _, err := stmt.ExecContext(ctx, e.ID.String(), e.TicketID, e.UserID, e.SessionID, string(e.Stage),
			string(e.Type), string(e.Severity), e.Message, payload, e.ContentHash, formatTime(e.CreatedAt), seq); err != nil {
			return fmt.Errorf("sqlite: insert log entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit append: %w", err)
	}
	return nil
}

// Query returns entries matching f, oldest first.
func (s *Store) Query(ctx context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.TicketID != "" {
		add("ticket_id = ?", f.TicketID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if f.Stage != "" {
		add("stage = ?", string(f.Stage))
	}
	if f.Type != "" {
		add("entry_type = ?", string(f.Type))
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	if f.Since != nil {
		add("created_at >= ?", formatTime(*f.Since))
	}
	if f.Until != nil {
		add("created_at <= ?", formatTime(*f.Until))
	}

	q := `SELECT id, ticket_id, user_id, session_id, stage, entry_type, severity, message, payload, content_hash, created_at
	      FROM workflow_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query workflow log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.WorkflowLogEntry
	for rows.Next() {
		var (
			e                                 model.WorkflowLogEntry
			id, stage, typ, severity, created string
			payload                           sql.NullString
		)
		if err := rows.Scan(&id, &e.TicketID, &e.UserID, &e.SessionID, &stage, &typ, &severity,
			&e.Message, &payload, &e.ContentHash, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan log entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: parse entry id: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlite: decode payload: %w", err)
			}
		}
		e.Stage, e.Type, e.Severity = model.Stage(stage), model.EntryType(typ), model.Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}
