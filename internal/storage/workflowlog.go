package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/madoguchi/internal/model"
)

var workflowLogColumns = []string{
	"id", "ticket_id", "user_id", "session_id", "stage", "entry_type",
	"severity", "message", "payload", "content_hash", "created_at",
}

// WorkflowLogSink adapts DB to the workflow log sink interface.
type WorkflowLogSink struct{ db *DB }

// WorkflowLog returns the workflow log sink backed by db.
func (db *DB) WorkflowLog() *WorkflowLogSink { return &WorkflowLogSink{db: db} }

// Append inserts entries with the COPY protocol.
func (s *WorkflowLogSink) Append(ctx context.Context, entries []model.WorkflowLogEntry) error {
	_, err := s.db.InsertWorkflowLog(ctx, entries)
	return err
}

// Query returns matching entries ordered by creation time.
func (s *WorkflowLogSink) Query(ctx context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	return s.db.QueryWorkflowLog(ctx, f)
}

// InsertWorkflowLog writes entries with COPY and returns the row count.
func (db *DB) InsertWorkflowLog(ctx context.Context, entries []model.WorkflowLogEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		var payload any
		if len(e.Payload) > 0 {
			payload = e.Payload
		}
		rows[i] = []any{
			e.ID, e.TicketID, e.UserID, e.SessionID, string(e.Stage), string(e.Type),
			string(e.Severity), e.Message, payload, e.ContentHash, e.CreatedAt,
		}
	}

	// A hung Postgres must not block the log flush loop forever.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"workflow_log"}, workflowLogColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy workflow log: %w", err)
	}
	return n, nil
}

// QueryWorkflowLog returns entries matching f, oldest first.
func (db *DB) QueryWorkflowLog(ctx context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TicketID != "" {
		add("ticket_id = $%d", f.TicketID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.Stage != "" {
		add("stage = $%d", string(f.Stage))
	}
	if f.Type != "" {
		add("entry_type = $%d", string(f.Type))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}

	q := `SELECT ` + strings.Join(workflowLogColumns, ", ") + ` FROM workflow_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query workflow log: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowLogEntry
	for rows.Next() {
		var (
			e                    model.WorkflowLogEntry
			stage, typ, severity    string
		)
		if err := rows.Scan(&e.ID, &e.TicketID, &e.UserID, &e.SessionID, &stage, &typ,
			&severity, &e.Message, &e.Payload, &e.ContentHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan workflow log: %w", err)
		}
		e.Stage, e.Type, e.Severity = model.Stage(stage), model.EntryType(typ), model.Severity(severity)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
