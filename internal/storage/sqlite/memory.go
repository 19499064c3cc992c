package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// PutLongTerm upserts one long-term memory record.
func (s *Store) PutLongTerm(ctx context.Context, rec model.LongTermRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO long_term_memory (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		rec.UserID, rec.Key, string(rec.Value), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put long-term: %w", err)
	}
	return nil
}

// GetLongTerm returns the record for userID/key, or nil when none exists.
func (s *Store) GetLongTerm(ctx context.Context, userID, key string) (*model.LongTermRecord, error) {
	var value, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM long_term_memory WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get long-term: %w", err)
	}
	ts, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	return &model.LongTermRecord{UserID: userID, Key: key, Value: []byte(value), UpdatedAt: ts}, nil
}

// ListLongTerm returns every record of userID ordered by key.
func (s *Store) ListLongTerm(ctx context.Context, userID string) ([]model.LongTermRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM long_term_memory WHERE user_id = ? ORDER BY key`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list long-term: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LongTermRecord
	for rows.Next() {
		var key, value, updated string
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan long-term: %w", err)
		}
		ts, err := parseTime(updated)
		if err != nil {
			return nil, err
		}
		out = append(out, model.LongTermRecord{UserID: userID, Key: key, Value: []byte(value), UpdatedAt: ts})
	}
	return out, rows.Err()
}
