package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// PutLongTerm upserts one long-term memory record.
func (db *DB) PutLongTerm(ctx context.Context, rec model.LongTermRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO long_term_memory (user_id, key, value, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.Key, string(rec.Value), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put long-term: %w", err)
	}
	return nil
}

// GetLongTerm returns the record for userID/key, or nil when none exists.
func (db *DB) GetLongTerm(ctx context.Context, userID, key string) (*model.LongTermRecord, error) {
	rec := model.LongTermRecord{UserID: userID, Key: key}
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT value, updated_at FROM long_term_memory WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&raw, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get long-term: %w", err)
	}
	rec.Value = raw
	return &rec, nil
}

// ListLongTerm returns every record of userID ordered by key.
func (db *DB) ListLongTerm(ctx context.Context, userID string) ([]model.LongTermRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT key, value, updated_at FROM long_term_memory WHERE user_id = $1 ORDER BY key`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list long-term: %w", err)
	}
	defer rows.Close()

	var out []model.LongTermRecord
	for rows.Next() {
		rec := model.LongTermRecord{UserID: userID}
		var raw []byte
		if err := rows.Scan(&rec.Key, &raw, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan long-term: %w", err)
		}
		rec.Value = raw
		out = append(out, rec)
	}
	return out, rows.Err()
}
