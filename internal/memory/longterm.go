package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// MaxResolvedIssues caps the resolved-issue history kept per user.
const MaxResolvedIssues = 50

// recentMessages is how many session turns Context returns.
const recentMessages = 5

func cacheKey(userID, key string) string { return userID + "\x00" + key }

// PutLongTerm stores value (JSON-encoded) under userID/key. Writes to the
// same user and key are serialized.
func (s *Store) PutLongTerm(ctx context.Context, userID, key string, value any) error {
	if userID == "" || key == "" {
		return errors.New("memory: put long-term: user id and key are required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: encode %s/%s: %w", userID, key, err)
	}
	ck := cacheKey(userID, key)
	mu := s.stripe(ck)
	mu.Lock()
	defer mu.Unlock()
	return s.putLocked(ctx, model.LongTermRecord{UserID: userID, Key: key, Value: raw, UpdatedAt: s.opts.Now().UTC()})
}

func (s *Store) putLocked(ctx context.Context, rec model.LongTermRecord) error {
	if err := s.backend.PutLongTerm(ctx, rec); err != nil {
		return fmt.Errorf("memory: put long-term %s/%s: %w", rec.UserID, rec.Key, err)
	}
	s.cacheStore(cacheKey(rec.UserID, rec.Key), &rec)
	return nil
}

// GetLongTerm returns the record for userID/key, or ErrNotFound. Concurrent
// misses for the same key share one backend read.
func (s *Store) GetLongTerm(ctx context.Context, userID, key string) (model.LongTermRecord, error) {
	ck := cacheKey(userID, key)
	if rec, ok := s.cacheLoad(ck); ok {
		if rec == nil {
			return model.LongTermRecord{}, fmt.Errorf("memory: long-term %s/%s: %w", userID, key, ErrNotFound)
		}
		return *rec, nil
	}

	v, err, _ := s.loads.Do(ck, func() (any, error) {
		rec, err := s.backend.GetLongTerm(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		s.cacheStore(ck, rec)
		return rec, nil
	})
	if err != nil {
		return model.LongTermRecord{}, fmt.Errorf("memory: get long-term %s/%s: %w", userID, key, err)
	}
	rec, _ := v.(*model.LongTermRecord)
	if rec == nil {
		return model.LongTermRecord{}, fmt.Errorf("memory: long-term %s/%s: %w", userID, key, ErrNotFound)
	}
	return *rec, nil
}

// ListLongTerm returns every record of userID, sorted by key. It always
// reads through to the backend.
func (s *Store) ListLongTerm(ctx context.Context, userID string) ([]model.LongTermRecord, error) {
	recs, err := s.backend.ListLongTerm(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: list long-term %s: %w", userID, err)
	}
	return recs, nil
}

// AppendResolvedIssue adds issue to the user's resolved_issues history,
// keeping the newest MaxResolvedIssues entries.
func (s *Store) AppendResolvedIssue(ctx context.Context, userID string, issue model.ResolvedIssue) error {
	if userID == "" {
		return errors.New("memory: append resolved issue: user id is required")
	}
	ck := cacheKey(userID, model.MemoryKeyResolvedIssues)
	mu := s.stripe(ck)
	mu.Lock()
	defer mu.Unlock()

	issues, err := s.resolvedIssues(ctx, userID)
	if err != nil {
		return err
	}
	issues = append(issues, issue)
	if len(issues) > MaxResolvedIssues {
		issues = issues[len(issues)-MaxResolvedIssues:]
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("memory: encode resolved issues: %w", err)
	}
	return s.putLocked(ctx, model.LongTermRecord{
		UserID:    userID,
		Key:       model.MemoryKeyResolvedIssues,
		Value:     raw,
		UpdatedAt: s.opts.Now().UTC(),
	})
}

// ResolvedIssues returns the user's resolved-issue history, oldest first.
func (s *Store) ResolvedIssues(ctx context.Context, userID string) ([]model.ResolvedIssue, error) {
	return s.resolvedIssues(ctx, userID)
}

func (s *Store) resolvedIssues(ctx context.Context, userID string) ([]model.ResolvedIssue, error) {
	rec, err := s.GetLongTerm(ctx, userID, model.MemoryKeyResolvedIssues)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var issues []model.ResolvedIssue
	if err := json.Unmarshal(rec.Value, &issues); err != nil {
		return nil, fmt.Errorf("memory: decode resolved issues for %s: %w", userID, err)
	}
	return issues, nil
}

// Context assembles what decision stages may know about the ticket's
// session and user. A missing session or user history yields empty fields.
func (s *Store) Context(ctx context.Context, sessionID, userID string) (model.AgentContext, error) {
	out := model.AgentContext{SessionID: sessionID, UserID: userID}
	if sess, err := s.Session(sessionID); err == nil {
		msgs := sess.Messages
		if len(msgs) > recentMessages {
			msgs = msgs[len(msgs)-recentMessages:]
		}
		out.RecentMessages = msgs
	}
	if userID == "" {
		return out, nil
	}

	issues, err := s.resolvedIssues(ctx, userID)
	if err != nil {
		return out, err
	}
	out.ResolvedIssues = issues

	rec, err := s.GetLongTerm(ctx, userID, model.MemoryKeyPreferences)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return out, err
	default:
		if err := json.Unmarshal(rec.Value, &out.Preferences); err != nil {
			return out, fmt.Errorf("memory: decode preferences for %s: %w", userID, err)
		}
	}
	return out, nil
}

// cacheLoad returns the cached record (nil for a cached miss) and whether
// the cache had a live entry.
func (s *Store) cacheLoad(key string) (*model.LongTermRecord, bool) {
	if s.opts.CacheTTL < 0 {
		return nil, false
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	c, ok := s.cache[key]
	if !ok || s.opts.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.rec, true
}

func (s *Store) cacheStore(key string, rec *model.LongTermRecord) {
	if s.opts.CacheTTL < 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[key] = cachedRecord{rec: rec, expiresAt: s.opts.Now().Add(s.opts.CacheTTL)}
}
