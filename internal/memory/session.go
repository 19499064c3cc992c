package memory

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// StartSession returns the live session with id, or creates it. An empty id
// gets a generated one. An expired session with the same id is replaced.
func (s *Store) StartSession(id, threadID, userID string) model.SessionContext {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if !s.expired(sess, now) {
			sess.ctx.LastActivity = now
			return cloneSession(sess.ctx)
		}
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}
	sess := &session{
		ctx: model.SessionContext{
			SessionID:    id,
			ThreadID:     threadID,
			UserID:       userID,
			Values:       make(map[string]model.MemoryEntry),
			Stage:        model.StageSubmission,
			CreatedAt:    now,
			LastActivity: now,
		},
		state: make(map[string]*model.MemoryEntry),
	}
	s.sessions[id] = sess
	return cloneSession(sess.ctx)
}

// Session returns a copy of the session. Expired sessions are not found even
// before the sweep removes them.
func (s *Store) Session(id string) (model.SessionContext, error) {
	var out model.SessionContext
	err := s.withSession(id, false, func(sess *session) error {
		out = cloneSession(sess.ctx)
		return nil
	})
	return out, err
}

// EndSession drops the session and its state.
func (s *Store) EndSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// AppendMessage adds a turn to the session conversation log.
func (s *Store) AppendMessage(id string, msg model.SessionMessage) error {
	return s.withSession(id, true, func(sess *session) error {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = sess.ctx.LastActivity
		}
		sess.ctx.Messages = append(sess.ctx.Messages, msg)
		return nil
	})
}

// RecordTool adds an entry to the session tool-invocation log.
func (s *Store) RecordTool(id string, inv model.ToolInvocation) error {
	return s.withSession(id, true, func(sess *session) error {
		if inv.Timestamp.IsZero() {
			inv.Timestamp = sess.ctx.LastActivity
		}
		sess.ctx.ToolCalls = append(sess.ctx.ToolCalls, inv)
		return nil
	})
}

// Remember stores a session-scoped value that outlives individual tickets in
// the session.
func (s *Store) Remember(id, key string, value any) error {
	return s.withSession(id, true, func(sess *session) error {
		now := sess.ctx.LastActivity
		e, ok := sess.ctx.Values[key]
		if !ok {
			e = model.MemoryEntry{Key: key, CreatedAt: now}
		}
		e.Value = value
		e.LastAccess = now
		sess.ctx.Values[key] = e
		return nil
	})
}

// Recall reads a session-scoped value and bumps its access count.
func (s *Store) Recall(id, key string) (model.MemoryEntry, error) {
	var out model.MemoryEntry
	err := s.withSession(id, true, func(sess *session) error {
		e, ok := sess.ctx.Values[key]
		if !ok {
			return fmt.Errorf("memory: session %s key %q: %w", id, key, ErrNotFound)
		}
		e.AccessCount++
		e.LastAccess = sess.ctx.LastActivity
		sess.ctx.Values[key] = e
		out = e
		return nil
	})
	return out, err
}

// Summary condenses the session for operators.
func (s *Store) Summary(id string) (model.SessionSummary, error) {
	var out model.SessionSummary
	err := s.withSession(id, false, func(sess *session) error {
		usage := make(map[string]int)
		for _, tc := range sess.ctx.ToolCalls {
			usage[tc.Tool]++
		}
		out = model.SessionSummary{
			SessionID:     sess.ctx.SessionID,
			UserID:        sess.ctx.UserID,
			MessageCount:  len(sess.ctx.Messages),
			ToolCallCount: len(sess.ctx.ToolCalls),
			ToolUsage:     usage,
			Stage:         sess.ctx.Stage,
			CreatedAt:     sess.ctx.CreatedAt,
			LastActivity:  sess.ctx.LastActivity,
			Duration:      sess.ctx.LastActivity.Sub(sess.ctx.CreatedAt),
		}
		return nil
	})
	return out, err
}

// withSession runs fn with the session locked. touch marks activity before
// fn runs.
func (s *Store) withSession(id string, touch bool, fn func(*session) error) error {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memory: session %s: %w", id, ErrNotFound)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	now := s.opts.Now()
	if s.expired(sess, now) {
		return fmt.Errorf("memory: session %s: %w", id, ErrNotFound)
	}
	if touch {
		sess.ctx.LastActivity = now
	}
	return fn(sess)
}

func cloneSession(c model.SessionContext) model.SessionContext {
	c.Messages = slices.Clone(c.Messages)
	c.ToolCalls = slices.Clone(c.ToolCalls)
	c.Values = maps.Clone(c.Values)
	return c
}

