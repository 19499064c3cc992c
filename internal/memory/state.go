package memory

import (
	"fmt"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// SetState stores an ephemeral value for the current processing attempt in
// the session. The session must exist.
func (s *Store) SetState(sessionID, key string, value any) error {
	return s.withSession(sessionID, true, func(sess *session) error {
		now := sess.ctx.LastActivity
		if e, ok := sess.state[key]; ok {
			e.Value = value
			e.LastAccess = now
			return nil
		}
		sess.state[key] = &model.MemoryEntry{Key: key, Value: value, CreatedAt: now, LastAccess: now}
		return nil
	})
}

// GetState reads a state value and bumps its access count.
func (s *Store) GetState(sessionID, key string) (model.MemoryEntry, error) {
	var out model.MemoryEntry
	err := s.withSession(sessionID, true, func(sess *session) error {
		e, ok := sess.state[key]
		if !ok {
			return fmt.Errorf("memory: state %s/%s: %w", sessionID, key, ErrNotFound)
		}
		e.AccessCount++
		e.LastAccess = sess.ctx.LastActivity
		out = *e
		return nil
	})
	return out, err
}

// ClearState drops the named state keys, or every state key when none are
// given. Clearing a missing session is a no-op.
func (s *Store) ClearState(sessionID string, keys ...string) {
	_ = s.withSession(sessionID, false, func(sess *session) error {
		if len(keys) == 0 {
			clear(sess.state)
			return nil
		}
		for _, k := range keys {
			delete(sess.state, k)
		}
		return nil
	})
}

// TicketStateKey names a state value that belongs to one ticket of a
// session. Several tickets may share a session, so per-ticket values are
// suffixed with the ticket id.
func TicketStateKey(ticketID, name string) string {
	return name + ":" + ticketID
}

// AdvanceTicketStage moves the stage of one ticket forward and returns its
// index. The stage is kept in the state scope under TicketStateKey(ticketID,
// "stage") and never moves backwards. The session stage records the
// furthest stage any of its tickets reached.
func (s *Store) AdvanceTicketStage(sessionID, ticketID string, stage model.Stage) (int, error) {
	key := TicketStateKey(ticketID, "stage")
	var idx int
	err := s.withSession(sessionID, true, func(sess *session) error {
		now := sess.ctx.LastActivity
		e, ok := sess.state[key]
		if !ok {
			e = &model.MemoryEntry{Key: key, Value: stage, CreatedAt: now}
			sess.state[key] = e
		}
		cur, _ := e.Value.(model.Stage)
		if !ok || stage.Index() > cur.Index() {
			e.Value = stage
			cur = stage
		}
		e.LastAccess = now
		idx = cur.Index()

		if stage.Index() > sess.ctx.StageIndex {
			sess.ctx.StageIndex = stage.Index()
			sess.ctx.Stage = stage
		}
		return nil
	})
	return idx, err
}
