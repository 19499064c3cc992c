package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, backend LongTermBackend) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New(backend, Options{SessionTTL: time.Hour, Now: clock.Now}, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestSession_Lifecycle(t *testing.T) {
	s, clock := newTestStore(t, nil)

	sc := s.StartSession("s1", "t1", "u1")
	assert.Equal(t, "s1", sc.SessionID)
	assert.Equal(t, "t1", sc.ThreadID)
	assert.Equal(t, model.StageSubmission, sc.Stage)

	clock.Advance(time.Minute)
	require.NoError(t, s.AppendMessage("s1", model.SessionMessage{Role: "user", Content: "hello"}))
	require.NoError(t, s.RecordTool("s1", model.ToolInvocation{Tool: "lookup_account", Status: "success"}))
	require.NoError(t, s.RecordTool("s1", model.ToolInvocation{Tool: "lookup_account", Status: "success"}))

	got, err := s.Session("s1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, clock.Now(), got.Messages[0].Timestamp)

	sum, err := s.Summary("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.MessageCount)
	assert.Equal(t, 2, sum.ToolUsage["lookup_account"])
	assert.Equal(t, time.Minute, sum.Duration)

	s.EndSession("s1")
	_, err = s.Session("s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartSession_ReturnsExisting(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.StartSession("s1", "t1", "u1")
	require.NoError(t, s.AppendMessage("s1", model.SessionMessage{Role: "user", Content: "x"}))

	again := s.StartSession("s1", "t2", "u1")
	assert.Equal(t, "t1", again.ThreadID)
	assert.Len(t, again.Messages, 1)

	generated := s.StartSession("", "", "u2")
	assert.NotEmpty(t, generated.SessionID)
	assert.NotEmpty(t, generated.ThreadID)
}

func TestSession_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.StartSession("s1", "t1", "u1")
	require.NoError(t, s.AppendMessage("s1", model.SessionMessage{Content: "a"}))

	got, err := s.Session("s1")
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := s.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Messages[0].Content)
}

func TestAdvanceTicketStage_PerTicket(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.StartSession("conv", "conv", "u1")

	idx, err := s.AdvanceTicketStage("conv", "T-1", model.StageCompletion)
	require.NoError(t, err)
	assert.Equal(t, 5, idx)

	idx, err = s.AdvanceTicketStage("conv", "T-1", model.StageRouting)
	require.NoError(t, err)
	assert.Equal(t, 5, idx, "a ticket's stage never moves back")

	idx, err = s.AdvanceTicketStage("conv", "T-2", model.StageSubmission)
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "a new ticket in the session starts at submission")

	e, err := s.GetState("conv", TicketStateKey("T-2", "stage"))
	require.NoError(t, err)
	assert.Equal(t, model.StageSubmission, e.Value)

	sess, err := s.Session("conv")
	require.NoError(t, err)
	assert.Equal(t, model.StageCompletion, sess.Stage)
	assert.Equal(t, 5, sess.StageIndex)

	_, err = s.AdvanceTicketStage("missing", "T-1", model.StageRouting)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestState_SetGetClear(t *testing.T) {
	s, _ := newTestStore(t, nil)

	assert.ErrorIs(t, s.SetState("nope", "k", 1), ErrNotFound)

	s.StartSession("s1", "", "u1")
	require.NoError(t, s.SetState("s1", "classification", "technical"))
	require.NoError(t, s.SetState("s1", "classification", "billing"))

	e, err := s.GetState("s1", "classification")
	require.NoError(t, err)
	assert.Equal(t, "billing", e.Value)
	assert.Equal(t, 1, e.AccessCount)

	e, err = s.GetState("s1", "classification")
	require.NoError(t, err)
	assert.Equal(t, 2, e.AccessCount)

	require.NoError(t, s.SetState("s1", "other", true))
	s.ClearState("s1", "classification")
	_, err = s.GetState("s1", "classification")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetState("s1", "other")
	assert.NoError(t, err)

	s.ClearState("s1")
	assert.Zero(t, s.Stats().StateEntries)
	s.ClearState("missing")
}

func TestRememberRecall(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.StartSession("s1", "", "u1")

	_, err := s.Recall("s1", "lang")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remember("s1", "lang", "en"))
	e, err := s.Recall("s1", "lang")
	require.NoError(t, err)
	assert.Equal(t, "en", e.Value)
	assert.Equal(t, 1, e.AccessCount)
}

func TestExpiry_ReadBeforeSweepIsNotFound(t *testing.T) {
	s, clock := newTestStore(t, nil)
	s.StartSession("s1", "", "u1")
	require.NoError(t, s.SetState("s1", "k", 1))

	clock.Advance(time.Hour + time.Second)

	_, err := s.Session("s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetState("s1", "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, s.Stats().ActiveSessions, "reads do not evict")

	assert.Equal(t, 1, s.CleanupExpired())
	assert.Zero(t, s.Stats().ActiveSessions)

	fresh := s.StartSession("s1", "", "u1")
	assert.Empty(t, fresh.Messages)
}

func TestExpiry_ActivityExtendsSession(t *testing.T) {
	s, clock := newTestStore(t, nil)
	s.StartSession("s1", "", "u1")
	clock.Advance(50 * time.Minute)
	require.NoError(t, s.AppendMessage("s1", model.SessionMessage{Content: "still here"}))
	clock.Advance(50 * time.Minute)

	assert.Zero(t, s.CleanupExpired())
	_, err := s.Session("s1")
	assert.NoError(t, err)
}

func TestSweepLoop_StartClose(t *testing.T) {
	s := New(nil, Options{SessionTTL: time.Millisecond, SweepInterval: 5 * time.Millisecond}, nil)
	s.StartSession("s1", "", "u1")
	s.Start()
	s.Start()

	require.Eventually(t, func() bool { return s.Stats().ActiveSessions == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	unstarted := New(nil, Options{}, nil)
	require.NoError(t, unstarted.Close())
}

func TestLongTerm_PutGetList(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.GetLongTerm(ctx, "u1", "preferences")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutLongTerm(ctx, "u1", "preferences", map[string]any{"channel": "email"}))
	require.NoError(t, s.PutLongTerm(ctx, "u1", "a_key", 42))

	rec, err := s.GetLongTerm(ctx, "u1", "preferences")
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"email"}`, string(rec.Value))

	recs, err := s.ListLongTerm(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a_key", recs[0].Key)

	assert.Error(t, s.PutLongTerm(ctx, "", "k", 1))
}

// countingBackend counts reads and can block them to exercise coalescing.
type countingBackend struct {
	*MapBackend
	reads   atomic.Int32
	release chan struct{}
	fail    error
}

func (b *countingBackend) GetLongTerm(ctx context.Context, userID, key string) (*model.LongTermRecord, error) {
	b.reads.Add(1)
	if b.release != nil {
		<-b.release
	}
	if b.fail != nil {
		return nil, b.fail
	}
	return b.MapBackend.GetLongTerm(ctx, userID, key)
}

func TestGetLongTerm_CachesAndCoalesces(t *testing.T) {
	backend := &countingBackend{MapBackend: NewMapBackend(), release: make(chan struct{})}
	require.NoError(t, backend.MapBackend.PutLongTerm(context.Background(), model.LongTermRecord{
		UserID: "u1", Key: "k", Value: json.RawMessage(`"v"`),
	}))
	s, clock := newTestStore(t, backend)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.GetLongTerm(context.Background(), "u1", "k")
			assert.NoError(t, err)
			assert.Equal(t, `"v"`, string(rec.Value))
		}()
	}
	require.Eventually(t, func() bool { return backend.reads.Load() >= 1 }, time.Second, time.Millisecond)
	close(backend.release)
	wg.Wait()
	assert.LessOrEqual(t, backend.reads.Load(), int32(8))

	before := backend.reads.Load()
	_, err := s.GetLongTerm(context.Background(), "u1", "k")
	require.NoError(t, err)
	assert.Equal(t, before, backend.reads.Load(), "second read is served from cache")

	clock.Advance(6 * time.Minute)
	_, err = s.GetLongTerm(context.Background(), "u1", "k")
	require.NoError(t, err)
	assert.Equal(t, before+1, backend.reads.Load(), "expired cache entry reads through")
}

func TestGetLongTerm_BackendError(t *testing.T) {
	backend := &countingBackend{MapBackend: NewMapBackend(), fail: errors.New("db down")}
	s, _ := newTestStore(t, backend)
	_, err := s.GetLongTerm(context.Background(), "u1", "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, "db down")
}

func TestAppendResolvedIssue_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AppendResolvedIssue(ctx, "u1", model.ResolvedIssue{TicketID: fmt.Sprintf("T-%02d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	issues, err := s.ResolvedIssues(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, issues, 20)
}

func TestAppendResolvedIssue_Caps(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	for i := range MaxResolvedIssues + 5 {
		require.NoError(t, s.AppendResolvedIssue(ctx, "u1", model.ResolvedIssue{TicketID: fmt.Sprintf("T-%03d", i)}))
	}
	issues, err := s.ResolvedIssues(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, issues, MaxResolvedIssues)
	assert.Equal(t, "T-005", issues[0].TicketID)
}

func TestContext(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	s.StartSession("s1", "", "u1")
	for i := range 7 {
		require.NoError(t, s.AppendMessage("s1", model.SessionMessage{Content: fmt.Sprint(i)}))
	}
	require.NoError(t, s.AppendResolvedIssue(ctx, "u1", model.ResolvedIssue{TicketID: "T-1", Category: model.CategoryBilling}))
	require.NoError(t, s.PutLongTerm(ctx, "u1", model.MemoryKeyPreferences, map[string]any{"language": "en"}))

	ac, err := s.Context(ctx, "s1", "u1")
	require.NoError(t, err)
	require.Len(t, ac.RecentMessages, 5)
	assert.Equal(t, "2", ac.RecentMessages[0].Content)
	require.Len(t, ac.ResolvedIssues, 1)
	assert.Equal(t, "en", ac.Preferences["language"])

	empty, err := s.Context(ctx, "missing", "")
	require.NoError(t, err)
	assert.Empty(t, empty.RecentMessages)
	assert.Empty(t, empty.ResolvedIssues)
}
