package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
)

// StageError is a fault inside one stage. It never escapes Process; it is
// recorded in the workflow log and forces the ticket to Escalation.
type StageError struct {
	Stage model.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("workflow: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrNoResponse is the fault raised when a resolution attempt has no text to
// send, not even a fallback.
var ErrNoResponse = errors.New("no response text produced")

// run is the working state of one ticket. It is owned by the goroutine
// calling Process; stage bodies return values instead of mutating it.
type run struct {
	o         *Orchestrator
	ticket    model.Ticket
	md        model.TicketMetadata
	session   string
	current   model.Stage
	agent     model.AgentContext
	outcome   model.TicketOutcome
	fault     *StageError
	stateKeys []string

	// stageMu guards detached. A stage body still running after its timeout
	// is detached: its tool calls are no longer recorded, so nothing lands in
	// the log or the session after the ticket has moved on.
	stageMu  sync.Mutex
	detached bool
}

func newRun(o *Orchestrator, t model.Ticket) *run {
	md := t.Metadata
	md.Extra = maps.Clone(t.Metadata.Extra)
	return &run{
		o:       o,
		ticket:  t,
		md:      md,
		session: SessionKey(t),
		outcome: model.TicketOutcome{
			TicketID:  t.ID,
			SessionID: SessionKey(t),
			UserID:    t.Metadata.UserID,
			StartedAt: time.Now().UTC(),
		},
	}
}

// execute is the state machine. Each step either advances to the next stage
// or records the fault and jumps to Escalation.
func (r *run) execute(ctx context.Context) {
	if err := r.submission(ctx); err != nil {
		r.escalateOnFault(ctx, err)
		return
	}

	cls, err := runStage(ctx, r, model.StageClassification, func(context.Context) (model.ClassificationResult, error) {
		return r.o.Classifier.Classify(r.ticket.Text, r.md), nil
	})
	if err != nil {
		r.escalateOnFault(ctx, err)
		return
	}
	r.outcome.Classification = &cls
	r.record(model.EntryDecision, model.SeverityInfo, "ticket classified", map[string]any{
		"category":             cls.Category,
		"priority":             cls.Priority,
		"complexity":           cls.Complexity,
		"urgency_score":        cls.UrgencyScore,
		"escalation_intent":    cls.EscalationIntent,
		"estimated_resolution": cls.EstimatedResolution,
	})
	r.setState("classification", cls)

	ret, err := runStage(ctx, r, model.StageKnowledgeRetrieval, func(context.Context) (model.RetrievalResult, error) {
		return r.o.Retriever.Retrieve(r.ticket.Text, &r.md), nil
	})
	if err != nil {
		r.escalateOnFault(ctx, err)
		return
	}
	r.outcome.Retrieval = &ret
	r.o.confidence.Record(ctx, ret.TopConfidence())
	r.record(model.EntryDecision, model.SeverityInfo, "knowledge retrieved", map[string]any{
		"confidence_level":  ret.Level,
		"top_confidence":    ret.TopConfidence(),
		"articles":          articleIDs(ret.Articles),
		"articles_searched": ret.Meta.ArticlesSearched,
	})

	type routed struct {
		esc model.EscalationDecision
		dec model.RoutingDecision
	}
	rt, err := runStage(ctx, r, model.StageRouting, func(context.Context) (routed, error) {
		esc := r.o.Policy.ShouldEscalate(ret, &cls, r.md)
		return routed{esc: esc, dec: r.o.Router.Route(cls, esc)}, nil
	})
	if err != nil {
		r.escalateOnFault(ctx, err)
		return
	}
	r.outcome.Escalation = &rt.esc
	r.outcome.Routing = &rt.dec
	r.setState("routing", rt.dec)
	sev := model.SeverityInfo
	if rt.esc.Escalate {
		sev = model.SeverityWarning
		r.outcome.EscalationReason = rt.esc.Reason
	}
	r.record(model.EntryDecision, sev, "escalation policy: "+rt.esc.Reason, map[string]any{
		"should_escalate": rt.esc.Escalate,
		"rule":            rt.esc.Rule,
		"reason":          rt.esc.Reason,
	})
	r.record(model.EntryRouting, model.SeverityInfo, rt.dec.Reason, map[string]any{
		"handlers":            rt.dec.Handlers,
		"fan_out":             rt.dec.FanOut,
		"escalation_required": rt.dec.EscalationRequired,
	})

	req := request{
		ticket:         r.ticket,
		md:             r.md,
		classification: cls,
		retrieval:      ret,
		escalation:     rt.esc,
		routing:        rt.dec,
		agent:          r.agent,
	}
	res, err := runStage(ctx, r, model.StageResolutionAttempt, func(ctx context.Context) (resolution, error) {
		return r.o.resolve(ctx, r, req)
	})
	if err != nil {
		r.escalateOnFault(ctx, err)
		return
	}
	r.outcome.Response = res.text
	if res.dependencyFailure != "" {
		r.addDependencyFailure(res.dependencyFailure)
	}

	if rt.esc.Escalate {
		r.finish(ctx, model.StageEscalation)
		return
	}
	r.finish(ctx, model.StageCompletion)
	r.rememberResolution(ctx, cls, rt.dec, res.text)
}

// submission opens the session, loads what memory knows about the user, and
// enriches the metadata from the customer's account.
func (r *run) submission(ctx context.Context) error {
	r.o.Memory.StartSession(r.session, r.session, r.md.UserID)
	if err := r.o.Memory.AppendMessage(r.session, model.SessionMessage{
		Role: "user", Content: r.ticket.Text, TicketID: r.ticket.ID, Timestamp: r.ticket.CreatedAt,
	}); err != nil {
		r.o.Logger.Warn("workflow: append user message failed", "session_id", r.session, "error", err)
	}

	type submitted struct {
		md    model.TicketMetadata
		agent model.AgentContext
		dep   string
	}
	sub, err := runStage(ctx, r, model.StageSubmission, func(ctx context.Context) (submitted, error) {
		out := submitted{md: r.md}
		out.md.Extra = maps.Clone(r.md.Extra)
		agent, err := r.o.Memory.Context(ctx, r.session, r.md.UserID)
		if err != nil {
			r.o.Logger.Warn("workflow: load memory context failed", "user_id", r.md.UserID, "error", err)
		}
		out.agent = agent
		if out.md.PreviousTickets == 0 {
			out.md.PreviousTickets = len(agent.ResolvedIssues)
		}
		out.dep = r.enrichFromAccount(ctx, &out.md)
		return out, nil
	})
	if err != nil {
		return err
	}
	r.md = sub.md
	r.agent = sub.agent
	if sub.dep != "" {
		r.addDependencyFailure(sub.dep)
	}
	r.record(model.EntryDecision, model.SeverityInfo, "ticket accepted", map[string]any{
		"account_tier":     r.md.AccountTier,
		"user_blocked":     r.md.UserBlocked,
		"previous_tickets": r.md.PreviousTickets,
		"recent_messages":  len(r.agent.RecentMessages),
		"text_length":      len(r.ticket.Text),
	})
	return nil
}

// enrichFromAccount fills the tier and blocked flag from the customer's
// account. A non-success lookup is kept in md.Extra for the escalation
// policy; an error status is also returned as a dependency failure.
func (r *run) enrichFromAccount(ctx context.Context, md *model.TicketMetadata) string {
	if r.o.Support == nil {
		return ""
	}
	res := r.callSupport(ctx, model.StageSubmission, support.OpAccountLookup, map[string]any{"user_id": md.UserID}, func(ctx context.Context) model.OperationResult {
		return r.o.Support.LookupAccount(ctx, md.UserID, support.IdentifierUserID)
	})
	if !res.OK() {
		if md.Extra == nil {
			md.Extra = make(map[string]any)
		}
		md.Extra["account_lookup"] = string(res.Status)
		if res.Status == model.StatusError {
			return support.OpAccountLookup + ": " + res.Message
		}
		return ""
	}
	if tier, ok := res.Payload["tier"].(string); ok && md.AccountTier == "" {
		md.AccountTier = tier
	}
	if blocked, ok := res.Payload["is_blocked"].(bool); ok && blocked {
		md.UserBlocked = true
	}
	return ""
}

// runStage enters stage st and runs fn under the stage timeout. A panic, an
// error, or a timeout becomes a *StageError. fn runs on its own goroutine
// so a stage that ignores its context cannot hold the ticket past the
// timeout; on timeout the run is detached from it and Orchestrator.Wait
// tracks it until it returns.
func runStage[T any](ctx context.Context, r *run, st model.Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	r.enter(st)

	ctx, span := r.o.tracer.Start(ctx, "workflow."+string(st),
		trace.WithAttributes(attribute.String("madoguchi.stage", string(st))))
	defer span.End()
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, r.o.StageTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	r.o.inflight.Add(1)
	go func() {
		defer r.o.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				r.o.Logger.Error("workflow: stage panic", "ticket_id", r.ticket.ID, "stage", st, "panic", p, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := fn(sctx)
		done <- result{v: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-sctx.Done():
		r.detach()
		res = result{err: fmt.Errorf("timed out after %s: %w", r.o.StageTimeout, sctx.Err())}
	}
	r.o.stageDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("stage", string(st))))

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return zero, &StageError{Stage: st, Err: res.err}
	}
	return res.v, nil
}

// enter logs the transition into st and advances the ticket's stage.
func (r *run) enter(st model.Stage) {
	from := r.current
	r.current = st
	r.outcome.Stages = append(r.outcome.Stages, st)

	payload := map[string]any{"to": st, "stage_index": st.Index()}
	if from != "" {
		payload["from"] = from
	}
	r.record(model.EntryTransition, model.SeverityDebug, "entering "+string(st), payload)

	if _, err := r.o.Memory.AdvanceTicketStage(r.session, r.ticket.ID, st); err != nil {
		r.o.Logger.Warn("workflow: advance ticket stage failed", "session_id", r.session, "ticket_id", r.ticket.ID, "stage", st, "error", err)
	}
}

// escalateOnFault records the single error entry for a failed stage and
// forces the ticket to Escalation.
func (r *run) escalateOnFault(ctx context.Context, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: r.current, Err: err}
	}
	r.fault = se
	r.o.Logger.Error("workflow: stage fault", "ticket_id", r.ticket.ID, "stage", se.Stage, "error", se.Err)
	r.recordAt(se.Stage, model.EntryError, model.SeverityError, se.Err.Error(), map[string]any{
		"failed_stage": se.Stage,
	})

	esc := escalation.FaultDecision()
	r.outcome.Escalation = &esc
	r.outcome.EscalationReason = esc.Reason
	r.outcome.Response = acknowledgment(r.ticket, esc, nil)
	r.finish(ctx, model.StageEscalation)
}

// finish enters the terminal stage, closes the outcome, and drops the
// ticket's state from the session.
func (r *run) finish(_ context.Context, terminal model.Stage) {
	r.enter(terminal)
	r.o.Memory.ClearState(r.session, append(r.stateKeys, memory.TicketStateKey(r.ticket.ID, "stage"))...)
	r.outcome.FinalStage = terminal
	r.outcome.CompletedAt = time.Now().UTC()
	if err := r.o.Memory.AppendMessage(r.session, model.SessionMessage{
		Role: "assistant", Content: r.outcome.Response, TicketID: r.ticket.ID, Timestamp: r.outcome.CompletedAt,
	}); err != nil {
		r.o.Logger.Warn("workflow: append assistant message failed", "session_id", r.session, "error", err)
	}
}

// rememberResolution appends the resolved issue to the user's long-term
// memory so later sessions can see it.
func (r *run) rememberResolution(ctx context.Context, cls model.ClassificationResult, dec model.RoutingDecision, text string) {
	issue := model.ResolvedIssue{
		TicketID:   r.ticket.ID,
		Category:   cls.Category,
		Handler:    dec.Primary(),
		Summary:    summarize(r.ticket.Text),
		ResolvedAt: r.outcome.CompletedAt,
	}
	if err := r.o.Memory.AppendResolvedIssue(ctx, r.md.UserID, issue); err != nil {
		r.o.Logger.Warn("workflow: store resolved issue failed", "user_id", r.md.UserID, "ticket_id", r.ticket.ID, "error", err)
	}
}

// addDependencyFailure surfaces a failed collaborator on the outcome and in
// the log. It never escalates by itself.
func (r *run) addDependencyFailure(msg string) {
	if r.outcome.DependencyFailure != nil {
		msg = *r.outcome.DependencyFailure + "; " + msg
	}
	r.outcome.DependencyFailure = &msg
	r.record(model.EntryDecision, model.SeverityWarning, "dependency failure", map[string]any{"failure": msg})
}

// setState keeps a value for the rest of this ticket's run.
func (r *run) setState(name string, value any) {
	key := memory.TicketStateKey(r.ticket.ID, name)
	if err := r.o.Memory.SetState(r.session, key, value); err != nil {
		r.o.Logger.Warn("workflow: set state failed", "session_id", r.session, "key", key, "error", err)
		return
	}
	r.stateKeys = append(r.stateKeys, key)
}

func (r *run) detach() {
	r.stageMu.Lock()
	r.detached = true
	r.stageMu.Unlock()
}

// whileAttached runs fn unless the stage goroutine calling it has been
// detached. It reports whether fn ran.
func (r *run) whileAttached(fn func()) bool {
	r.stageMu.Lock()
	defer r.stageMu.Unlock()
	if r.detached {
		return false
	}
	fn()
	return true
}

func (r *run) record(typ model.EntryType, sev model.Severity, msg string, payload map[string]any) {
	r.recordAt(r.current, typ, sev, msg, payload)
}

func (r *run) recordAt(st model.Stage, typ model.EntryType, sev model.Severity, msg string, payload map[string]any) {
	_, err := r.o.Log.Record(model.WorkflowLogEntry{
		TicketID:  r.ticket.ID,
		UserID:    r.ticket.Metadata.UserID,
		SessionID: r.session,
		Stage:     st,
		Type:      typ,
		Severity:  sev,
		Message:   msg,
		Payload:   payload,
	})
	if err != nil {
		r.o.Logger.Error("workflow: record log entry failed", "ticket_id", r.ticket.ID, "stage", st, "error", err)
	}
}

// callSupport runs one data-access operation and records it as a tool
// invocation in the session and the workflow log. It may run on a stage
// goroutine, so the stage is passed in rather than read from the run. Once
// ctx is done the operation is not started.
func (r *run) callSupport(ctx context.Context, st model.Stage, op string, input map[string]any, call func(context.Context) model.OperationResult) model.OperationResult {
	if err := ctx.Err(); err != nil {
		return model.OperationResult{Operation: op, Status: model.StatusError, Message: err.Error()}
	}
	start := time.Now()
	res := call(ctx)
	r.recordTool(st, op, input, string(res.Status), time.Since(start), map[string]any{
		"operation_id": res.OperationID,
		"message":      res.Message,
	})
	return res
}

// recordTool is called from stage goroutines and drops the record when the
// stage has been detached.
func (r *run) recordTool(st model.Stage, tool string, input map[string]any, status string, d time.Duration, extra map[string]any) {
	if !r.whileAttached(func() { r.writeTool(st, tool, input, status, d, extra) }) {
		r.o.Logger.Warn("workflow: tool call finished after stage timeout", "ticket_id", r.ticket.ID, "stage", st, "tool", tool, "status", status)
	}
}

func (r *run) writeTool(st model.Stage, tool string, input map[string]any, status string, d time.Duration, extra map[string]any) {
	inv := model.ToolInvocation{Tool: tool, Input: input, Status: status, Duration: d, Timestamp: time.Now().UTC()}
	if err := r.o.Memory.RecordTool(r.session, inv); err != nil {
		r.o.Logger.Warn("workflow: record tool failed", "session_id", r.session, "tool", tool, "error", err)
	}
	payload := map[string]any{"tool": tool, "status": status, "duration_ms": d.Milliseconds()}
	if len(input) > 0 {
		payload["input"] = input
	}
	maps.Copy(payload, extra)
	sev := model.SeverityInfo
	if status != string(model.StatusSuccess) {
		sev = model.SeverityWarning
	}
	r.recordAt(st, model.EntryToolUsage, sev, tool+": "+status, payload)
}

func articleIDs(articles []model.ScoredArticle) []string {
	ids := make([]string, len(articles))
	for i, a := range articles {
		ids[i] = a.Article.ID
	}
	return ids
}

func summarize(text string) string {
	const max = 120
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
