// Package workflow drives one ticket through the decision pipeline:
// submission, classification, knowledge retrieval, routing, a resolution
// attempt, and a terminal completion or escalation.
//
// The Orchestrator owns stage sequencing. Every stage transition is written
// to the workflow log before the stage runs and advances the ticket's stage
// index in the session state. A stage that panics, returns an error, or exceeds the stage timeout
// is logged once as an error entry and the ticket is forced to Escalation.
// No ticket leaves Process without a response or an escalation
// acknowledgment.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/madoguchi/internal/generate"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/telemetry"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// DefaultStageTimeout bounds a single stage when Deps.StageTimeout is zero.
const DefaultStageTimeout = 30 * time.Second

// Classifier labels ticket text.
type Classifier interface {
	Classify(text string, md model.TicketMetadata) model.ClassificationResult
}

// Retriever ranks knowledge articles for a query.
type Retriever interface {
	Retrieve(query string, md *model.TicketMetadata) model.RetrievalResult
}

// Policy is the single authority on the escalation boolean.
type Policy interface {
	ShouldEscalate(r model.RetrievalResult, c *model.ClassificationResult, md model.TicketMetadata) model.EscalationDecision
}

// Router turns a classification and escalation verdict into handler labels.
type Router interface {
	Route(c model.ClassificationResult, esc model.EscalationDecision) model.RoutingDecision
}

// Deps are the collaborators of an Orchestrator. Support and Outcomes may be
// nil: without Support no account data is consulted, without Outcomes
// results are kept in memory.
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Policy     Policy
	Router     Router
	Memory     *memory.Store
	Log        *workflowlog.Log
	Generator  generate.Generator
	Support    support.Capability
	Outcomes   OutcomeStore
	Logger     *slog.Logger

	StageTimeout time.Duration
	MaxTokens    int
}

// Orchestrator processes tickets. It holds no per-ticket state and is safe
// for concurrent use.
type Orchestrator struct {
	Deps

	tracer        trace.Tracer
	ticketCount   metric.Int64Counter
	escalations   metric.Int64Counter
	stageDuration metric.Float64Histogram
	confidence    metric.Float64Histogram

	// inflight counts stage goroutines, including ones detached by a
	// timeout that are still returning from a collaborator.
	inflight sync.WaitGroup
}

// New returns an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.StageTimeout <= 0 {
		d.StageTimeout = DefaultStageTimeout
	}
	if d.Outcomes == nil {
		d.Outcomes = NewMemoryOutcomeStore()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	meter := telemetry.Meter(telemetry.ScopeWorkflow)
	tickets, _ := meter.Int64Counter("madoguchi.tickets.processed",
		metric.WithDescription("Tickets that reached a terminal stage"),
	)
	escalations, _ := meter.Int64Counter("madoguchi.tickets.escalated",
		metric.WithDescription("Escalated tickets by rule"),
	)
	stageDur, _ := meter.Float64Histogram("madoguchi.stage.duration",
		metric.WithDescription("Time spent in each workflow stage (ms)"),
		metric.WithUnit("ms"),
	)
	conf, _ := meter.Float64Histogram("madoguchi.retrieval.confidence",
		metric.WithDescription("Top article confidence per retrieval"),
	)

	return &Orchestrator{
		Deps:          d,
		tracer:        telemetry.Tracer(telemetry.ScopeWorkflow),
		ticketCount:   tickets,
		escalations:   escalations,
		stageDuration: stageDur,
		confidence:    conf,
	}
}

// SessionKey is the session a ticket is processed in: the caller's session
// id, so a conversation accumulates across its tickets, or the ticket id
// when the caller gave none.
func SessionKey(t model.Ticket) string {
	if t.Metadata.SessionID != "" {
		return t.Metadata.SessionID
	}
	return t.ID
}

// Wait blocks until every stage goroutine has returned or ctx is done.
// Stages detached by a timeout may still be inside a collaborator call.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workflow: wait for stages: %w", ctx.Err())
	}
}

// Process runs the ticket to a terminal stage. The only error returned is a
// *model.ValidationError for a ticket that never entered the pipeline;
// every other failure is reported on the outcome.
func (o *Orchestrator) Process(ctx context.Context, t model.Ticket) (model.TicketOutcome, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := t.Validate(); err != nil {
		return model.TicketOutcome{}, err
	}

	ctx, span := o.tracer.Start(ctx, "workflow.process", trace.WithAttributes(
		attribute.String("madoguchi.ticket_id", t.ID),
		attribute.String("madoguchi.user_id", t.Metadata.UserID),
	))
	defer span.End()

	r := newRun(o, t)
	r.execute(ctx)
	out := r.outcome

	if err := o.Outcomes.SaveOutcome(ctx, out); err != nil {
		o.Logger.Error("workflow: save outcome failed", "ticket_id", t.ID, "error", err)
	}

	span.SetAttributes(
		attribute.String("madoguchi.final_stage", string(out.FinalStage)),
		attribute.Int("madoguchi.stage_count", len(out.Stages)),
	)
	if r.fault != nil {
		span.SetStatus(codes.Error, r.fault.Error())
	}
	o.ticketCount.Add(ctx, 1, metric.WithAttributes(attribute.String("final_stage", string(out.FinalStage))))
	if out.Escalation != nil && out.Escalation.Escalate {
		o.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", out.Escalation.Rule)))
	}

	o.Logger.Info("workflow: ticket processed",
		"ticket_id", t.ID,
		"final_stage", out.FinalStage,
		"handler", primaryHandler(out.Routing),
		"duration_ms", out.CompletedAt.Sub(out.StartedAt).Milliseconds(),
	)
	return out, nil
}

// Outcome returns the stored outcome of a processed ticket.
func (o *Orchestrator) Outcome(ctx context.Context, ticketID string) (model.TicketOutcome, error) {
	return o.Outcomes.GetOutcome(ctx, ticketID)
}

// Statistics aggregates routing and retrieval over the most recent outcomes.
// limit <= 0 uses every stored outcome.
func (o *Orchestrator) Statistics(ctx context.Context, limit int) (model.StatsResponse, error) {
	outcomes, err := o.Outcomes.ListOutcomes(ctx, limit)
	if err != nil {
		return model.StatsResponse{}, err
	}
	return Statistics(outcomes), nil
}

func primaryHandler(d *model.RoutingDecision) model.HandlerLabel {
	if d == nil {
		return ""
	}
	return d.Primary()
}
