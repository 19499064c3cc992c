package workflow

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/madoguchi/internal/generate"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

const toolGenerate = "generate_response"

var (
	reservationPattern  = regexp.MustCompile(`\bres[_-][A-Za-z0-9]+\b`)
	subscriptionPattern = regexp.MustCompile(`\bsub[_-][A-Za-z0-9]+\b`)
)

// request is everything a handler may read.
type request struct {
	ticket         model.Ticket
	md             model.TicketMetadata
	classification model.ClassificationResult
	retrieval      model.RetrievalResult
	escalation     model.EscalationDecision
	routing        model.RoutingDecision
	agent          model.AgentContext
}

// resolution is the result of a resolution attempt.
type resolution struct {
	handler           model.HandlerLabel
	text              string
	dependencyFailure string
}

// consultation is what one handler contributes before generation.
type consultation struct {
	notes   []string
	failure string
}

// resolve runs the resolution attempt. Escalated tickets get an
// acknowledgment. Otherwise every routed handler is consulted (in parallel
// for a fan-out decision) and the primary handler's response is generated
// from the retrieval draft plus the gathered notes. A generator failure
// falls back to the unphrased draft; having no text at all is a fault.
func (o *Orchestrator) resolve(ctx context.Context, r *run, req request) (resolution, error) {
	primary := req.routing.Primary()
	if primary == model.HandlerEscalation {
		return resolution{
			handler: primary,
			text:    acknowledgment(req.ticket, req.escalation, &req.retrieval),
		}, nil
	}

	consults := make([]consultation, len(req.routing.Handlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range req.routing.Handlers {
		g.Go(func() error {
			c, err := o.consult(gctx, r, h, req)
			if err != nil {
				return fmt.Errorf("handler %s: %w", h, err)
			}
			consults[i] = c
			return nil
		})
		if !req.routing.FanOut {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return resolution{}, err
	}

	var notes, failures []string
	if n := historyNote(req); n != "" {
		notes = append(notes, n)
	}
	for _, c := range consults {
		notes = appendDistinct(notes, c.notes...)
		if c.failure != "" {
			failures = append(failures, c.failure)
		}
	}

	draft := req.retrieval.Response
	if draft == "" {
		draft = knowledge.DraftResponse(req.retrieval)
	}
	constraints := generate.Constraints{
		MaxTokens: o.MaxTokens,
		Handler:   primary,
		Draft:     draft,
		Notes:     notes,
	}

	// Past the stage deadline the run has already moved on.
	if err := ctx.Err(); err != nil {
		return resolution{}, err
	}
	start := time.Now()
	text, err := o.Generator.Generate(ctx, generate.BuildPrompt(req.ticket, req.classification, constraints), constraints)
	status := string(model.StatusSuccess)
	if err == nil && strings.TrimSpace(text) == "" {
		err = generate.ErrEmptyResponse
	}
	if err != nil {
		status = string(model.StatusError)
		failures = append(failures, "generator: "+err.Error())
		o.Logger.Warn("workflow: generation failed, using draft", "ticket_id", req.ticket.ID, "handler", primary, "error", err)
		text = fallbackText(draft, notes)
	}
	r.recordTool(model.StageResolutionAttempt, toolGenerate, map[string]any{"handler": primary, "max_tokens": o.MaxTokens},
		status, time.Since(start), nil)

	if strings.TrimSpace(text) == "" {
		return resolution{}, ErrNoResponse
	}
	return resolution{
		handler:           primary,
		text:              text,
		dependencyFailure: strings.Join(failures, "; "),
	}, nil
}

// consult gathers the facts one handler adds to the response.
func (o *Orchestrator) consult(ctx context.Context, r *run, h model.HandlerLabel, req request) (consultation, error) {
	switch h {
	case model.HandlerBilling:
		return o.consultBilling(ctx, r, req), nil
	case model.HandlerAccount:
		return o.consultAccount(ctx, r, req), nil
	case model.HandlerTechnical:
		return consultation{notes: technicalNotes(req)}, nil
	case model.HandlerKnowledgeBase:
		return consultation{notes: referenceNotes(req.retrieval)}, nil
	case model.HandlerRAG:
		return consultation{notes: augmentedNotes(req.retrieval)}, nil
	default:
		return consultation{}, fmt.Errorf("no handler for label %q", h)
	}
}

// consultBilling processes a refund when the ticket asks for one and names a
// reservation, and otherwise reports the customer's active plans.
func (o *Orchestrator) consultBilling(ctx context.Context, r *run, req request) consultation {
	if o.Support == nil {
		return consultation{}
	}
	lower := strings.ToLower(req.ticket.Text)
	user := req.md.UserID

	if resID := reservationPattern.FindString(lower); resID != "" && textutil.ContainsTerm(lower, "refund") {
		reason := "requested in ticket " + req.ticket.ID
		res := r.callSupport(ctx, model.StageResolutionAttempt, support.OpRefund,
			map[string]any{"user_id": user, "reservation_id": resID}, func(ctx context.Context) model.OperationResult {
				return o.Support.ProcessRefund(ctx, user, resID, reason, nil)
			})
		switch res.Status {
		case model.StatusSuccess:
			amount, _ := res.Payload["amount"].(float64)
			return consultation{notes: []string{fmt.Sprintf("A refund of $%.2f for reservation %s has been processed.", amount, resID)}}
		case model.StatusNotFound:
			return consultation{notes: []string{fmt.Sprintf("We could not find reservation %s on your account.", resID)}}
		case model.StatusValidationError:
			return consultation{notes: []string{fmt.Sprintf("Reservation %s is not eligible for a refund.", resID)}}
		default:
			return consultation{failure: support.OpRefund + ": " + res.Message}
		}
	}

	res := r.callSupport(ctx, model.StageResolutionAttempt, support.OpSubscription,
		map[string]any{"user_id": user, "action": model.SubscriptionStatus}, func(ctx context.Context) model.OperationResult {
			return o.Support.ManageSubscription(ctx, user, model.SubscriptionStatus, nil)
		})
	return subscriptionNotes(res)
}

// consultAccount cancels a named subscription when asked to, and otherwise
// reports the account status.
func (o *Orchestrator) consultAccount(ctx context.Context, r *run, req request) consultation {
	if o.Support == nil {
		return consultation{}
	}
	lower := strings.ToLower(req.ticket.Text)
	user := req.md.UserID

	if subID := subscriptionPattern.FindString(lower); subID != "" && textutil.ContainsTerm(lower, "cancel") {
		params := map[string]any{"subscription_id": subID}
		res := r.callSupport(ctx, model.StageResolutionAttempt, support.OpSubscription,
			map[string]any{"user_id": user, "action": model.SubscriptionCancel, "subscription_id": subID},
			func(ctx context.Context) model.OperationResult {
				return o.Support.ManageSubscription(ctx, user, model.SubscriptionCancel, params)
			})
		switch res.Status {
		case model.StatusSuccess:
			return consultation{notes: []string{fmt.Sprintf("Subscription %s has been cancelled.", subID)}}
		case model.StatusNotFound:
			return consultation{notes: []string{fmt.Sprintf("We could not find subscription %s on your account.", subID)}}
		case model.StatusError:
			return consultation{failure: support.OpSubscription + ": " + res.Message}
		default:
			return consultation{notes: []string{res.Message}}
		}
	}

	res := r.callSupport(ctx, model.StageResolutionAttempt, support.OpAccountLookup,
		map[string]any{"user_id": user}, func(ctx context.Context) model.OperationResult {
			return o.Support.LookupAccount(ctx, user, support.IdentifierUserID)
		})
	switch res.Status {
	case model.StatusSuccess:
		var notes []string
		if blocked, _ := res.Payload["is_blocked"].(bool); blocked {
			notes = append(notes, "Your account is currently blocked.")
		}
		if n, ok := res.Payload["subscription_count"].(int); ok {
			notes = append(notes, fmt.Sprintf("Your account has %d active subscription(s).", n))
		}
		return consultation{notes: notes}
	case model.StatusError:
		return consultation{failure: support.OpAccountLookup + ": " + res.Message}
	default:
		return consultation{}
	}
}

func subscriptionNotes(res model.OperationResult) consultation {
	if res.Status == model.StatusError {
		return consultation{failure: support.OpSubscription + ": " + res.Message}
	}
	if !res.OK() {
		return consultation{}
	}
	subs, _ := res.Payload["active_subscriptions"].([]model.Subscription)
	if len(subs) == 0 {
		return consultation{notes: []string{"You have no active subscriptions."}}
	}
	plans := make([]string, len(subs))
	for i, s := range subs {
		plans[i] = fmt.Sprintf("%s (%s)", s.Plan, s.ID)
	}
	return consultation{notes: []string{"Active subscriptions: " + strings.Join(plans, ", ") + "."}}
}

func technicalNotes(req request) []string {
	notes := []string{"If the problem continues, reply with the exact error message and the device or browser you are using."}
	if req.classification.Priority.AtLeast(model.PriorityHigh) {
		notes = append(notes, "This issue has been marked "+string(req.classification.Priority)+" priority.")
	}
	return notes
}

func referenceNotes(r model.RetrievalResult) []string {
	if len(r.Articles) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("See also: %q in our help center.", r.Articles[0].Article.Title)}
}

// augmentedNotes pulls key points from the runner-up articles, which the
// tiered draft does not quote.
func augmentedNotes(r model.RetrievalResult) []string {
	var notes []string
	for _, a := range r.Articles[min(1, len(r.Articles)):] {
		if points := knowledge.KeyPoints(a.Article.Body); len(points) > 0 {
			notes = append(notes, a.Article.Title+": "+points[0])
		}
	}
	return notes
}

// historyNote mentions the most recent earlier ticket of the same category
// resolved for this user.
func historyNote(req request) string {
	issues := req.agent.ResolvedIssues
	for i := len(issues) - 1; i >= 0; i-- {
		if issues[i].Category == req.classification.Category && issues[i].TicketID != req.ticket.ID {
			return fmt.Sprintf("We see you contacted us about a similar %s issue before (ticket %s).", issues[i].Category, issues[i].TicketID)
		}
	}
	return ""
}

func fallbackText(draft string, notes []string) string {
	parts := make([]string, 0, len(notes)+1)
	parts = append(parts, notes...)
	if strings.TrimSpace(draft) != "" {
		parts = append(parts, draft)
	}
	return strings.Join(parts, "\n\n")
}

// acknowledgment is the text sent when a ticket goes to the human queue.
// retrieval is nil when the ticket never reached retrieval.
func acknowledgment(t model.Ticket, esc model.EscalationDecision, retrieval *model.RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your ticket %s has been escalated to our support team (%s). ", t.ID, esc.Reason)
	if retrieval != nil && len(retrieval.Articles) > 0 && retrieval.Level != model.ConfidenceNone {
		fmt.Fprintf(&b, "In the meantime, %q may help. ", retrieval.Articles[0].Article.Title)
	}
	b.WriteString(knowledge.EscalationMessage)
	return b.String()
}

func appendDistinct(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
