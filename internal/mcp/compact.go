package mcp

import (
	"math"

	"github.com/ashita-ai/madoguchi/internal/model"
)

const maxCompactArticles = 3

// compactOutcome drops what an assistant does not act on: per-category
// scores, article bodies, retrieval metadata and timestamps.
func compactOutcome(o model.TicketOutcome) map[string]any {
	m := map[string]any{
		"ticket_id":   o.TicketID,
		"session_id":  o.SessionID,
		"final_stage": o.FinalStage,
		"escalated":   o.Escalated(),
		"response":    o.Response,
	}
	if o.EscalationReason != "" {
		m["escalation_reason"] = o.EscalationReason
	}
	if o.Escalation != nil && o.Escalation.Rule != "" {
		m["escalation_rule"] = o.Escalation.Rule
	}
	if o.Classification != nil {
		m["category"] = o.Classification.Category
		m["priority"] = o.Classification.Priority
		m["complexity"] = o.Classification.Complexity
	}
	if o.Routing != nil {
		m["handlers"] = o.Routing.Handlers
	}
	if o.Retrieval != nil {
		m["confidence_level"] = o.Retrieval.Level
		m["articles"] = compactArticles(o.Retrieval.Articles)
	}
	if o.DependencyFailure != nil {
		m["dependency_failure"] = *o.DependencyFailure
	}
	return m
}

// compactRetrieval keeps the ranked titles, scores and draft response.
func compactRetrieval(r model.RetrievalResult) map[string]any {
	m := map[string]any{
		"confidence_level": r.Level,
		"should_escalate":  r.Escalate,
		"articles":         compactArticles(r.Articles),
		"response":         r.Response,
	}
	if r.EscalationReason != nil {
		m["escalation_reason"] = *r.EscalationReason
	}
	return m
}

func compactArticles(arts []model.ScoredArticle) []map[string]any {
	out := make([]map[string]any, 0, min(len(arts), maxCompactArticles))
	for _, a := range arts[:min(len(arts), maxCompactArticles)] {
		out = append(out, map[string]any{
			"id":         a.Article.ID,
			"title":      a.Article.Title,
			"relevance":  round3(a.Relevance),
			"confidence": round3(a.Confidence),
		})
	}
	return out
}

func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
