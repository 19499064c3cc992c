package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/model"
)

func retrieval(query string, level model.ConfidenceLevel, top float64) model.RetrievalResult {
	r := model.RetrievalResult{Query: query, Level: level}
	if top > 0 {
		r.Articles = []model.ScoredArticle{{Article: model.KnowledgeArticle{ID: "a1"}, Relevance: top, Confidence: top}}
	}
	return r
}

func TestShouldEscalate_RuleOrder(t *testing.T) {
	p := New(config.DefaultThresholds())

	tests := []struct {
		name     string
		r        model.RetrievalResult
		md       model.TicketMetadata
		escalate bool
		reason   string
		rule     string
	}{
		{
			name: "none always escalates even with keyword and block",
			r:    retrieval("I was hacked", model.ConfidenceNone, 0),
			md:   model.TicketMetadata{UserBlocked: true},
			escalate: true, reason: ReasonNoKnowledge, rule: RuleNoKnowledge,
		},
		{
			name: "floor beats keyword",
			r:    retrieval("human please", model.ConfidenceLow, 0.15),
			escalate: true, reason: ReasonLowConfidence, rule: RuleLowConfidence,
		},
		{
			name: "keyword beats blocked",
			r:    retrieval("URGENT I need a human agent now", model.ConfidenceMedium, 0.6),
			md:   model.TicketMetadata{UserBlocked: true},
			escalate: true, reason: ReasonKeyword, rule: RuleKeyword,
		},
		{
			name: "blocked",
			r:    retrieval("how do I reserve an event", model.ConfidenceHigh, 0.9),
			md:   model.TicketMetadata{UserBlocked: true},
			escalate: true, reason: ReasonBlocked, rule: RuleBlocked,
		},
		{
			name: "premium with low confidence",
			r:    retrieval("how do I reserve an event", model.ConfidenceLow, 0.35),
			md:   model.TicketMetadata{AccountTier: "premium"},
			escalate: true, reason: ReasonPremiumLow, rule: RulePremiumLow,
		},
		{
			name: "premium with medium confidence stays automated",
			r:    retrieval("how do I reserve an event", model.ConfidenceMedium, 0.55),
			md:   model.TicketMetadata{AccountTier: "premium"},
			escalate: false, reason: ReasonSufficient, rule: RuleDefault,
		},
		{
			name: "default",
			r:    retrieval("how do I reserve an event", model.ConfidenceHigh, 0.9),
			escalate: false, reason: ReasonSufficient, rule: RuleDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.ShouldEscalate(tt.r, nil, tt.md)
			assert.Equal(t, tt.escalate, d.Escalate)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.rule, d.Rule)
		})
	}
}

func TestShouldEscalate_KeywordsAreWordBounded(t *testing.T) {
	p := New(config.DefaultThresholds())
	// "management" contains "agent" only mid-word.
	d := p.ShouldEscalate(retrieval("subscription management options", model.ConfidenceHigh, 0.9), nil, model.TicketMetadata{})
	assert.False(t, d.Escalate)

	d = p.ShouldEscalate(retrieval("Let me talk to your agents", model.ConfidenceHigh, 0.9), nil, model.TicketMetadata{})
	assert.True(t, d.Escalate)
	assert.Equal(t, ReasonKeyword, d.Reason)
}

func TestShouldEscalate_ConfigurableThresholds(t *testing.T) {
	th := config.DefaultThresholds()
	th.EscalationFloor = 0.5
	th.EscalationKeywords = []string{"chargeback"}
	th.PremiumLowEscalates = false
	p := New(th)

	d := p.ShouldEscalate(retrieval("where is my order", model.ConfidenceLow, 0.45), nil, model.TicketMetadata{})
	assert.Equal(t, ReasonLowConfidence, d.Reason)

	d = p.ShouldEscalate(retrieval("I will file a chargeback", model.ConfidenceHigh, 0.9), nil, model.TicketMetadata{})
	assert.Equal(t, ReasonKeyword, d.Reason)

	// "human" is no longer a keyword.
	d = p.ShouldEscalate(retrieval("human here", model.ConfidenceHigh, 0.9), nil, model.TicketMetadata{})
	assert.False(t, d.Escalate)

	d = p.ShouldEscalate(retrieval("hello", model.ConfidenceLow, 0.6), nil, model.TicketMetadata{AccountTier: "premium"})
	assert.False(t, d.Escalate, "premium rule disabled")
}

func TestRules_Order(t *testing.T) {
	p := New(config.DefaultThresholds())
	assert.Equal(t, []string{RuleNoKnowledge, RuleLowConfidence, RuleKeyword, RuleBlocked, RulePremiumLow, RuleDefault}, p.Rules())
}

func TestNewWithRules_AlwaysHasDefault(t *testing.T) {
	p := NewWithRules(nil)
	d := p.ShouldEscalate(model.RetrievalResult{}, nil, model.TicketMetadata{})
	assert.False(t, d.Escalate)
	assert.Equal(t, RuleDefault, d.Rule)
}

func TestFaultDecision(t *testing.T) {
	d := FaultDecision()
	assert.True(t, d.Escalate)
	assert.Equal(t, "workflow execution error", d.Reason)
}
