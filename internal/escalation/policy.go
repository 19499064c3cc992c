// Package escalation decides whether a ticket must leave the automated path.
//
// The decision is an ordered list of rules evaluated top to bottom; the first
// rule that matches wins. The last rule always matches, so exactly one rule
// fires for any input. The policy is pure: no I/O, no clock, no state beyond
// its immutable rule list.
package escalation

import (
	"strings"

	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

// Reasons reported by the stock rules.
const (
	ReasonNoKnowledge       = "no relevant knowledge found"
	ReasonLowConfidence     = "confidence below threshold"
	ReasonKeyword           = "escalation keyword detected"
	ReasonBlocked           = "account blocked"
	ReasonPremiumLow        = "premium user with low confidence"
	ReasonSufficient        = "sufficient automated coverage"
	ReasonWorkflowExecution = "workflow execution error"
)

// Rule names, stable for audit logs and metrics.
const (
	RuleNoKnowledge   = "no_knowledge"
	RuleLowConfidence = "confidence_floor"
	RuleKeyword       = "escalation_keyword"
	RuleBlocked       = "account_blocked"
	RulePremiumLow    = "premium_low_confidence"
	RuleDefault       = "default"
)

// Input is everything a rule may inspect.
type Input struct {
	Retrieval      model.RetrievalResult
	Classification *model.ClassificationResult
	Metadata       model.TicketMetadata
}

// Rule is one entry of the ordered rule list.
type Rule struct {
	Name     string
	Reason   string
	Escalate bool
	Match    func(Input) bool
}

// Policy is an ordered, immutable rule list.
type Policy struct {
	rules []Rule
}

// New builds the stock rule list from thresholds.
func New(th config.Thresholds) *Policy {
	floor := th.EscalationFloor
	keywords := make([]string, 0, len(th.EscalationKeywords))
	for _, k := range th.EscalationKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	rules := []Rule{
		{
			Name: RuleNoKnowledge, Reason: ReasonNoKnowledge, Escalate: true,
			Match: func(in Input) bool { return in.Retrieval.Level == model.ConfidenceNone },
		},
		{
			Name: RuleLowConfidence, Reason: ReasonLowConfidence, Escalate: true,
			Match: func(in Input) bool { return in.Retrieval.TopConfidence() < floor },
		},
		{
			Name: RuleKeyword, Reason: ReasonKeyword, Escalate: true,
			Match: func(in Input) bool {
				_, ok := textutil.FirstTerm(strings.ToLower(in.Retrieval.Query), keywords)
				return ok
			},
		},
		{
			Name: RuleBlocked, Reason: ReasonBlocked, Escalate: true,
			Match: func(in Input) bool { return in.Metadata.UserBlocked },
		},
	}
	if th.PremiumLowEscalates {
		rules = append(rules, Rule{
			Name: RulePremiumLow, Reason: ReasonPremiumLow, Escalate: true,
			Match: func(in Input) bool {
				return in.Metadata.Premium() && in.Retrieval.Level == model.ConfidenceLow
			},
		})
	}
	return NewWithRules(rules)
}

// NewWithRules builds a policy from a custom rule list. A catch-all
// non-escalating rule is always appended.
func NewWithRules(rules []Rule) *Policy {
	all := make([]Rule, 0, len(rules)+1)
	all = append(all, rules...)
	all = append(all, Rule{
		Name: RuleDefault, Reason: ReasonSufficient, Escalate: false,
		Match: func(Input) bool { return true },
	})
	return &Policy{rules: all}
}

// ShouldEscalate evaluates the rules in order and returns the verdict of the
// first match. It is the single authority on the escalation boolean.
func (p *Policy) ShouldEscalate(r model.RetrievalResult, c *model.ClassificationResult, md model.TicketMetadata) model.EscalationDecision {
	in := Input{Retrieval: r, Classification: c, Metadata: md}
	for _, rule := range p.rules {
		if rule.Match(in) {
			return model.EscalationDecision{Escalate: rule.Escalate, Reason: rule.Reason, Rule: rule.Name}
		}
	}
	// Unreachable: the default rule always matches.
	return model.EscalationDecision{Reason: ReasonSufficient, Rule: RuleDefault}
}

// Rules returns the rule names in evaluation order.
func (p *Policy) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// FaultDecision is the verdict forced when a workflow stage fails.
func FaultDecision() model.EscalationDecision {
	return model.EscalationDecision{Escalate: true, Reason: ReasonWorkflowExecution, Rule: "workflow_fault"}
}
