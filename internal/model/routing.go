package model

// EscalationDecision is the verdict of the escalation policy.
type EscalationDecision struct {
	Escalate bool   `json:"should_escalate"`
	Reason   string `json:"reason"`
	Rule     string `json:"rule"`
}

// HandlerLabel identifies a specialist resolution path.
type HandlerLabel string

const (
	HandlerTechnical     HandlerLabel = "technical"
	HandlerBilling       HandlerLabel = "billing"
	HandlerAccount       HandlerLabel = "account"
	HandlerKnowledgeBase HandlerLabel = "knowledge_base"
	HandlerRAG           HandlerLabel = "rag"
	HandlerEscalation    HandlerLabel = "escalation"
)

// RoutingDecision is the terminal routing verdict for one processing attempt.
type RoutingDecision struct {
	Category           Category       `json:"category"`
	Priority           Priority       `json:"priority"`
	Complexity         Complexity     `json:"complexity"`
	EscalationRequired bool           `json:"escalation_required"`
	Handlers           []HandlerLabel `json:"handlers"`
	FanOut             bool           `json:"fan_out"`
	Reason             string         `json:"reason"`
}

// Primary returns the first recommended handler.
func (d RoutingDecision) Primary() HandlerLabel {
	if len(d.Handlers) == 0 {
		return HandlerEscalation
	}
	return d.Handlers[0]
}
