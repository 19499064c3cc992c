// Package routing maps a classified ticket and an escalation verdict to the
// specialist handlers that should resolve it.
package routing

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// primaryHandlers is the fixed category table.
var primaryHandlers = map[model.Category]model.HandlerLabel{
	model.CategoryTechnical:  model.HandlerTechnical,
	model.CategoryBilling:    model.HandlerBilling,
	model.CategoryAccount:    model.HandlerAccount,
	model.CategoryGeneral:    model.HandlerKnowledgeBase,
	model.CategoryEscalation: model.HandlerEscalation,
}

// auxiliaryHandlers are appended for complex tickets, in order.
var auxiliaryHandlers = map[model.Category][]model.HandlerLabel{
	model.CategoryTechnical: {model.HandlerKnowledgeBase, model.HandlerRAG},
	model.CategoryBilling:   {model.HandlerAccount, model.HandlerKnowledgeBase},
	model.CategoryAccount:   {model.HandlerKnowledgeBase, model.HandlerRAG},
	model.CategoryGeneral:   {model.HandlerKnowledgeBase, model.HandlerRAG},
}

// Router is stateless and safe for concurrent use.
type Router struct{}

// New returns a Router.
func New() *Router { return &Router{} }

// Route produces the routing decision. The escalation verdict always wins:
// when it is set the handler list is exactly [escalation] with no fan-out.
func (r *Router) Route(c model.ClassificationResult, esc model.EscalationDecision) model.RoutingDecision {
	d := model.RoutingDecision{
		Category:           c.Category,
		Priority:           c.Priority,
		Complexity:         c.Complexity,
		EscalationRequired: esc.Escalate,
	}
	if esc.Escalate {
		d.Handlers = []model.HandlerLabel{model.HandlerEscalation}
		d.Reason = fmt.Sprintf("escalation required: %s; priority %s", esc.Reason, c.Priority)
		return d
	}

	primary, ok := primaryHandlers[c.Category]
	if !ok {
		primary = model.HandlerKnowledgeBase
	}
	d.Handlers = []model.HandlerLabel{primary}
	if c.Complexity == model.ComplexityComplex && primary != model.HandlerEscalation {
		d.Handlers = appendUnique(d.Handlers, auxiliaryHandlers[c.Category]...)
		d.FanOut = len(d.Handlers) > 1
	}
	d.Reason = reason(c, d.FanOut)
	return d
}

func reason(c model.ClassificationResult, fanOut bool) string {
	parts := []string{
		fmt.Sprintf("classified as %s", c.Category),
		fmt.Sprintf("priority %s", c.Priority),
		fmt.Sprintf("complexity %s", c.Complexity),
	}
	if fanOut {
		parts = append(parts, "multiple handlers recommended")
	}
	return strings.Join(parts, "; ")
}

func appendUnique(list []model.HandlerLabel, extra ...model.HandlerLabel) []model.HandlerLabel {
	for _, h := range extra {
		dup := false
		for _, existing := range list {
			if existing == h {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, h)
		}
	}
	return list
}
