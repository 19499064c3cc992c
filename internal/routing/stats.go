package routing

import "github.com/ashita-ai/madoguchi/internal/model"

// Statistics aggregates the routing side of completed outcomes. Outcomes
// without a routing decision (faulted before routing) still count toward the
// total and the escalation rate.
func Statistics(outcomes []model.TicketOutcome) model.RoutingStats {
	stats := model.RoutingStats{
		TotalTickets:           len(outcomes),
		CategoryDistribution:   make(map[model.Category]int),
		PriorityDistribution:   make(map[model.Priority]int),
		ComplexityDistribution: make(map[model.Complexity]int),
		HandlerWorkload:        make(map[model.HandlerLabel]int),
	}
	if len(outcomes) == 0 {
		return stats
	}

	var escalated int
	var urgency float64
	for _, o := range outcomes {
		if o.Escalated() {
			escalated++
		}
		if c := o.Classification; c != nil {
			stats.CategoryDistribution[c.Category]++
			stats.PriorityDistribution[c.Priority]++
			stats.ComplexityDistribution[c.Complexity]++
			urgency += c.UrgencyScore
		}
		if rd := o.Routing; rd != nil {
			for _, h := range rd.Handlers {
				stats.HandlerWorkload[h]++
			}
		}
	}
	n := float64(len(outcomes))
	stats.EscalationRate = float64(escalated) / n
	stats.AverageUrgencyScore = urgency / n
	return stats
}
