// Package classify maps raw ticket text and metadata to a category, priority,
// complexity, urgency score, and escalation-intent flag.
//
// Classification is keyword driven: every table lives in a versioned YAML
// document (see keywords.yaml) so weights can be tuned without a rebuild.
// The classifier never fails on well-formed input; empty text classifies as
// General / Simple.
package classify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

// Word-count buckets for complexity.
const (
	complexWordCount  = 100
	moderateWordCount = 50
)

// Base urgency by priority, before keyword and metadata adjustments.
var priorityUrgency = map[model.Priority]float64{
	model.PriorityLow:    0.1,
	model.PriorityMedium: 0.3,
	model.PriorityHigh:   0.6,
	model.PriorityUrgent: 0.9,
}

// Classifier scores tickets against a keyword table. Safe for concurrent use.
type Classifier struct {
	table *Table
	now   func() time.Time
}

// New creates a Classifier over table.
func New(table *Table) *Classifier {
	return &Classifier{table: table, now: time.Now}
}

// WithClock replaces the time source used for ticket-age adjustments.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// TableVersion returns the version of the keyword table in use.
func (c *Classifier) TableVersion() string { return c.table.Version }

// Classify produces the classification of one ticket.
func (c *Classifier) Classify(text string, md model.TicketMetadata) model.ClassificationResult {
	lower := strings.ToLower(text)

	category, scores := c.category(lower)
	priority := c.priority(lower, md)
	complexity := c.complexity(lower)
	_, escalationTerm := textutil.FirstTerm(lower, c.table.EscalationTerms())

	return model.ClassificationResult{
		Category:            category,
		Priority:            priority,
		Complexity:          complexity,
		UrgencyScore:        c.urgency(lower, priority, md),
		EscalationIntent:    category == model.CategoryEscalation || escalationTerm,
		EstimatedResolution: EstimateResolution(category, complexity, priority),
		Scores:              scores,
	}
}

func (c *Classifier) category(lower string) (model.Category, map[model.Category]float64) {
	scores := make(map[model.Category]float64, len(model.CategoryPrecedence))
	for _, cat := range model.CategoryPrecedence {
		scores[cat] = score(lower, c.table.Categories[cat])
	}

	best := model.CategoryGeneral
	bestScore := 0.0
	// Strict > keeps the earlier (safer) category on ties.
	for _, cat := range model.CategoryPrecedence {
		if scores[cat] > bestScore {
			best, bestScore = cat, scores[cat]
		}
	}
	return best, scores
}

func (c *Classifier) priority(lower string, md model.TicketMetadata) model.Priority {
	scores := make(map[model.Priority]float64, len(model.Priorities))
	for _, p := range model.Priorities {
		scores[p] = score(lower, c.table.Priority[p])
	}

	if md.Premium() {
		scores[model.PriorityHigh]++
	}
	if md.UserBlocked {
		scores[model.PriorityUrgent]++
	}
	if md.CreatedAt != nil {
		age := c.now().Sub(*md.CreatedAt)
		if age > 24*time.Hour {
			scores[model.PriorityHigh]++
		}
		if age > 48*time.Hour {
			scores[model.PriorityUrgent]++
		}
	}

	result := model.PriorityMedium
	best := 0.0
	for _, p := range model.Priorities {
		if scores[p] > best {
			result, best = p, scores[p]
		}
	}

	if (md.UserBlocked || textutil.ContainsTerm(lower, "urgent")) && !result.AtLeast(model.PriorityHigh) {
		result = model.PriorityHigh
	}
	return result
}

func (c *Classifier) complexity(lower string) model.Complexity {
	scores := make(map[model.Complexity]float64, len(model.Complexities))
	for _, cx := range model.Complexities {
		scores[cx] = score(lower, c.table.Complexity[cx])
	}

	words := len(strings.Fields(lower))
	switch {
	case words > complexWordCount:
		scores[model.ComplexityComplex]++
	case words > moderateWordCount:
		scores[model.ComplexityModerate]++
	default:
		scores[model.ComplexitySimple]++
	}

	// Several joined clauses or a long comma list read as multiple issues.
	if countToken(lower, "and") > 2 || strings.Count(lower, ",") > 5 {
		scores[model.ComplexityComplex]++
	}

	result := model.ComplexitySimple
	best := 0.0
	for _, cx := range model.Complexities {
		if scores[cx] > best {
			result, best = cx, scores[cx]
		}
	}
	return result
}

func (c *Classifier) urgency(lower string, p model.Priority, md model.TicketMetadata) float64 {
	u := priorityUrgency[p]
	u += math.Min(0.1*float64(textutil.CountTerms(lower, c.table.UrgencyTerms)), 0.3)
	if md.Premium() {
		u += 0.1
	}
	if md.UserBlocked {
		u += 0.2
	}
	if md.PreviousTickets > 5 {
		u += 0.1
	}
	return math.Min(math.Max(u, 0), 1)
}

func score(lower string, terms []Term) float64 {
	total := 0.0
	for _, t := range terms {
		if textutil.ContainsTerm(lower, t.Phrase) {
			total += t.Weight
		}
	}
	return total
}

func countToken(lower, word string) int {
	n := 0
	for _, tok := range textutil.Tokenize(lower) {
		if tok == word {
			n++
		}
	}
	return n
}

var resolutionHours = map[model.Category]map[model.Complexity][2]int{
	model.CategoryTechnical:  {model.ComplexitySimple: {2, 4}, model.ComplexityModerate: {4, 8}, model.ComplexityComplex: {8, 24}},
	model.CategoryBilling:    {model.ComplexitySimple: {1, 2}, model.ComplexityModerate: {2, 4}, model.ComplexityComplex: {4, 8}},
	model.CategoryAccount:    {model.ComplexitySimple: {1, 2}, model.ComplexityModerate: {2, 4}, model.ComplexityComplex: {4, 8}},
	model.CategoryGeneral:    {model.ComplexitySimple: {1, 2}, model.ComplexityModerate: {2, 4}, model.ComplexityComplex: {4, 8}},
	model.CategoryEscalation: {model.ComplexitySimple: {2, 4}, model.ComplexityModerate: {4, 8}, model.ComplexityComplex: {8, 24}},
}

// EstimateResolution returns a human-readable resolution window. Urgent
// tickets are always "1-2 hours"; high priority halves the upper bound.
func EstimateResolution(cat model.Category, cx model.Complexity, p model.Priority) string {
	if p == model.PriorityUrgent {
		return "1-2 hours"
	}
	window, ok := resolutionHours[cat][cx]
	if !ok {
		window = [2]int{2, 4}
	}
	lo, hi := window[0], window[1]
	if p == model.PriorityHigh {
		hi = max(hi/2, lo)
	}
	if lo == hi {
		if lo == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", lo)
	}
	return fmt.Sprintf("%d-%d hours", lo, hi)
}
