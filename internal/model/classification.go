package model

// Category is the ticket category assigned by the classifier.
type Category string

const (
	CategoryTechnical  Category = "technical"
	CategoryBilling    Category = "billing"
	CategoryAccount    Category = "account"
	CategoryGeneral    Category = "general"
	CategoryEscalation Category = "escalation"
)

// CategoryPrecedence is the tie-break order for category scores, safest first.
var CategoryPrecedence = []Category{
	CategoryEscalation,
	CategoryTechnical,
	CategoryBilling,
	CategoryAccount,
	CategoryGeneral,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryBilling, CategoryAccount, CategoryGeneral, CategoryEscalation:
		return true
	}
	return false
}

// Priority is the ticket priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every priority from highest to lowest rank.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the numeric rank of a priority (higher = more pressing).
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast returns true if p ranks at or above min.
func (p Priority) AtLeast(min Priority) bool {
	return p.Rank() >= min.Rank()
}

// Complexity is the estimated ticket complexity.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Complexities lists every complexity, strongest first.
var Complexities = []Complexity{ComplexityComplex, ComplexityModerate, ComplexitySimple}

// ClassificationResult is produced once per ticket by the classifier.
type ClassificationResult struct {
	Category            Category             `json:"category"`
	Priority            Priority             `json:"priority"`
	Complexity          Complexity           `json:"complexity"`
	UrgencyScore        float64              `json:"urgency_score"`
	EscalationIntent    bool                 `json:"escalation_intent"`
	EstimatedResolution string               `json:"estimated_resolution"`
	Scores              map[Category]float64 `json:"scores,omitempty"`
}
