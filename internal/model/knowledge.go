package model

// KnowledgeArticle is one entry of the static knowledge corpus.
type KnowledgeArticle struct {
	ID       string   `json:"article_id" yaml:"article_id"`
	Title    string   `json:"title" yaml:"title"`
	Body     string   `json:"content" yaml:"content"`
	Tags     []string `json:"tags" yaml:"tags"`
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// ScoredArticle pairs an article with its per-query scores.
type ScoredArticle struct {
	Article    KnowledgeArticle `json:"article"`
	Relevance  float64          `json:"relevance"`
	Confidence float64          `json:"confidence"`
}

// ConfidenceLevel is the discretized confidence of a retrieval.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceNone   ConfidenceLevel = "none"
)

// RetrievalMeta summarizes one retrieval for auditing.
type RetrievalMeta struct {
	ArticlesSearched  int     `json:"articles_searched"`
	HighestRelevance  float64 `json:"highest_relevance"`
	AverageConfidence float64 `json:"average_confidence"`
	QueryLength       int     `json:"query_length"`
}

// RetrievalResult is the ranked outcome of one knowledge query.
type RetrievalResult struct {
	Query            string          `json:"query"`
	Articles         []ScoredArticle `json:"articles"`
	Level            ConfidenceLevel `json:"confidence_level"`
	Escalate         bool            `json:"should_escalate"`
	EscalationReason *string         `json:"escalation_reason,omitempty"`
	Response         string          `json:"response"`
	Meta             RetrievalMeta   `json:"meta"`
}

// TopConfidence returns the confidence of the best-ranked article, or 0.
func (r RetrievalResult) TopConfidence() float64 {
	if len(r.Articles) == 0 {
		return 0
	}
	return r.Articles[0].Confidence
}
