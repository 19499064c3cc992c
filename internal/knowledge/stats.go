package knowledge

import (
	"github.com/ashita-ai/madoguchi/internal/model"
)

// Statistics aggregates a set of retrievals. Averages use the best-ranked
// article of each retrieval.
func Statistics(results []model.RetrievalResult) model.RetrievalStats {
	stats := model.RetrievalStats{
		TotalQueries:           len(results),
		ConfidenceDistribution: make(map[model.ConfidenceLevel]int),
	}
	if len(results) == 0 {
		return stats
	}

	var articles int
	var relevance, confidence float64
	for _, r := range results {
		if r.Escalate {
			stats.FailedRetrievals++
		} else {
			stats.SuccessfulRetrievals++
		}
		stats.ConfidenceDistribution[r.Level]++
		articles += len(r.Articles)
		if len(r.Articles) > 0 {
			relevance += r.Articles[0].Relevance
			confidence += r.TopConfidence()
		}
	}

	n := float64(len(results))
	stats.EscalationRate = float64(stats.FailedRetrievals) / n
	stats.AverageArticlesRetrieved = float64(articles) / n
	stats.AverageRelevanceScore = relevance / n
	stats.AverageConfidenceScore = confidence / n
	return stats
}
