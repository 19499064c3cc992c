// Package knowledge scores a static corpus of support articles against a
// ticket query, ranks the best matches, buckets the result into a confidence
// level, and drafts a confidence-tiered response.
package knowledge

import (
	"math"
	"sort"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

// TopN is the number of articles returned per query.
const TopN = 3

// Sub-score weights for relevance.
const (
	weightContent  = 0.4
	weightTitle    = 0.3
	weightTags     = 0.2
	weightSemantic = 0.1

	titleBoost = 1.5
	tagBoost   = 2.0

	tagInQueryBoost = 1.1
	maxLengthRatio  = 2.0
)

// Levels are the confidence cutoffs for High, Medium and Low.
type Levels struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultLevels returns the stock 0.7/0.5/0.3 cutoffs.
func DefaultLevels() Levels {
	return Levels{High: 0.7, Medium: 0.5, Low: 0.3}
}

// Bucket maps a confidence score to a level.
func (l Levels) Bucket(confidence float64) model.ConfidenceLevel {
	switch {
	case confidence >= l.High:
		return model.ConfidenceHigh
	case confidence >= l.Medium:
		return model.ConfidenceMedium
	case confidence >= l.Low:
		return model.ConfidenceLow
	default:
		return model.ConfidenceNone
	}
}

// Escalator decides whether a retrieval must leave the automated path.
// The escalation policy is the only implementation outside tests.
type Escalator interface {
	ShouldEscalate(r model.RetrievalResult, c *model.ClassificationResult, md model.TicketMetadata) model.EscalationDecision
}

// indexedArticle caches the lower-cased fields of an article.
type indexedArticle struct {
	article    model.KnowledgeArticle
	body       string
	title      string
	tags       string
	tagList    []string
	bodyTokens map[string]struct{}
	bodyWords  int
}

// Retriever ranks articles of a fixed corpus. The corpus is immutable after
// construction, so a Retriever is safe for concurrent use without locking.
type Retriever struct {
	articles []indexedArticle
	levels   Levels
	policy   Escalator
}

// NewRetriever indexes articles. policy may be nil, in which case only the
// None level escalates.
func NewRetriever(articles []model.KnowledgeArticle, levels Levels, policy Escalator) *Retriever {
	idx := make([]indexedArticle, 0, len(articles))
	for _, a := range articles {
		tagList := make([]string, 0, len(a.Tags))
		for _, t := range a.Tags {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				tagList = append(tagList, t)
			}
		}
		body := strings.ToLower(a.Body)
		idx = append(idx, indexedArticle{
			article:    a,
			body:       body,
			title:      strings.ToLower(a.Title),
			tags:       strings.Join(tagList, ", "),
			tagList:    tagList,
			bodyTokens: textutil.TokenSet(body),
			bodyWords:  len(strings.Fields(a.Body)),
		})
	}
	return &Retriever{articles: idx, levels: levels, policy: policy}
}

// Size returns the number of indexed articles.
func (r *Retriever) Size() int { return len(r.articles) }

// Levels returns the confidence cutoffs in use.
func (r *Retriever) Levels() Levels { return r.levels }

// Retrieve scores every article against query and returns the top matches,
// the confidence level, the escalation verdict, and a drafted response.
// It never fails: an empty corpus or empty query yields level None.
func (r *Retriever) Retrieve(query string, md *model.TicketMetadata) model.RetrievalResult {
	scored := r.Score(query)

	res := model.RetrievalResult{
		Query:    query,
		Articles: scored,
		Level:    model.ConfidenceNone,
		Meta: model.RetrievalMeta{
			ArticlesSearched: len(r.articles),
			QueryLength:      len(query),
		},
	}
	if len(scored) > 0 {
		res.Level = r.levels.Bucket(scored[0].Confidence)
		res.Meta.HighestRelevance = scored[0].Relevance
		sum := 0.0
		for _, s := range scored {
			sum += s.Confidence
		}
		res.Meta.AverageConfidence = sum / float64(len(scored))
	}

	var meta model.TicketMetadata
	if md != nil {
		meta = *md
	}
	decision := model.EscalationDecision{Escalate: res.Level == model.ConfidenceNone}
	if r.policy != nil {
		decision = r.policy.ShouldEscalate(res, nil, meta)
	}
	res.Escalate = decision.Escalate
	if decision.Escalate {
		reason := decision.Reason
		res.EscalationReason = &reason
	}
	res.Response = DraftResponse(res)
	return res
}

// Score returns up to TopN articles with nonzero relevance, sorted by
// relevance descending and then by ascending article id.
func (r *Retriever) Score(query string) []model.ScoredArticle {
	if strings.TrimSpace(query) == "" || len(r.articles) == 0 {
		return nil
	}
	lower := strings.ToLower(query)
	keywords := ExtractKeywords(lower)
	queryTokens := textutil.TokenSet(lower)
	queryWords := len(strings.Fields(query))

	scored := make([]model.ScoredArticle, 0, len(r.articles))
	for i := range r.articles {
		a := &r.articles[i]
		rel := relevance(keywords, queryTokens, a)
		if rel <= 0 {
			continue
		}
		scored = append(scored, model.ScoredArticle{
			Article:    a.article,
			Relevance:  rel,
			Confidence: confidence(rel, lower, queryWords, a),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].Article.ID < scored[j].Article.ID
	})
	if len(scored) > TopN {
		scored = scored[:TopN]
	}
	return scored
}

func relevance(keywords []string, queryTokens map[string]struct{}, a *indexedArticle) float64 {
	content := keywordMatch(keywords, a.body)
	title := keywordMatch(keywords, a.title) * titleBoost
	tags := keywordMatch(keywords, a.tags) * tagBoost
	semantic := textutil.Jaccard(queryTokens, a.bodyTokens)

	total := content*weightContent + title*weightTitle + tags*weightTags + semantic*weightSemantic
	return clamp01(total)
}

// confidence scales relevance by how the query length compares to the
// article length, with a bonus when a tag appears verbatim in the query.
func confidence(rel float64, lowerQuery string, queryWords int, a *indexedArticle) float64 {
	c := rel
	if a.bodyWords > 0 {
		ratio := math.Min(float64(queryWords)/float64(a.bodyWords), maxLengthRatio)
		c *= 0.8 + 0.2*ratio
	}
	for _, tag := range a.tagList {
		if strings.Contains(lowerQuery, tag) {
			c *= tagInQueryBoost
			break
		}
	}
	return clamp01(c)
}

func keywordMatch(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := textutil.CountTerms(text, keywords)
	return float64(hits) / float64(len(keywords))
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
