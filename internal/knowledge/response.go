package knowledge

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

const (
	maxKeyPoints       = 3
	minKeyPointLen     = 20
	mediumPreviewLen   = 150
	lowPreviewLen      = 100
	mediumArticleCount = 2
)

// EscalationMessage is sent when no article can answer the ticket.
const EscalationMessage = "I'm passing this to our human support team, who will follow up with you shortly."

// DraftResponse composes the user-facing text for a retrieval, tiered by
// confidence level. Escalated results always get the escalation message.
func DraftResponse(r model.RetrievalResult) string {
	if r.Escalate || len(r.Articles) == 0 {
		return escalationResponse(r.Articles)
	}
	switch r.Level {
	case model.ConfidenceHigh:
		return highResponse(r.Articles)
	case model.ConfidenceMedium:
		return mediumResponse(r.Articles)
	case model.ConfidenceLow:
		return lowResponse(r.Articles)
	default:
		return escalationResponse(r.Articles)
	}
}

// KeyPoints returns up to three substantive lines of an article body,
// skipping headings and short fragments.
func KeyPoints(body string) []string {
	var points []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= minKeyPointLen || strings.HasPrefix(line, "**") {
			continue
		}
		points = append(points, line)
		if len(points) == maxKeyPoints {
			break
		}
	}
	return points
}

func highResponse(articles []model.ScoredArticle) string {
	top := articles[0].Article
	var b strings.Builder
	b.WriteString("Based on our knowledge base, here's what you need:\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", top.Title)
	for _, p := range KeyPoints(top.Body) {
		fmt.Fprintf(&b, "• %s\n", p)
	}
	if len(articles) > 1 {
		b.WriteString("\n*More related articles are available in our knowledge base.*")
	}
	return b.String()
}

func mediumResponse(articles []model.ScoredArticle) string {
	var b strings.Builder
	b.WriteString("I found some information that may help:\n\n")
	for i, s := range articles {
		if i == mediumArticleCount {
			break
		}
		fmt.Fprintf(&b, "**%d. %s**\n%s\n\n", i+1, s.Article.Title, textutil.Truncate(s.Article.Body, mediumPreviewLen))
	}
	b.WriteString("If this doesn't fully answer your question, reply and I can hand it to a human agent.")
	return b.String()
}

func lowResponse(articles []model.ScoredArticle) string {
	top := articles[0].Article
	var b strings.Builder
	b.WriteString("I found some general information that may be related:\n\n")
	fmt.Fprintf(&b, "**%s**\n%s\n\n", top.Title, textutil.Truncate(top.Body, lowPreviewLen))
	b.WriteString("It may not fully address your question. Would you like me to escalate this to a human agent?")
	return b.String()
}

func escalationResponse(articles []model.ScoredArticle) string {
	var b strings.Builder
	b.WriteString("I don't have enough information in our knowledge base to answer this completely. ")
	if len(articles) > 0 {
		fmt.Fprintf(&b, "The closest article I found is %q, but it may not cover your situation. ", articles[0].Article.Title)
	}
	b.WriteString(EscalationMessage)
	return b.String()
}
