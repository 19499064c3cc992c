package generate

import (
	"context"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/model"
)

var openings = map[model.HandlerLabel]string{
	model.HandlerTechnical:     "Thanks for reaching out about this technical issue.",
	model.HandlerBilling:       "Thanks for contacting us about your billing question.",
	model.HandlerAccount:       "Thanks for getting in touch about your account.",
	model.HandlerKnowledgeBase: "Thanks for your question.",
	model.HandlerRAG:           "Thanks for your question.",
}

// TemplateGenerator phrases the retrieval draft with a handler-specific
// opening. It is deterministic and needs no network.
type TemplateGenerator struct {
	budget *Budget
}

// NewTemplateGenerator returns a TemplateGenerator. budget may be nil, in
// which case MaxTokens is not enforced.
func NewTemplateGenerator(budget *Budget) *TemplateGenerator {
	return &TemplateGenerator{budget: budget}
}

func (g *TemplateGenerator) Generate(ctx context.Context, _ string, c Constraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	draft := strings.TrimSpace(c.Draft)
	if draft == "" && len(c.Notes) == 0 {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	if opening, ok := openings[c.Handler]; ok {
		b.WriteString(opening)
		b.WriteString("\n\n")
	}
	for _, n := range c.Notes {
		b.WriteString(n)
		b.WriteString("\n")
	}
	if len(c.Notes) > 0 && draft != "" {
		b.WriteString("\n")
	}
	b.WriteString(draft)

	out := b.String()
	if g.budget != nil {
		out = g.budget.Truncate(out, c.MaxTokens)
	}
	return out, nil
}
