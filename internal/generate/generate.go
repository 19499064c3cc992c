// Package generate turns a ticket and its retrieval draft into the final
// user-facing response. The Generator is an opaque collaborator: the
// workflow decides what to say, a Generator decides how to phrase it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// ErrEmptyResponse is returned when a generator produced no text.
var ErrEmptyResponse = errors.New("generate: empty response")

// Constraints shape one generation.
type Constraints struct {
	MaxTokens int                // response budget; 0 means unlimited
	Handler   model.HandlerLabel // resolution path the response speaks for
	Draft     string             // retrieval draft to ground the response on
	Notes     []string           // facts gathered by support operations
}

// Generator produces response text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, c Constraints) (string, error)
}

// Budget counts and trims text by cl100k tokens.
type Budget struct {
	codec tokenizer.Codec
}

// NewBudget loads the cl100k_base encoding.
func NewBudget() (*Budget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("generate: load tokenizer: %w", err)
	}
	return &Budget{codec: codec}, nil
}

// Count returns the number of tokens in s.
func (b *Budget) Count(s string) int {
	ids, _, err := b.codec.Encode(s)
	if err != nil {
		return len(strings.Fields(s))
	}
	return len(ids)
}

// Truncate returns s cut to at most max tokens. max <= 0 leaves s intact.
func (b *Budget) Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	ids, _, err := b.codec.Encode(s)
	if err != nil || len(ids) <= max {
		return s
	}
	out, err := b.codec.Decode(ids[:max])
	if err != nil {
		return s
	}
	return strings.TrimRightFunc(strings.ToValidUTF8(out, ""), isSpace)
}

func isSpace(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' }

// BuildPrompt renders the instruction sent to a language model.
func BuildPrompt(t model.Ticket, cls model.ClassificationResult, c Constraints) string {
	var b strings.Builder
	b.WriteString("You are a customer support assistant. Answer the customer using only the reference material.\n\n")
	fmt.Fprintf(&b, "Category: %s\nPriority: %s\nHandler: %s\n\n", cls.Category, cls.Priority, c.Handler)
	fmt.Fprintf(&b, "Customer message:\n%s\n\n", t.Text)
	if c.Draft != "" {
		fmt.Fprintf(&b, "Reference material:\n%s\n\n", c.Draft)
	}
	if len(c.Notes) > 0 {
		b.WriteString("Account facts:\n")
		for _, n := range c.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply in a friendly, concise tone.")
	return b.String()
}
