package classify

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/madoguchi/internal/model"
)

//go:embed keywords.yaml
var defaultTableYAML []byte

// Term is one weighted keyword.
type Term struct {
	Phrase string
	Weight float64
}

// Table is a parsed, validated keyword-weight table. Read-only after load.
type Table struct {
	Version      string
	Categories   map[model.Category][]Term
	Priority     map[model.Priority][]Term
	Complexity   map[model.Complexity][]Term
	UrgencyTerms []string
}

type tableFile struct {
	Version      string                                 `yaml:"version"`
	Categories   map[model.Category]map[string]float64   `yaml:"categories"`
	Priority     map[model.Priority]map[string]float64   `yaml:"priority"`
	Complexity   map[model.Complexity]map[string]float64 `yaml:"complexity"`
	UrgencyTerms []string                               `yaml:"urgency_terms"`
}

// DefaultTable returns the keyword table compiled into the binary.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTableYAML)
}

// LoadTable reads a keyword table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("classify: read keyword table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML keyword table.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("classify: parse keyword table: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("classify: keyword table has no version")
	}

	t := &Table{
		Version:    f.Version,
		Categories: make(map[model.Category][]Term, len(f.Categories)),
		Priority:   make(map[model.Priority][]Term, len(f.Priority)),
		Complexity: make(map[model.Complexity][]Term, len(f.Complexity)),
	}
	for cat, terms := range f.Categories {
		if !cat.Valid() {
			return nil, fmt.Errorf("classify: unknown category %q in keyword table", cat)
		}
		t.Categories[cat] = sortedTerms(terms)
	}
	if len(t.Categories[model.CategoryEscalation]) == 0 {
		return nil, fmt.Errorf("classify: keyword table must define escalation terms")
	}
	for p, terms := range f.Priority {
		if p.Rank() == 0 {
			return nil, fmt.Errorf("classify: unknown priority %q in keyword table", p)
		}
		t.Priority[p] = sortedTerms(terms)
	}
	for c, terms := range f.Complexity {
		switch c {
		case model.ComplexitySimple, model.ComplexityModerate, model.ComplexityComplex:
		default:
			return nil, fmt.Errorf("classify: unknown complexity %q in keyword table", c)
		}
		t.Complexity[c] = sortedTerms(terms)
	}
	for _, u := range f.UrgencyTerms {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			t.UrgencyTerms = append(t.UrgencyTerms, u)
		}
	}
	return t, nil
}

// EscalationTerms returns the phrases of the escalation category.
func (t *Table) EscalationTerms() []string {
	terms := t.Categories[model.CategoryEscalation]
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = term.Phrase
	}
	return out
}

// sortedTerms lower-cases phrases and orders them so that score sums are
// reproducible bit-for-bit across runs.
func sortedTerms(m map[string]float64) []Term {
	out := make([]Term, 0, len(m))
	for phrase, w := range m {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" || w <= 0 {
			continue
		}
		out = append(out, Term{Phrase: phrase, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phrase < out[j].Phrase })
	return out
}
