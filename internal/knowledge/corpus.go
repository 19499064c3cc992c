package knowledge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 1 << 20

// rawArticle accepts tags as either a list or a comma-separated string.
type rawArticle struct {
	ID       string `json:"article_id" yaml:"article_id"`
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
	Tags     any    `json:"tags" yaml:"tags"`
	Category string `json:"category" yaml:"category"`
}

// LoadCorpus reads articles from a JSONL file, a YAML file (.yaml/.yml), or
// a directory containing such files. Articles without an id get a stable
// generated id of the form article-NNN.
func LoadCorpus(path string) ([]model.KnowledgeArticle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: stat corpus: %w", err)
	}
	if info.IsDir() {
		return LoadCorpusDir(path)
	}
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return normalize(raw)
}

// LoadCorpusDir reads every .jsonl, .yaml and .yml file in dir, in name order.
func LoadCorpusDir(dir string) ([]model.KnowledgeArticle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read corpus dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jsonl", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []rawArticle
	for _, name := range names {
		raw, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, raw...)
	}
	return normalize(all)
}

func readFile(path string) ([]rawArticle, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("knowledge: read corpus: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data, path)
	default:
		return parseJSONL(data, path)
	}
}

// ParseJSONL decodes one article per non-blank line.
func ParseJSONL(data []byte) ([]model.KnowledgeArticle, error) {
	raw, err := parseJSONL(data, "input")
	if err != nil {
		return nil, err
	}
	return normalize(raw)
}

func parseJSONL(data []byte, name string) ([]rawArticle, error) {
	var out []rawArticle
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var a rawArticle
		if err := json.Unmarshal(text, &a); err != nil {
			return nil, fmt.Errorf("knowledge: %s line %d: %w", name, line, err)
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: scan %s: %w", name, err)
	}
	return out, nil
}

func parseYAML(data []byte, name string) ([]rawArticle, error) {
	var doc struct {
		Articles []rawArticle `yaml:"articles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("knowledge: parse %s: %w", name, err)
	}
	return doc.Articles, nil
}

func normalize(raw []rawArticle) ([]model.KnowledgeArticle, error) {
	explicit := make(map[string]bool, len(raw))
	for _, r := range raw {
		if id := strings.TrimSpace(r.ID); id != "" {
			explicit[id] = true
		}
	}

	out := make([]model.KnowledgeArticle, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	next := 0
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			for id == "" || explicit[id] || seen[id] {
				id = fmt.Sprintf("article-%03d", next)
				next++
			}
		}
		if seen[id] {
			return nil, fmt.Errorf("knowledge: duplicate article id %q", id)
		}
		seen[id] = true

		if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Content) == "" {
			return nil, fmt.Errorf("knowledge: article %q has neither title nor content", id)
		}
		cat := model.Category(strings.ToLower(strings.TrimSpace(r.Category)))
		if cat != "" && !cat.Valid() {
			return nil, fmt.Errorf("knowledge: article %q has unknown category %q", id, r.Category)
		}
		out = append(out, model.KnowledgeArticle{
			ID:       id,
			Title:    r.Title,
			Body:     r.Content,
			Tags:     splitTags(r.Tags),
			Category: cat,
		})
	}
	return out, nil
}

func splitTags(v any) []string {
	var parts []string
	switch t := v.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
