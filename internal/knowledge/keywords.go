package knowledge

import (
	"github.com/ashita-ai/madoguchi/internal/textutil"
)

// Tokens of this length or shorter are never keywords.
const minKeywordLen = 3

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
	"by", "is", "are", "was", "were", "be", "been", "have", "has", "had", "do", "does",
	"did", "will", "would", "could", "should", "may", "might", "can", "can't", "cannot",
	"this", "that", "these", "those", "i", "you", "he", "she", "it", "we", "they",
	"me", "him", "her", "us", "them", "my", "your", "his", "its", "our", "their",
	"mine", "yours", "hers", "ours", "theirs", "what", "when", "where", "why", "how",
	"who", "which", "whom", "whose", "if", "then", "else", "because", "since", "while",
	"before", "after", "during", "until", "unless", "although", "though", "even", "as",
	"so", "than", "such", "very", "too", "just", "only", "also", "still", "again",
	"once", "twice", "first", "second", "third", "last", "next", "previous", "current",
	"new", "old", "good", "bad", "big", "small", "high", "low", "long", "short", "fast",
	"slow", "easy", "hard", "simple", "complex", "important", "urgent", "critical",
	"necessary", "optional", "into", "from", "about", "there", "here", "not", "don't",
	"isn't", "get", "got",
)

// ExtractKeywords returns the meaningful tokens of text in order: lower-cased,
// stop words removed, longer than two characters.
func ExtractKeywords(text string) []string {
	var out []string
	for _, tok := range textutil.Tokenize(text) {
		if len(tok) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
