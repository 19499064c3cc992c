// Package textutil holds the tokenization and term-matching rules shared by
// the classifier, the knowledge retriever, and the escalation policy, so that
// all three agree on what "contains a keyword" means.
package textutil

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)

// Tokenize splits text into lowercase word tokens. Apostrophe contractions
// ("can't") stay whole.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// shortTerm is the length below which a term must also end at a word
// boundary, optionally followed by a plural "s".
const shortTerm = 4

// ContainsTerm reports whether lower (already lower-cased text) contains term
// starting at a word boundary. "refund" matches "refunds" and "refunded" but
// "app" does not match "happy". Terms shorter than four bytes must end a word
// too: "app" matches "apps" but not "appointment". Multi-word terms match as
// phrases.
func ContainsTerm(lower, term string) bool {
	if term == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(lower[from:], term)
		if i < 0 {
			return false
		}
		pos := from + i
		if (pos == 0 || !isWordByte(lower[pos-1])) && termEnds(lower, pos+len(term), len(term)) {
			return true
		}
		from = pos + 1
		if from >= len(lower) {
			return false
		}
	}
}

// CountTerms returns how many of terms occur in lower.
func CountTerms(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if ContainsTerm(lower, t) {
			n++
		}
	}
	return n
}

// FirstTerm returns the first of terms present in lower.
func FirstTerm(lower string, terms []string) (string, bool) {
	for _, t := range terms {
		if ContainsTerm(lower, t) {
			return t, true
		}
	}
	return "", false
}

// Truncate shortens s to at most n bytes on a rune boundary, appending "..."
// when anything was cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func termEnds(lower string, end, termLen int) bool {
	if termLen >= shortTerm || end >= len(lower) || !isWordByte(lower[end]) {
		return true
	}
	return lower[end] == 's' && (end+1 == len(lower) || !isWordByte(lower[end+1]))
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}
