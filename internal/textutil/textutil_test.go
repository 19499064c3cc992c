package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"i", "can't", "log", "into", "my", "account", "password", "wrong"},
		Tokenize("I can't log into my account, password wrong"))
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("?!  ..."))
}

func TestContainsTerm(t *testing.T) {
	lower := "my refunds are late and the app is unhappy"
	assert.True(t, ContainsTerm(lower, "refund"))
	assert.True(t, ContainsTerm(lower, "app"))
	assert.True(t, ContainsTerm(lower, "are late"))
	assert.False(t, ContainsTerm(lower, "happy"), "mid-word match must not count")
	assert.False(t, ContainsTerm(lower, ""))
	assert.False(t, ContainsTerm("", "app"))
	// A later occurrence at a boundary still counts.
	assert.True(t, ContainsTerm("unhappy happy", "happy"))
}

func TestContainsTerm_ShortTermsEndAtWordBoundary(t *testing.T) {
	for _, lower := range []string{
		"i appreciate your help",
		"my application was rejected",
		"i booked an appointment",
	} {
		assert.False(t, ContainsTerm(lower, "app"), lower)
	}
	assert.True(t, ContainsTerm("the app crashes", "app"))
	assert.True(t, ContainsTerm("both apps crash", "app"))
	assert.True(t, ContainsTerm("app", "app"))
	assert.True(t, ContainsTerm("app's login", "app"))
	assert.False(t, ContainsTerm("thanks for the feedback", "fee"))
	assert.True(t, ContainsTerm("why are the fees so high", "fee"))
	assert.False(t, ContainsTerm("appstore", "app"))

	// Longer terms still match as prefixes.
	assert.True(t, ContainsTerm("it was refunded", "refund"))
	assert.True(t, ContainsTerm("cancellation please", "cancel"))
}

func TestCountAndFirstTerm(t *testing.T) {
	lower := "urgent i need a human agent now"
	assert.Equal(t, 3, CountTerms(lower, []string{"urgent", "human", "agent", "legal"}))
	term, ok := FirstTerm(lower, []string{"legal", "human", "urgent"})
	assert.True(t, ok)
	assert.Equal(t, "human", term)
	_, ok = FirstTerm(lower, []string{"lawsuit"})
	assert.False(t, ok)
}

func TestJaccard(t *testing.T) {
	a := TokenSet("reserve an event")
	b := TokenSet("reserve a spot for an event")
	// inter = {reserve, an, event} = 3; union = 6
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(a, TokenSet("")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	// Never splits a multi-byte rune.
	assert.Equal(t, "caf...", Truncate("café au lait", 4))
}
