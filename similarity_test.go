package banklink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigramScorer(t *testing.T) {
	s := TrigramScorer{}

	assert.InDelta(t, 1.0, s.Score("Acme Corp", "acme corp"), 1e-9)
	assert.InDelta(t, 0.5, s.Score("Acme Corp", "Acme Corporation"), 1e-9)
	assert.InDelta(t, 1.0, s.Score("ACME, corp.", "acme corp"), 1e-9)
	assert.Equal(t, 0.0, s.Score("", "acme"))
	assert.Less(t, s.Score("Acme Corp", "Globex Ltd"), 0.3)
}

func TestLevenshteinScorer(t *testing.T) {
	s := LevenshteinScorer{}

	assert.InDelta(t, 1.0, s.Score("Acme  Corp", "acme corp"), 1e-9)
	// one substitution over nine characters
	assert.InDelta(t, 1-1.0/9, s.Score("acme corp", "acne corp"), 1e-9)
	assert.Equal(t, 0.0, s.Score("acme", ""))
}

func TestNewScorer(t *testing.T) {
	assert.Equal(t, "trigram", NewScorer("").Name())
	assert.Equal(t, "trigram", NewScorer("trigram").Name())
	assert.Equal(t, "levenshtein", NewScorer("levenshtein").Name())
}
