/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package banklink

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/banklink/banklink/config"
)

// SimilarityScorer rates how alike two names are on a 0..1 scale.
type SimilarityScorer interface {
	Score(a, b string) float64
	Name() string
}

// NewScorer returns the scorer registered under name, defaulting to trigrams.
func NewScorer(name string) SimilarityScorer {
	if name == config.ScorerLevenshtein {
		return LevenshteinScorer{}
	}
	return TrigramScorer{}
}

// TrigramScorer computes the same similarity as Postgres pg_trgm: words are
// lower-cased, padded with two leading blanks and one trailing blank, and the
// score is the Jaccard index of the two trigram sets.
type TrigramScorer struct{}

func (TrigramScorer) Name() string { return config.ScorerTrigram }

func (TrigramScorer) Score(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// LevenshteinScorer scores 1 - distance/longest over lower-cased names.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Name() string { return config.ScorerLevenshtein }

func (LevenshteinScorer) Score(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.Join(strings.Fields(a), " ")))
	rb := []rune(strings.ToLower(strings.Join(strings.Fields(b), " ")))
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return 1 - float64(distance)/float64(longest)
}
