// Package relevance implements the deterministic keyword-overlap score
// used to rank search candidates before human review.
package relevance

import (
	"math"
	"strconv"
	"strings"
)

// Category weights. They sum to 1.0; categories with no keywords drop out
// of the normalization denominator entirely.
const (
	WeightMechanism      = 0.4
	WeightApplication    = 0.3
	WeightSynonyms       = 0.2
	WeightClassification = 0.1
)

// Categories holds the keyword groups a candidate is scored against.
type Categories struct {
	Mechanism      []string
	Application    []string
	Synonyms       []string
	Classification []string
}

// Score computes the weighted category-keyword overlap of candidateText
// against the categories, in [0,1]. Pure and side-effect-free. The result
// is rounded to 3 decimal places.
func Score(candidateText string, c Categories) float64 {
	haystack := strings.ToLower(candidateText)

	total := 0.0
	weightUsed := 0.0
	for _, g := range []struct {
		keywords []string
		weight   float64
	}{
		{c.Mechanism, WeightMechanism},
		{c.Application, WeightApplication},
		{c.Synonyms, WeightSynonyms},
		{c.Classification, WeightClassification},
	} {
		frac, ok := matchFraction(haystack, g.keywords)
		if !ok {
			continue
		}
		total += frac * g.weight
		weightUsed += g.weight
	}
	if weightUsed == 0 {
		return 0.0
	}
	return round3(total / weightUsed)
}

// matchFraction returns the fraction of keywords found as case-insensitive
// substrings of the haystack, clamped to 1.0. ok is false when the
// category has no keywords.
func matchFraction(haystack string, keywords []string) (float64, bool) {
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			terms = append(terms, kw)
		}
	}
	if len(terms) == 0 {
		return 0, false
	}
	matched := 0
	for _, kw := range terms {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			matched++
		}
	}
	frac := float64(matched) / float64(len(terms))
	if frac > 1.0 {
		frac = 1.0
	}
	return frac, true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FormatScore renders the exact decimal string persisted to the store.
// Scores are never stored as binary floating point.
func FormatScore(v float64) string {
	return strconv.FormatFloat(round3(v), 'f', 3, 64)
}
