package ensemble

import (
	"math"

	"github.com/qarbon/qingest/pkg/payload"
)

type fuzzyRule struct {
	name   string
	weight float64
	test   func(s payload.Structure) bool
}

// fuzzyRules are evaluated identically for every adapter; their summed weight
// is capped at 1.
var fuzzyRules = []fuzzyRule{
	{"object", 0.3, func(s payload.Structure) bool { return s.Object }},
	{"emission vocabulary", 0.4, func(s payload.Structure) bool { return vocabularyHits(s) > 0 }},
	{"vocabulary breadth", 0.2, func(s payload.Structure) bool { return vocabularyHits(s) >= 2 }},
	{"numeric vocabulary value", 0.1, hasNumericVocabulary},
	{"array of objects", 0.3, func(s payload.Structure) bool { return s.ArrayOfObjects }},
}

// Fuzzy scores a payload structure against the generic rule table.
func Fuzzy(s payload.Structure) float64 {
	var score float64
	for _, r := range fuzzyRules {
		if r.test(s) {
			score += r.weight
		}
	}
	return math.Min(score, 1)
}

// FuzzyMatches lists the names of the rules s satisfies.
func FuzzyMatches(s payload.Structure) []string {
	var out []string
	for _, r := range fuzzyRules {
		if r.test(s) {
			out = append(out, r.name)
		}
	}
	return out
}

func vocabularyHits(s payload.Structure) int {
	n := 0
	for _, term := range Vocabulary {
		if s.HasName(term) {
			n++
		}
	}
	return n
}

func hasNumericVocabulary(s payload.Structure) bool {
	for _, term := range Vocabulary {
		if s.HasNumericName(term) {
			return true
		}
	}
	return false
}
