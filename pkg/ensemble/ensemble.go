// Package ensemble combines an adapter's own heuristic score with two generic
// signals, structural similarity and adapter-agnostic fuzzy rules, into one
// deterministic ranking score.
package ensemble

import (
	"fmt"
	"sort"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
)

const (
	DefaultHeuristicWeight  = 0.4
	DefaultSimilarityWeight = 0.4
	DefaultFuzzyWeight      = 0.2

	// DefaultMatchThreshold is the score the top candidate must strictly
	// exceed to become the best match.
	DefaultMatchThreshold = 0.5
)

// Weights of the three ensemble terms.
type Weights struct {
	Heuristic  float64 `mapstructure:"heuristic" json:"heuristic"`
	Similarity float64 `mapstructure:"similarity" json:"similarity"`
	Fuzzy      float64 `mapstructure:"fuzzy" json:"fuzzy"`
}

func DefaultWeights() Weights {
	return Weights{
		Heuristic:  DefaultHeuristicWeight,
		Similarity: DefaultSimilarityWeight,
		Fuzzy:      DefaultFuzzyWeight,
	}
}

func (w Weights) Validate() error {
	if w.Heuristic < 0 || w.Similarity < 0 || w.Fuzzy < 0 {
		return fmt.Errorf("ensemble weights must be non-negative: %+v", w)
	}
	if w.Heuristic+w.Similarity+w.Fuzzy == 0 {
		return fmt.Errorf("ensemble weights are all zero")
	}
	return nil
}

// Combine returns the clamped weighted sum of the three terms.
func (w Weights) Combine(heuristic, similarity, fuzzy float64) float64 {
	return adapters.Clamp(w.Heuristic*heuristic + w.Similarity*similarity + w.Fuzzy*fuzzy)
}

// Signals are the adapter-independent inputs derived from one payload. They
// are computed once per detection and shared by every candidate.
type Signals struct {
	Features Vector
	Fuzzy    float64
}

func Prepare(p *payload.Payload) Signals {
	return Signals{Features: Extract(p), Fuzzy: Fuzzy(p.Structure())}
}

// Candidate is a registered adapter as seen by the scorer.
type Candidate struct {
	Name      string
	Adapter   adapters.Adapter
	Reference Vector
	Seq       int
}

// Scored pairs a confidence with the candidate's registration sequence.
type Scored struct {
	adapters.FormatConfidence
	Seq int
}

// Score rates one candidate against p.
func (w Weights) Score(c Candidate, p *payload.Payload, sig Signals) Scored {
	self := c.Adapter.DetectConfidence(p)
	h := adapters.Clamp(self.Score)
	s := Similarity(sig.Features, c.Reference)

	evidence := make([]string, 0, len(self.Evidence)+1)
	evidence = append(evidence, self.Evidence...)
	evidence = append(evidence, fmt.Sprintf("ensemble: heuristic %.2f, similarity %.2f, fuzzy %.2f", h, s, sig.Fuzzy))

	return Scored{
		FormatConfidence: adapters.FormatConfidence{
			AdapterName: c.Name,
			Score:       w.Combine(h, s, sig.Fuzzy),
			Evidence:    evidence,
		},
		Seq: c.Seq,
	}
}

// Rank sorts by score descending, breaking ties by registration sequence.
func Rank(scored []Scored) []adapters.FormatConfidence {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Seq < scored[j].Seq
	})
	out := make([]adapters.FormatConfidence, len(scored))
	for i, s := range scored {
		out[i] = s.FormatConfidence
	}
	return out
}

// Best returns the top adapter name when its score strictly exceeds threshold.
func Best(ranked []adapters.FormatConfidence, threshold float64) string {
	if len(ranked) == 0 || ranked[0].Score <= threshold {
		return ""
	}
	return ranked[0].AdapterName
}
