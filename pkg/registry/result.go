package registry

import (
	"encoding/json"
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
)

type Performance struct {
	TotalTimeMs        float64 `json:"totalTimeMs"`
	EarlyExitTriggered bool    `json:"earlyExitTriggered"`
	CacheHit           bool    `json:"cacheHit"`
	TimedOut           bool    `json:"timedOut"`
}

// DetectionResult is created fresh for every call and never shared.
// BestMatch is empty when no adapter cleared the match threshold and is
// encoded as null.
type DetectionResult struct {
	BestMatch        string
	ConfidenceScores []adapters.FormatConfidence
	Performance      Performance
}

type detectionResultJSON struct {
	BestMatch        *string                     `json:"bestMatch"`
	ConfidenceScores []adapters.FormatConfidence `json:"confidenceScores"`
	Performance      Performance                 `json:"performance"`
}

func (r DetectionResult) MarshalJSON() ([]byte, error) {
	out := detectionResultJSON{ConfidenceScores: r.ConfidenceScores, Performance: r.Performance}
	if r.BestMatch != "" {
		best := r.BestMatch
		out.BestMatch = &best
	}
	if out.ConfidenceScores == nil {
		out.ConfidenceScores = []adapters.FormatConfidence{}
	}
	return json.Marshal(out)
}

func (r *DetectionResult) UnmarshalJSON(b []byte) error {
	var in detectionResultJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.BestMatch = ""
	if in.BestMatch != nil {
		r.BestMatch = *in.BestMatch
	}
	r.ConfidenceScores = in.ConfidenceScores
	r.Performance = in.Performance
	return nil
}

// Top returns the highest ranked confidence, if any.
func (r *DetectionResult) Top() (adapters.FormatConfidence, bool) {
	if r == nil || len(r.ConfidenceScores) == 0 {
		return adapters.FormatConfidence{}, false
	}
	return r.ConfidenceScores[0], true
}

// cachedResult is the part of a DetectionResult that is stable across calls.
type cachedResult struct {
	bestMatch string
	scores    []adapters.FormatConfidence
	earlyExit bool
}

func (c cachedResult) result() *DetectionResult {
	return &DetectionResult{
		BestMatch:        c.bestMatch,
		ConfidenceScores: cloneScores(c.scores),
		Performance:      Performance{EarlyExitTriggered: c.earlyExit, CacheHit: true},
	}
}

func cloneScores(in []adapters.FormatConfidence) []adapters.FormatConfidence {
	out := make([]adapters.FormatConfidence, len(in))
	for i, fc := range in {
		out[i] = fc
		out[i].Evidence = append([]string(nil), fc.Evidence...)
	}
	return out
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
