package adapters

import (
	"github.com/qarbon/qingest/pkg/payload"
)

// Heuristic is one weighted detection signal. Test returns a partial score in
// [0,1] and must finish in bounded time: detection cancellation is cooperative
// and a test that never returns stalls the whole detection call.
type Heuristic struct {
	Name     string
	Weight   float64
	Test     func(p *payload.Payload) float64
	Evidence string
}

// Bool maps a boolean test outcome to a partial score.
func Bool(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// Evaluate computes the weighted mean of hs against p and caps it at the
// descriptor's declared confidence; a zero declared confidence leaves it
// uncapped. Heuristics scoring above zero contribute their evidence line in
// declaration order and notes are appended after them.
func Evaluate(d Descriptor, hs []Heuristic, p *payload.Payload, notes ...string) FormatConfidence {
	fc := FormatConfidence{AdapterName: d.Name}

	var total, sum float64
	for _, h := range hs {
		if h.Weight <= 0 || h.Test == nil {
			continue
		}
		total += h.Weight
		s := Clamp(h.Test(p))
		if s == 0 {
			continue
		}
		sum += h.Weight * s
		if h.Evidence != "" {
			fc.Evidence = append(fc.Evidence, h.Evidence)
		}
	}
	fc.Evidence = append(fc.Evidence, notes...)

	if total == 0 {
		return fc
	}
	score := sum / total
	if d.DeclaredConfidence > 0 && score > d.DeclaredConfidence {
		score = d.DeclaredConfidence
	}
	fc.Score = Clamp(score)
	return fc
}
