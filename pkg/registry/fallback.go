package registry

import (
	"context"
	"unicode/utf8"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
)

// RawFallbackName is the adapter name stamped on records produced by RawFallback.
const RawFallbackName = "raw"

const defaultRawPreview = 4096

// RawFallback is an UnknownHandler that keeps unrecognized payloads instead of
// failing: the record carries the payload kind, a bounded text preview and
// the candidate table.
type RawFallback struct {
	MaxPreview int
}

func (f RawFallback) ProcessUnknown(_ context.Context, p *payload.Payload, res *DetectionResult) (*adapters.NormalizedData, error) {
	limit := f.MaxPreview
	if limit <= 0 {
		limit = defaultRawPreview
	}
	data := &adapters.NormalizedData{
		Metadata: adapters.Metadata{Adapter: RawFallbackName, AdapterVersion: "1.0.0"},
	}
	data.SetExtra("kind", p.Kind().String())
	data.SetExtra("size", p.Len())
	if k := p.Kind(); k != payload.KindBinary && k != payload.KindEmpty {
		data.SetExtra("preview", preview(p.Bytes(), limit))
	}
	if res != nil && len(res.ConfidenceScores) > 0 {
		data.SetExtra("candidates", cloneScores(res.ConfidenceScores))
	}
	return data, nil
}

// preview cuts b to at most limit bytes without splitting a UTF-8 sequence.
func preview(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut])
}
