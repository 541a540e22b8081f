package adapters

import (
	"errors"
	"math"
	"testing"

	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateWeightedMean(t *testing.T) {
	d := Descriptor{Name: "t", DeclaredConfidence: 1}
	hs := []Heuristic{
		{Name: "a", Weight: 0.6, Test: func(*payload.Payload) float64 { return 1 }, Evidence: "a matched"},
		{Name: "b", Weight: 0.2, Test: func(*payload.Payload) float64 { return 0.5 }, Evidence: "b partial"},
		{Name: "c", Weight: 0.2, Test: func(*payload.Payload) float64 { return 0 }, Evidence: "c matched"},
	}
	fc := Evaluate(d, hs, payload.FromString("x"), "note")

	assert.Equal(t, "t", fc.AdapterName)
	assert.InDelta(t, 0.7, fc.Score, 1e-9)
	assert.Equal(t, []string{"a matched", "b partial", "note"}, fc.Evidence)
}

func TestEvaluateCapsAtDeclaredConfidence(t *testing.T) {
	d := Descriptor{Name: "t", DeclaredConfidence: 0.7}
	hs := []Heuristic{{Weight: 1, Test: func(*payload.Payload) float64 { return 1 }}}
	assert.InDelta(t, 0.7, Evaluate(d, hs, payload.FromString("x")).Score, 1e-9)
}

func TestEvaluateNoHeuristics(t *testing.T) {
	fc := Evaluate(Descriptor{Name: "t"}, nil, payload.FromString("x"), "nothing to test")
	assert.Zero(t, fc.Score)
	assert.Equal(t, []string{"nothing to test"}, fc.Evidence)
}

func TestEvaluateClampsOutOfRangeTests(t *testing.T) {
	hs := []Heuristic{{Weight: 1, Test: func(*payload.Payload) float64 { return 7 }}}
	assert.Equal(t, 1.0, Evaluate(Descriptor{Name: "t"}, hs, payload.FromString("x")).Score)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1))
	assert.Equal(t, 1.0, Clamp(2))
	assert.Equal(t, 0.25, Clamp(0.25))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
}

func TestDescriptorValidate(t *testing.T) {
	require.NoError(t, Descriptor{Name: "ok", DeclaredConfidence: 0.5}.Validate())
	assert.Error(t, Descriptor{}.Validate())
	assert.Error(t, Descriptor{Name: "bad", DeclaredConfidence: 1.5}.Validate())
}

func TestFormatError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := error(Wrap("json", cause, "malformed JSON syntax"))
	assert.Equal(t, "json: malformed JSON syntax: unexpected EOF", err.Error())
	assert.True(t, errors.Is(err, cause))

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "json", fe.Adapter)

	assert.Equal(t, "csv: no header", Errorf("csv", "no %s", "header").Error())
}

func TestNormalizedDataExtras(t *testing.T) {
	n := NewNormalizedData(Descriptor{Name: "x", Version: "1.0.0", DeclaredConfidence: 0.9})
	assert.True(t, n.Empty())
	n.SetExtra("k", 1)
	assert.Equal(t, 1, n.AdditionalProperties["k"])
	n.Energy = &Energy{Total: 1, Unit: "kWh"}
	assert.False(t, n.Empty())
	assert.Equal(t, "1.0.0", n.Metadata.AdapterVersion)
}
