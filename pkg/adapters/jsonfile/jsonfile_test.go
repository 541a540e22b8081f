package jsonfile

import (
	"errors"
	"testing"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	a := New()
	tests := []struct {
		in   string
		want bool
	}{
		{`{"a":1}`, true},
		{`[{"a":1}]`, true},
		{`42`, false},
		{`{invalid json`, false},
		{`a,b\n1,2`, false},
		{``, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Detect(payload.FromString(tt.in)), tt.in)
	}
}

func TestDetectConfidence(t *testing.T) {
	a := New()

	full := a.DetectConfidence(payload.FromString(`{"emissions_kg":1,"name":"x"}`))
	assert.Equal(t, 0.7, full.Score, "capped at the declared confidence")
	assert.Contains(t, full.Evidence, "valid JSON syntax")
	assert.Contains(t, full.Evidence, "emission-related field names")

	plain := a.DetectConfidence(payload.FromString(`{"name":"x"}`))
	assert.InDelta(t, 0.7, plain.Score, 1e-9)
	assert.NotContains(t, plain.Evidence, "emission-related field names")

	text := a.DetectConfidence(payload.FromString(`hello world`))
	assert.Zero(t, text.Score)
}

func TestMalformed(t *testing.T) {
	a := New()
	p := payload.FromString(`{invalid json`)

	fc := a.DetectConfidence(p)
	assert.Less(t, fc.Score, 0.5)
	require.NotEmpty(t, fc.Evidence)
	assert.Contains(t, fc.Evidence[0], "malformed JSON syntax")

	_, err := a.Ingest(p)
	require.Error(t, err)
	var fe *adapters.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, Name, fe.Adapter)
	assert.Contains(t, err.Error(), "offset")

	v := a.Validate(p)
	assert.False(t, v.IsValid)
}

func TestIngestObject(t *testing.T) {
	data, err := New().Ingest(payload.FromString(`{
		"source": "meter-7",
		"emissions": {"total": 2.5, "unit": "kg"},
		"energy_kwh": 10,
		"details": {"region": "eu-west-1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2.5, data.Emissions.Total)
	assert.Equal(t, 10.0, data.Energy.Total)
	assert.Equal(t, "eu-west-1", data.Location.Region)
	assert.Equal(t, "meter-7", data.AdditionalProperties["source"])
}

func TestIngestArray(t *testing.T) {
	data, err := New().Ingest(payload.FromString(`[{"co2_kg":1},{"co2_kg":2},"skip"]`))
	require.NoError(t, err)
	assert.Equal(t, 3.0, data.Emissions.Total)
	assert.Equal(t, 2, data.AdditionalProperties["records"])
}

func TestIngestScalar(t *testing.T) {
	_, err := New().Ingest(payload.FromString(`"just a string"`))
	var fe *adapters.FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestValidate(t *testing.T) {
	a := New()
	assert.True(t, a.Validate(payload.FromString(`{"emissions":1}`)).IsValid)

	warn := a.Validate(payload.FromString(`{"name":"x"}`))
	assert.True(t, warn.IsValid)
	assert.NotEmpty(t, warn.Warnings)

	assert.False(t, a.Validate(payload.FromString(``)).IsValid)
	assert.False(t, a.Validate(payload.FromString(`true`)).IsValid)
}
