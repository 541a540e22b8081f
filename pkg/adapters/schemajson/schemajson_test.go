package schemajson

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canonicalDoc = `{
	"$schema": "https://schemas.qingest.dev/emission-record.json",
	"emissions": {"total": 1200, "unit": "g", "scope": "scope2"},
	"energy": {"total": 3500, "unit": "Wh", "breakdown": {"CPU": 2000, "gpu": 1500}},
	"power": {"average": 0.2, "peak": 0.5, "unit": "kW"},
	"duration": {"seconds": 3600},
	"location": {"country": "FR", "latitude": 48.85, "longitude": 2.35},
	"device": {"type": "server", "model": "r740"},
	"site": "paris-1"
}`

const meterSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$id": "https://example.com/meter.json",
	"type": "object",
	"required": ["meter_id", "reading_kwh"],
	"properties": {
		"meter_id": {"type": "string"},
		"reading_kwh": {"type": "number"}
	}
}`

func newAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a, err := New(opts...)
	require.NoError(t, err)
	return a
}

func TestDetectConfidenceCanonical(t *testing.T) {
	a := newAdapter(t)
	p := payload.FromString(canonicalDoc)
	assert.True(t, a.Detect(p))

	fc := a.DetectConfidence(p)
	assert.Equal(t, 0.95, fc.Score)
	assert.Contains(t, fc.Evidence, "declares $schema")
	assert.Contains(t, fc.Evidence, "validates against a known schema")
	assert.Contains(t, fc.Evidence, "matched schema "+CanonicalID)
}

func TestDetectConfidenceWithoutDeclaration(t *testing.T) {
	a := newAdapter(t)
	fc := a.DetectConfidence(payload.FromString(`{"emissions":{"total":1,"unit":"kg"}}`))
	assert.InDelta(t, 0.7, fc.Score, 1e-9)
	assert.NotContains(t, fc.Evidence, "declares $schema")
}

func TestDetectRejects(t *testing.T) {
	a := newAdapter(t)
	for _, in := range []string{
		`{"emissions": 0.5, "duration": 10}`,
		`{"emissions":{"total":-1,"unit":"kg"}}`,
		`{"emissions":{"total":1,"unit":"furlongs"}}`,
		`not json`,
		``,
	} {
		p := payload.FromString(in)
		assert.False(t, a.Detect(p), in)
		assert.Zero(t, a.DetectConfidence(p).Score, in)
	}
}

func TestIngestCanonical(t *testing.T) {
	data, err := newAdapter(t).Ingest(payload.FromString(canonicalDoc))
	require.NoError(t, err)

	assert.InDelta(t, 1.2, data.Emissions.Total, 1e-9)
	assert.Equal(t, "kg", data.Emissions.Unit)
	assert.Equal(t, "scope2", data.Emissions.Scope)

	assert.InDelta(t, 3.5, data.Energy.Total, 1e-9)
	assert.InDelta(t, 2.0, data.Energy.Breakdown["cpu"], 1e-9)
	assert.InDelta(t, 1.5, data.Energy.Breakdown["gpu"], 1e-9)

	assert.InDelta(t, 200.0, data.Power.Average, 1e-9)
	assert.InDelta(t, 500.0, data.Power.Peak, 1e-9)
	assert.Equal(t, "W", data.Power.Unit)

	assert.Equal(t, 3600.0, data.Duration.Seconds)
	assert.Equal(t, "FR", data.Location.Country)
	require.NotNil(t, data.Location.Latitude)
	assert.Equal(t, 48.85, *data.Location.Latitude)
	assert.Equal(t, "r740", data.Device.Model)

	assert.Equal(t, "paris-1", data.AdditionalProperties["site"])
	assert.NotContains(t, data.AdditionalProperties, "$schema")
	assert.Equal(t, Name, data.Metadata.Adapter)
}

func TestSchemaDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meter.json"), []byte(meterSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anon.json"), []byte(`{"type":"array"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	a := newAdapter(t, WithSchemaDir(dir))
	ids := a.Schemas()
	require.Len(t, ids, 3)
	assert.Equal(t, CanonicalID, ids[0])
	assert.Contains(t, ids[1], "anon.json")
	assert.Equal(t, "https://example.com/meter.json", ids[2])

	p := payload.FromString(`{"$schema":"https://example.com/meter.json","meter_id":"m-7","reading_kwh":12.5}`)
	fc := a.DetectConfidence(p)
	assert.Equal(t, 0.95, fc.Score)
	assert.Contains(t, fc.Evidence, "matched schema https://example.com/meter.json")

	data, err := a.Ingest(p)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/meter.json", data.AdditionalProperties["schema"])
	require.NotNil(t, data.Energy)
	assert.InDelta(t, 12.5, data.Energy.Total, 1e-9)
}

func TestWithSchema(t *testing.T) {
	a := newAdapter(t, WithSchema("https://example.com/meter.json", []byte(meterSchema)))
	assert.True(t, a.Detect(payload.FromString(`{"meter_id":"m","reading_kwh":1}`)))
}

func TestNewErrors(t *testing.T) {
	_, err := New(WithSchema("https://example.com/bad.json", []byte(`{"type": 12}`)))
	assert.Error(t, err)

	_, err = New(WithSchema("https://example.com/broken.json", []byte(`{`)))
	assert.Error(t, err)

	_, err = New(WithSchemaDir(filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	a := newAdapter(t)
	assert.True(t, a.Validate(payload.FromString(canonicalDoc)).IsValid)

	v := a.Validate(payload.FromString(`{"emissions":{"total":1,"unit":"kg"},"location":{"latitude":123}}`))
	assert.False(t, v.IsValid)
	require.NotEmpty(t, v.Errors)
	assert.Contains(t, v.Errors[0], "/location/latitude")

	v = a.Validate(payload.FromString(`[1,2]`))
	assert.False(t, v.IsValid)
}

func TestIngestError(t *testing.T) {
	_, err := newAdapter(t).Ingest(payload.FromString(`{"energy":{"total":1,"unit":"kWh"}}`))
	var fe *adapters.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, Name, fe.Adapter)
}
