package csvfile

import (
	"testing"

	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "timestamp,model,emissions_kg,duration_seconds\n2023-01-01,gpt-4,0.001,3600"

func TestDetect(t *testing.T) {
	a := New()
	assert.True(t, a.Detect(payload.FromString(sample)))
	assert.True(t, a.Detect(payload.FromString("a\tb\n1\t2\n3\t4")))
	assert.False(t, a.Detect(payload.FromString(`{"a":1,"b":2}`)))
	assert.False(t, a.Detect(payload.FromString("<a>1,2</a>\n<b>3,4</b>")))
	assert.False(t, a.Detect(payload.FromString("just one line, with a comma")))
}

func TestDetectConfidence(t *testing.T) {
	a := New()
	fc := a.DetectConfidence(payload.FromString(sample))
	assert.Equal(t, 0.9, fc.Score)
	assert.Equal(t, []string{
		"consistent field delimiter across lines",
		"header row of column names",
		"emission columns detected in header",
	}, fc.Evidence)

	noEmissions := a.DetectConfidence(payload.FromString("name,age\nbob,3"))
	assert.InDelta(t, 0.7, noEmissions.Score, 1e-9)

	headerless := a.DetectConfidence(payload.FromString("1,2\n3,4"))
	assert.InDelta(t, 0.4, headerless.Score, 1e-9)

	assert.Zero(t, a.DetectConfidence(payload.FromString(`{"emissions":1}`)).Score)
}

func TestIngest(t *testing.T) {
	in := "timestamp;model;emissions_g;energy_kwh\n" +
		"2023-01-01;gpt-4;500;1.25\n" +
		"2023-01-02;gpt-4;\"1500\";0.75\n"
	data, err := New().Ingest(payload.FromString(in))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, data.Emissions.Total, 1e-9)
	assert.Equal(t, "kg", data.Emissions.Unit)
	assert.InDelta(t, 2.0, data.Energy.Total, 1e-9)
	assert.Equal(t, "gpt-4", data.Device.Model)
	assert.Equal(t, 2, data.AdditionalProperties["rows"])
	assert.Equal(t, ";", data.AdditionalProperties["delimiter"])
}

func TestIngestRejectsNonText(t *testing.T) {
	_, err := New().Ingest(payload.FromString(`{"a":1}`))
	assert.Error(t, err)
	_, err = New().Ingest(payload.FromString("single line"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	a := New()
	assert.True(t, a.Validate(payload.FromString(sample)).IsValid)

	v := a.Validate(payload.FromString("name,age\nbob,3"))
	assert.True(t, v.IsValid)
	assert.Contains(t, v.Warnings, "no emission or energy columns")

	v = a.Validate(payload.FromString("1,2\n3,4"))
	assert.False(t, v.IsValid)
	assert.Contains(t, v.Errors, "first row is not a header")
}
