package xmlfile

import (
	"strings"
	"testing"

	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const report = `<?xml version="1.0" encoding="UTF-8"?>
<report xmlns="urn:example:emissions" facility="plant-3">
  <emissions unit="t">1.5</emissions>
  <energy unit="MWh">3.2</energy>
  <carbon_intensity>50</carbon_intensity>
  <site>
    <country>DE</country>
    <region>BY</region>
  </site>
</report>`

func TestDetectConfidence(t *testing.T) {
	a := New()
	fc := a.DetectConfidence(payload.FromString(report))
	assert.Equal(t, 0.85, fc.Score)
	assert.Contains(t, fc.Evidence, "well-formed XML")
	assert.Contains(t, fc.Evidence, "emission-related element names")

	broken := a.DetectConfidence(payload.FromString(`<a><b></a>`))
	assert.InDelta(t, 0.4, broken.Score, 1e-9)

	assert.Zero(t, a.DetectConfidence(payload.FromString(`{"emissions":1}`)).Score)
}

func TestWellFormedTruncatedWindow(t *testing.T) {
	body := "<log>" + strings.Repeat("<entry><co2>1</co2></entry>", payload.ScanLimit/20) + "</log>"
	assert.True(t, wellFormedPrefix(payload.FromString(body)))
}

func TestIngest(t *testing.T) {
	data, err := New().Ingest(payload.FromString(report))
	require.NoError(t, err)
	assert.InDelta(t, 1500, data.Emissions.Total, 1e-9)
	assert.Equal(t, "kg", data.Emissions.Unit)
	assert.InDelta(t, 3200, data.Energy.Total, 1e-9)
	assert.Equal(t, "DE", data.Location.Country)
	assert.Equal(t, "BY", data.Location.Region)
	assert.Equal(t, "report", data.AdditionalProperties["root"])
	assert.Equal(t, "plant-3", data.AdditionalProperties["facility"])
	assert.Equal(t, 50.0, data.AdditionalProperties["carbon_intensity"])
}

func TestIngestLatin1(t *testing.T) {
	in := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><r><site>M`), 0xfc)
	in = append(in, []byte(`nchen</site><co2>2</co2></r>`)...)
	data, err := New().Ingest(payload.FromBytes(in))
	require.NoError(t, err)
	assert.Equal(t, "München", data.AdditionalProperties["site"])
	assert.Equal(t, 2.0, data.Emissions.Total)
}

func TestIngestErrors(t *testing.T) {
	_, err := New().Ingest(payload.FromString(`<a><b></a>`))
	assert.Error(t, err)
	_, err = New().Ingest(payload.FromString(`plain`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	a := New()
	assert.True(t, a.Validate(payload.FromString(report)).IsValid)

	v := a.Validate(payload.FromString(`<note><to>Bob</to></note>`))
	assert.True(t, v.IsValid)
	assert.NotEmpty(t, v.Warnings)

	assert.False(t, a.Validate(payload.FromString(`<a><b></a>`)).IsValid)
}
