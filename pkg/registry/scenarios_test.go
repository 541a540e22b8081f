package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/adapters/builtin"
	"github.com/qarbon/qingest/pkg/adapters/jsonfile"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newBuiltin(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := builtin.NewRegistry(registry.DefaultOptions(), builtin.Config{})
	require.NoError(t, err)
	return r
}

func scoreOf(t *testing.T, res *registry.DetectionResult, name string) adapters.FormatConfidence {
	t.Helper()
	for _, c := range res.ConfidenceScores {
		if c.AdapterName == name {
			return c
		}
	}
	t.Fatalf("no score for %s in %+v", name, res.ConfidenceScores)
	return adapters.FormatConfidence{}
}

func TestCodeCarbonRun(t *testing.T) {
	r := newBuiltin(t)
	res := r.DetectFormat(context.Background(), payload.FromString(
		`{"duration_seconds":3600,"emissions_kg":0.5,"project_name":"x","country_name":"USA"}`))

	assert.Equal(t, "codecarbon", res.BestMatch)
	top, ok := res.Top()
	require.True(t, ok)
	assert.Equal(t, "codecarbon", top.AdapterName)
	assert.GreaterOrEqual(t, top.Score, 0.8)
	assert.Contains(t, top.Evidence, "CodeCarbon emissions field")
}

func TestCSVExport(t *testing.T) {
	r := newBuiltin(t)
	p := payload.FromString("timestamp,model,emissions_kg,duration_seconds\n2023-01-01,gpt-4,0.001,3600")
	res := r.DetectFormat(context.Background(), p)

	assert.Equal(t, "csv", res.BestMatch)
	top, _ := res.Top()
	assert.GreaterOrEqual(t, top.Score, 0.8)
	assert.Contains(t, top.Evidence, "emission columns detected in header")

	data, err := r.Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "csv", data.Metadata.Adapter)
	assert.Equal(t, top.Score, data.Metadata.Confidence)
	require.NotNil(t, data.Emissions)
	assert.InDelta(t, 0.001, data.Emissions.Total, 1e-12)
}

func TestUnrelatedWebhook(t *testing.T) {
	r := newBuiltin(t)
	slack := `{"token":"XXYYZZ","team_id":"T1","api_app_id":"A1","event":{"type":"message","channel":"C1","user":"U1","text":"hello","ts":"1"},"type":"event_callback","event_id":"Ev1","event_time":1234}`
	res := r.DetectFormat(context.Background(), payload.FromString(slack))

	for _, name := range []string{"codecarbon", "aiimpact"} {
		assert.LessOrEqual(t, scoreOf(t, res, name).Score, 0.4, name)
	}
	for _, name := range []string{"fit", "csv", "xml"} {
		assert.LessOrEqual(t, scoreOf(t, res, name).Score, 0.2, name)
	}
	assert.NotEqual(t, "codecarbon", res.BestMatch)
	assert.NotEqual(t, "aiimpact", res.BestMatch)
}

func TestEmptyRegistry(t *testing.T) {
	r := registry.NewDefault()
	for _, in := range []string{`{"emissions":1}`, "a,b\n1,2", "", "<x/>"} {
		res := r.DetectFormat(context.Background(), payload.FromString(in))
		assert.Empty(t, res.BestMatch)
		assert.Empty(t, res.ConfidenceScores)
	}
}

func TestMalformedJSON(t *testing.T) {
	p := payload.FromString(`{invalid json`)

	fc := jsonfile.New().DetectConfidence(p)
	assert.Less(t, fc.Score, 0.5)

	_, err := jsonfile.New().Ingest(p)
	var fe *adapters.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "json", fe.Adapter)

	r := newBuiltin(t)
	res := r.DetectFormat(context.Background(), p)
	assert.Empty(t, res.BestMatch)
	assert.Less(t, scoreOf(t, res, "json").Score, 0.5)

	_, err = r.Ingest(context.Background(), p)
	assert.ErrorIs(t, err, registry.ErrUnknownFormat)
}

func TestFullCodeCarbonExitsEarly(t *testing.T) {
	r := newBuiltin(t)
	full := `{"timestamp":"2024-03-01T10:00:00","project_name":"bert","run_id":"r1","duration":1800,
		"emissions":0.0123,"cpu_energy":0.021,"gpu_energy":0.125,"ram_energy":0.003,
		"energy_consumed":0.149,"country_name":"Canada","region":"quebec"}`
	res := r.DetectFormat(context.Background(), payload.FromString(full))
	assert.Equal(t, "codecarbon", res.BestMatch)
	assert.True(t, res.Performance.EarlyExitTriggered)
	assert.Len(t, res.ConfidenceScores, 1)
}

func TestCanonicalSchemaDocument(t *testing.T) {
	r := newBuiltin(t)
	doc := `{"$schema":"https://schemas.qingest.dev/emission-record.json",
		"emissions":{"total":250,"unit":"g"},"energy":{"total":1.5,"unit":"kWh"},"duration":{"seconds":60}}`
	data, err := r.Ingest(context.Background(), payload.FromString(doc))
	require.NoError(t, err)
	assert.Equal(t, "schema", data.Metadata.Adapter)
	assert.InDelta(t, 0.25, data.Emissions.Total, 1e-12)
}

func TestWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{{"date", "emissions_kg", "energy_kwh"}, {"2024-01-01", 1.5, 4}, {"2024-01-02", 2.5, 6}}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	r := newBuiltin(t)
	data, err := r.Ingest(context.Background(), payload.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "xlsx", data.Metadata.Adapter)
	assert.Equal(t, 4.0, data.Emissions.Total)
	assert.Equal(t, 10.0, data.Energy.Total)
}

func TestRepeatDetectionHitsCache(t *testing.T) {
	r := newBuiltin(t)
	p := payload.FromString("timestamp,model,emissions_kg,duration_seconds\n2023-01-01,gpt-4,0.001,3600")
	first := r.DetectFormat(context.Background(), p)
	second := r.DetectFormat(context.Background(), payload.FromBytes(p.Bytes()))
	assert.False(t, first.Performance.CacheHit)
	assert.True(t, second.Performance.CacheHit)
	assert.Equal(t, first.ConfidenceScores, second.ConfidenceScores)
}
