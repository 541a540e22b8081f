package codecarbon

import (
	"testing"

	"github.com/qarbon/qingest/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `{"duration_seconds":3600,"emissions_kg":0.5,"project_name":"x","country_name":"USA"}`

const full = `{
	"timestamp": "2024-03-01T10:00:00",
	"project_name": "bert-finetune",
	"run_id": "5b0fa12a-3dd7-45bb-9766-cc326314d9f1",
	"duration": 1800.5,
	"emissions": 0.0123,
	"emissions_rate": 6.8e-06,
	"cpu_power": 42.5,
	"gpu_power": 250,
	"ram_power": 6,
	"cpu_energy": 0.021,
	"gpu_energy": 0.125,
	"ram_energy": 0.003,
	"energy_consumed": 0.149,
	"country_name": "Canada",
	"country_iso_code": "CAN",
	"region": "quebec",
	"cpu_model": "Intel(R) Xeon(R) CPU @ 2.20GHz",
	"gpu_model": "1 x NVIDIA A100"
}`

func TestDetect(t *testing.T) {
	a := New()
	assert.True(t, a.Detect(payload.FromString(minimal)))
	assert.True(t, a.Detect(payload.FromString(full)))
	assert.True(t, a.Detect(payload.FromString(`[`+full+`]`)))
	assert.False(t, a.Detect(payload.FromString(`{"emissions":1}`)))
	assert.False(t, a.Detect(payload.FromString(`{"duration":1,"project_name":"x"}`)))
	assert.False(t, a.Detect(payload.FromString("emissions,duration\n1,2")))
}

func TestDetectConfidence(t *testing.T) {
	a := New()
	fc := a.DetectConfidence(payload.FromString(minimal))
	assert.Equal(t, 1.0, fc.Score)
	assert.Equal(t, []string{
		"CodeCarbon duration field",
		"CodeCarbon emissions field",
		"CodeCarbon project/run identifiers",
		"CodeCarbon location or energy fields",
	}, fc.Evidence)

	partial := a.DetectConfidence(payload.FromString(`{"emissions":1,"duration":2}`))
	assert.InDelta(t, 0.6, partial.Score, 1e-9)

	assert.Zero(t, a.DetectConfidence(payload.FromString(`{"text":"hello"}`)).Score)
}

func TestIngest(t *testing.T) {
	data, err := New().Ingest(payload.FromString(full))
	require.NoError(t, err)
	assert.Equal(t, 0.0123, data.Emissions.Total)
	assert.Equal(t, "kg", data.Emissions.Unit)
	assert.Equal(t, 0.149, data.Energy.Total)
	assert.Equal(t, map[string]float64{"cpu": 0.021, "gpu": 0.125, "ram": 0.003}, data.Energy.Breakdown)
	assert.InDelta(t, 298.5, data.Power.Average, 1e-9)
	assert.Equal(t, 1800.5, data.Duration.Seconds)
	assert.Equal(t, "Canada", data.Location.Country)
	assert.Equal(t, "quebec", data.Location.Region)
	assert.Equal(t, "Intel(R) Xeon(R) CPU @ 2.20GHz", data.Device.Model)
	assert.Equal(t, "bert-finetune", data.AdditionalProperties["project_name"])
	assert.Equal(t, "1 x NVIDIA A100", data.AdditionalProperties["gpu_model"])
	assert.Equal(t, "CAN", data.AdditionalProperties["country_iso_code"])
}

func TestIngestRuns(t *testing.T) {
	in := `[{"emissions":0.5,"duration":10,"run_id":"a"},{"emissions":1.5,"duration":20,"run_id":"b"}]`
	data, err := New().Ingest(payload.FromString(in))
	require.NoError(t, err)
	assert.Equal(t, 2.0, data.Emissions.Total)
	assert.Equal(t, 30.0, data.Duration.Seconds)
	assert.Equal(t, 2, data.AdditionalProperties["runs"])
	assert.Equal(t, "a", data.AdditionalProperties["run_id"])
}

func TestIngestErrors(t *testing.T) {
	_, err := New().Ingest(payload.FromString(`{"duration":1}`))
	assert.Error(t, err)
	_, err = New().Ingest(payload.FromString(`{bad`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	a := New()
	assert.True(t, a.Validate(payload.FromString(minimal)).IsValid)

	v := a.Validate(payload.FromString(`{"emissions":1,"run_id":"x"}`))
	assert.True(t, v.IsValid)
	assert.Equal(t, []string{"missing duration"}, v.Warnings)

	v = a.Validate(payload.FromString(`[{"emissions":-1,"duration":1},{"duration":1}]`))
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"run 0: negative emissions", "run 1: missing numeric emissions"}, v.Errors)
}
