// Package codecarbon reads the JSON records written by the CodeCarbon
// emissions tracker, either a single run or a list of runs.
package codecarbon

import (
	"fmt"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/tidwall/gjson"
)

const Name = "codecarbon"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 1.0,
	SupportedFormats:   []string{"json"},
	Shape:              adapters.ShapeObject,
	Keywords:           []string{"emissions", "energy"},
	TypicalKeys:        5,
}

var (
	identityKeys = []string{"project_name", "run_id", "experiment_id"}
	contextKeys  = []string{"country_name", "country_iso_code", "region", "energy_consumed", "cloud_provider"}
)

// Run fields copied verbatim into AdditionalProperties.
var passthrough = []string{
	"timestamp", "project_name", "run_id", "experiment_id", "emissions_rate",
	"tracking_mode", "codecarbon_version", "pue", "on_cloud", "cloud_provider",
	"python_version", "os", "cpu_count", "gpu_count", "gpu_model",
}

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "duration",
			Weight:   0.25,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(hasPrefixed(record(p), "duration", true)) },
			Evidence: "CodeCarbon duration field",
		},
		{
			Name:     "emissions",
			Weight:   0.35,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(emissionsField(record(p)) != "") },
			Evidence: "CodeCarbon emissions field",
		},
		{
			Name:     "identity",
			Weight:   0.2,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(hasAny(record(p), identityKeys)) },
			Evidence: "CodeCarbon project/run identifiers",
		},
		{
			Name:     "context",
			Weight:   0.2,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(hasAny(record(p), contextKeys)) },
			Evidence: "CodeCarbon location or energy fields",
		},
	}}
}

// record returns the run to score: the root object, or the first element of
// a list of runs.
func record(p *payload.Payload) gjson.Result {
	root := p.JSON()
	switch {
	case root.IsObject():
		return root
	case root.IsArray():
		if first := root.Get("0"); first.IsObject() {
			return first
		}
	}
	return gjson.Result{}
}

func runs(p *payload.Payload) []gjson.Result {
	root := p.JSON()
	if root.IsObject() {
		return []gjson.Result{root}
	}
	var out []gjson.Result
	root.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			out = append(out, v)
		}
		return true
	})
	return out
}

func hasPrefixed(obj gjson.Result, prefix string, numeric bool) bool {
	found := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if strings.HasPrefix(strings.ToLower(k.String()), prefix) && (!numeric || v.Type == gjson.Number) {
			found = true
			return false
		}
		return true
	})
	return found
}

// emissionsField returns the numeric emissions key of a run.
func emissionsField(obj gjson.Result) string {
	for _, k := range []string{"emissions", "emissions_kg"} {
		if obj.Get(k).Type == gjson.Number {
			return k
		}
	}
	return ""
}

func durationField(obj gjson.Result) string {
	for _, k := range []string{"duration", "duration_seconds"} {
		if obj.Get(k).Type == gjson.Number {
			return k
		}
	}
	return ""
}

func hasAny(obj gjson.Result, keys []string) bool {
	for _, k := range keys {
		if obj.Get(k).Exists() {
			return true
		}
	}
	return false
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	r := record(p)
	return emissionsField(r) != "" && (durationField(r) != "" || hasAny(r, identityKeys))
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	rs := runs(p)
	if len(rs) == 0 {
		return adapters.Invalid("no CodeCarbon run objects")
	}
	var errs, warns []string
	for i, r := range rs {
		k := emissionsField(r)
		switch {
		case k == "":
			errs = append(errs, runLabel(i, len(rs))+"missing numeric emissions")
		case r.Get(k).Float() < 0:
			errs = append(errs, runLabel(i, len(rs))+"negative emissions")
		}
		if durationField(r) == "" {
			warns = append(warns, runLabel(i, len(rs))+"missing duration")
		}
	}
	if len(errs) > 0 {
		return adapters.ValidationResult{Errors: errs, Warnings: warns}
	}
	return adapters.Valid(warns...)
}

func runLabel(i, n int) string {
	if n == 1 {
		return ""
	}
	return fmt.Sprintf("run %d: ", i)
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	if p.Kind() != payload.KindJSON {
		return nil, adapters.Errorf(Name, "payload is %s, not json", p.Kind())
	}
	rs := runs(p)
	if len(rs) == 0 {
		return nil, adapters.Errorf(Name, "no CodeCarbon run objects")
	}

	f := adapters.NewFields()
	var model string
	for _, r := range rs {
		k := emissionsField(r)
		if k == "" {
			return nil, adapters.Errorf(Name, "run without numeric emissions")
		}
		f.Measure("emissions", r.Get(k).Float(), "kg")
		if d := durationField(r); d != "" {
			f.Measure("duration", r.Get(d).Float(), "s")
		}
		if v := r.Get("energy_consumed"); v.Type == gjson.Number {
			f.Measure("energy_consumed", v.Float(), "kWh")
		}
		for _, c := range []string{"cpu", "gpu", "ram"} {
			if v := r.Get(c + "_energy"); v.Type == gjson.Number {
				f.Measure(c+"_energy", v.Float(), "kWh")
			}
			if v := r.Get(c + "_power"); v.Type == gjson.Number {
				f.Measure(c+"_power", v.Float(), "W")
			}
		}
		for _, k := range []string{"country_name", "country_iso_code", "region", "latitude", "longitude"} {
			switch v := r.Get(k); v.Type {
			case gjson.String:
				f.String(k, v.String())
			case gjson.Number:
				f.Number(k, v.Float())
			}
		}
		for _, k := range passthrough {
			if v := r.Get(k); v.Exists() {
				f.Extra(k, v.Value())
			}
		}
		if model == "" {
			model = r.Get("cpu_model").String()
		}
	}

	data := adapters.NewNormalizedData(descriptor)
	f.Fill(data)
	if model != "" {
		data.Device = &adapters.Device{Type: "compute", Model: model}
	}
	if len(rs) > 1 {
		data.SetExtra("runs", len(rs))
	}
	return data, nil
}
