// Package aiimpact reads per-request AI inference impact estimates: the model,
// token counts and the estimated energy and CO2 of the call.
package aiimpact

import (
	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/tidwall/gjson"
)

const Name = "aiimpact"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 1.0,
	SupportedFormats:   []string{"json"},
	Shape:              adapters.ShapeObject,
	Keywords:           []string{"emissions", "co2", "energy"},
	TypicalKeys:        5,
}

// Keys holding each quantity, with the unit the key implies.
var (
	tokenKeys = []string{
		"tokens", "total_tokens", "input_tokens", "output_tokens",
		"prompt_tokens", "completion_tokens",
	}
	energyKeys = map[string]string{
		"energy_kwh": "kWh",
		"energy_wh":  "Wh",
		"energy":     "kWh",
	}
	co2Keys = map[string]string{
		"co2_g":       "g",
		"co2e_g":      "g",
		"co2e":        "g",
		"emissions_g": "g",
		"co2_kg":      "kg",
	}
)

// Lookup order for the maps above, so the first present key wins deterministically.
var (
	energyOrder = []string{"energy_kwh", "energy_wh", "energy"}
	co2Order    = []string{"co2_g", "co2e_g", "co2e", "emissions_g", "co2_kg"}
)

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "model",
			Weight:   0.25,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(record(p).Get("model").Type == gjson.String) },
			Evidence: "AI model identifier",
		},
		{
			Name:     "tokens",
			Weight:   0.25,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(hasTokens(record(p))) },
			Evidence: "token counts",
		},
		{
			Name:   "energy",
			Weight: 0.25,
			Test: func(p *payload.Payload) float64 {
				_, _, ok := first(record(p), energyOrder, energyKeys)
				return adapters.Bool(ok)
			},
			Evidence: "inference energy estimate",
		},
		{
			Name:   "co2",
			Weight: 0.25,
			Test: func(p *payload.Payload) float64 {
				_, _, ok := first(record(p), co2Order, co2Keys)
				return adapters.Bool(ok)
			},
			Evidence: "inference CO2 estimate",
		},
	}}
}

func record(p *payload.Payload) gjson.Result {
	root := p.JSON()
	switch {
	case root.IsObject():
		return root
	case root.IsArray():
		if r := root.Get("0"); r.IsObject() {
			return r
		}
	}
	return gjson.Result{}
}

func requests(p *payload.Payload) []gjson.Result {
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

// hasTokens accepts flat counters or a {"tokens": {"input": n, "output": n}} object.
func hasTokens(r gjson.Result) bool {
	for _, k := range tokenKeys {
		v := r.Get(k)
		if v.Type == gjson.Number || (v.IsObject() && (v.Get("input").Exists() || v.Get("output").Exists())) {
			return true
		}
	}
	return false
}

func first(r gjson.Result, order []string, units map[string]string) (float64, string, bool) {
	for _, k := range order {
		if v := r.Get(k); v.Type == gjson.Number {
			return v.Float(), units[k], true
		}
	}
	return 0, "", false
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	r := record(p)
	if r.Get("model").Type != gjson.String {
		return false
	}
	_, _, energy := first(r, energyOrder, energyKeys)
	_, _, co2 := first(r, co2Order, co2Keys)
	return energy || co2
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	rs := requests(p)
	if len(rs) == 0 {
		return adapters.Invalid("no inference records")
	}
	var errs, warns []string
	for _, r := range rs {
		if r.Get("model").Type != gjson.String {
			errs = append(errs, "record without model")
		}
		_, _, energy := first(r, energyOrder, energyKeys)
		_, _, co2 := first(r, co2Order, co2Keys)
		if !energy && !co2 {
			errs = append(errs, "record without energy or co2 estimate")
		}
		if !hasTokens(r) {
			warns = append(warns, "record without token counts")
		}
	}
	if len(errs) > 0 {
		return adapters.ValidationResult{Errors: errs, Warnings: warns}
	}
	return adapters.Valid(warns...)
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	if p.Kind() != payload.KindJSON {
		return nil, adapters.Errorf(Name, "payload is %s, not json", p.Kind())
	}
	rs := requests(p)
	if len(rs) == 0 {
		return nil, adapters.Errorf(Name, "no inference records")
	}

	f := adapters.NewFields()
	var inTokens, outTokens, totalTokens float64
	for _, r := range rs {
		if v, unit, ok := first(r, co2Order, co2Keys); ok {
			f.Measure("co2", v, unit)
		}
		if v, unit, ok := first(r, energyOrder, energyKeys); ok {
			f.Measure("energy", v, unit)
		}
		if v := r.Get("latency_ms"); v.Type == gjson.Number {
			f.Measure("latency", v.Float(), "ms")
		}
		for _, k := range []string{"model", "provider", "region", "country"} {
			f.String(k, r.Get(k).String())
		}

		in := r.Get("input_tokens").Float() + r.Get("prompt_tokens").Float() + r.Get("tokens.input").Float()
		out := r.Get("output_tokens").Float() + r.Get("completion_tokens").Float() + r.Get("tokens.output").Float()
		total := r.Get("total_tokens").Float()
		if t := r.Get("tokens"); t.Type == gjson.Number {
			total = t.Float()
		}
		if total == 0 {
			total = in + out
		}
		inTokens += in
		outTokens += out
		totalTokens += total
	}

	data := adapters.NewNormalizedData(descriptor)
	f.Fill(data)
	if data.Device != nil && data.Device.Type == "" {
		data.Device.Type = "ai-model"
	}
	if data.Emissions == nil && data.Energy == nil {
		return nil, adapters.Errorf(Name, "no energy or co2 estimate")
	}
	data.SetExtra("tokens", map[string]float64{"input": inTokens, "output": outTokens, "total": totalTokens})
	data.SetExtra("requests", len(rs))
	return data, nil
}
