// Package schemajson accepts JSON documents that validate against a known
// JSON Schema: the built-in emission record schema plus any schemas loaded
// from a directory.
package schemajson

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/units"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const Name = "schema"

// CanonicalID is the $id of the built-in emission record schema.
const CanonicalID = "https://schemas.qingest.dev/emission-record.json"

//go:embed schemas/emission-record.schema.json
var canonicalSchema []byte

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.95,
	SupportedFormats:   []string{"json"},
	Shape:              adapters.ShapeObject,
	Keywords:           []string{"emissions", "energy"},
	TypicalKeys:        3,
}

type entry struct {
	id        string
	schema    *jsonschema.Schema
	canonical bool
}

type source struct {
	id  string
	doc []byte
}

type config struct {
	dir     string
	sources []source
}

type Option func(*config)

// WithSchemaDir loads every *.json file in dir. A schema without $id is
// addressed by its file URL.
func WithSchemaDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithSchema adds one schema document under id.
func WithSchema(id string, doc []byte) Option {
	return func(c *config) { c.sources = append(c.sources, source{id: id, doc: doc}) }
}

type Adapter struct {
	entries []entry
}

func New(opts ...Option) (*Adapter, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	sources := []source{{id: CanonicalID, doc: canonicalSchema}}
	if cfg.dir != "" {
		fromDir, err := readDir(cfg.dir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fromDir...)
	}
	sources = append(sources, cfg.sources...)

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, s := range sources {
		if err := c.AddResource(s.id, bytes.NewReader(s.doc)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", s.id, err)
		}
	}

	a := &Adapter{}
	for _, s := range sources {
		compiled, err := c.Compile(s.id)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", s.id, err)
		}
		a.entries = append(a.entries, entry{id: s.id, schema: compiled, canonical: s.id == CanonicalID})
	}
	return a, nil
}

func readDir(dir string) ([]source, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: %s is not a directory", abs)
	}
	files, err := filepath.Glob(filepath.Join(abs, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []source
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading schema: %w", err)
		}
		id := gjson.GetBytes(b, "$id").String()
		if id == "" {
			id = "file://" + filepath.ToSlash(f)
		}
		if id == CanonicalID {
			continue
		}
		out = append(out, source{id: id, doc: b})
	}
	return out, nil
}

// Schemas lists the loaded schema ids in match order.
func (a *Adapter) Schemas() []string {
	ids := make([]string, len(a.entries))
	for i, e := range a.entries {
		ids[i] = e.id
	}
	return ids
}

func instance(p *payload.Payload) (any, bool) {
	if p.Kind() != payload.KindJSON {
		return nil, false
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(p.Trimmed()))
	return v, err == nil
}

// ordered puts the schema named by the document's $schema first.
func (a *Adapter) ordered(p *payload.Payload) []entry {
	declared := p.Get("$schema").String()
	out := make([]entry, 0, len(a.entries))
	for _, e := range a.entries {
		if e.id == declared {
			out = append(out, e)
		}
	}
	for _, e := range a.entries {
		if e.id != declared {
			out = append(out, e)
		}
	}
	return out
}

// match returns the first schema the payload validates against, or nil
// together with the validation error of the preferred schema.
func (a *Adapter) match(p *payload.Payload) (*entry, error) {
	v, ok := instance(p)
	if !ok {
		return nil, errors.New("payload is not JSON")
	}
	var first error
	for _, e := range a.ordered(p) {
		err := e.schema.Validate(v)
		if err == nil {
			e := e
			return &e, nil
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		first = errors.New("no schemas loaded")
	}
	return nil, first
}

func declaresSchema(p *payload.Payload) bool {
	return p.Get("$schema").Type == gjson.String
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	m, _ := a.match(p)
	return m != nil
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	m, _ := a.match(p)
	hs := []adapters.Heuristic{
		{
			Name:     "declared",
			Weight:   0.3,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(declaresSchema(p)) },
			Evidence: "declares $schema",
		},
		{
			Name:     "valid",
			Weight:   0.7,
			Test:     func(*payload.Payload) float64 { return adapters.Bool(m != nil) },
			Evidence: "validates against a known schema",
		},
	}
	var notes []string
	if m != nil {
		notes = append(notes, "matched schema "+m.id)
	}
	return adapters.Evaluate(descriptor, hs, p, notes...)
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	m, err := a.match(p)
	if m != nil {
		return adapters.Valid()
	}
	return adapters.Invalid(flatten(err)...)
}

// flatten lists the leaf causes of a validation error as "location: message".
func flatten(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	m, err := a.match(p)
	if m == nil {
		return nil, adapters.Wrap(Name, err, "no matching schema")
	}
	data := adapters.NewNormalizedData(descriptor)
	if !m.canonical {
		f := adapters.NewFields()
		f.AddJSON(p.JSON(), 2)
		f.Fill(data)
		data.SetExtra("schema", m.id)
		return data, nil
	}

	var rec record
	if err := p.Decode(&rec); err != nil {
		return nil, adapters.Wrap(Name, err, "decode")
	}
	rec.fill(data)
	p.JSON().ForEach(func(k, v gjson.Result) bool {
		if !knownSections[k.String()] {
			data.SetExtra(k.String(), v.Value())
		}
		return true
	})
	return data, nil
}

var knownSections = map[string]bool{
	"$schema": true, "emissions": true, "energy": true, "power": true,
	"duration": true, "location": true, "device": true,
}

// record mirrors the built-in schema. Values are converted to canonical units
// on the way into NormalizedData.
type record struct {
	Emissions *struct {
		Total float64 `json:"total"`
		Unit  string  `json:"unit"`
		Scope string  `json:"scope"`
	} `json:"emissions"`
	Energy *struct {
		Total     float64            `json:"total"`
		Unit      string             `json:"unit"`
		Breakdown map[string]float64 `json:"breakdown"`
	} `json:"energy"`
	Power *struct {
		Average float64 `json:"average"`
		Peak    float64 `json:"peak"`
		Unit    string  `json:"unit"`
	} `json:"power"`
	Duration *adapters.Duration `json:"duration"`
	Location *adapters.Location `json:"location"`
	Device   *adapters.Device   `json:"device"`
}

func canonical(v float64, unit string) float64 {
	c, _, _ := units.Convert(v, unit)
	return c
}

func (r record) fill(data *adapters.NormalizedData) {
	if e := r.Emissions; e != nil {
		data.Emissions = &adapters.Emissions{Total: canonical(e.Total, e.Unit), Unit: units.Kilogram, Scope: e.Scope}
	}
	if e := r.Energy; e != nil {
		out := &adapters.Energy{Total: canonical(e.Total, e.Unit), Unit: units.KilowattHour}
		if len(e.Breakdown) > 0 {
			out.Breakdown = make(map[string]float64, len(e.Breakdown))
			for k, v := range e.Breakdown {
				out.Breakdown[strings.ToLower(k)] = canonical(v, e.Unit)
			}
		}
		data.Energy = out
	}
	if pw := r.Power; pw != nil {
		data.Power = &adapters.Power{Average: canonical(pw.Average, pw.Unit), Peak: canonical(pw.Peak, pw.Unit), Unit: units.Watt}
	}
	data.Duration = r.Duration
	data.Location = r.Location
	data.Device = r.Device
}
