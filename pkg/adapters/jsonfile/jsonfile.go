// Package jsonfile is the generic JSON adapter: it accepts any well-formed
// object or array and maps whatever emission-like fields it finds.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/tidwall/gjson"
)

const Name = "json"

// malformedScore is reported for payloads that open like JSON but do not parse.
const malformedScore = 0.3

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.7,
	SupportedFormats:   []string{"json"},
	Shape:              adapters.ShapeAny,
	Keywords:           []string{"emissions", "energy"},
}

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "valid",
			Weight:   0.5,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(p.Kind() == payload.KindJSON) },
			Evidence: "valid JSON syntax",
		},
		{
			Name:   "container",
			Weight: 0.3,
			Test: func(p *payload.Payload) float64 {
				s := p.Structure()
				return adapters.Bool(s.Object || s.Array)
			},
			Evidence: "top-level object or array",
		},
		{
			Name:     "emission fields",
			Weight:   0.2,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(emissionFields(p)) },
			Evidence: "emission-related field names",
		},
	}}
}

func emissionFields(p *payload.Payload) bool {
	if p.Kind() != payload.KindJSON {
		return false
	}
	s := p.Structure()
	for _, term := range ensemble.Vocabulary {
		if s.HasName(term) {
			return true
		}
	}
	return false
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	if p.Kind() != payload.KindJSON {
		return false
	}
	s := p.Structure()
	return s.Object || s.Array
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	if p.Kind() != payload.KindJSON && p.StartsWith("{", "[") {
		return adapters.FormatConfidence{
			AdapterName: Name,
			Score:       malformedScore,
			Evidence:    []string{"malformed JSON syntax: " + syntaxError(p).Error()},
		}
	}
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	switch p.Kind() {
	case payload.KindJSON:
	case payload.KindEmpty:
		return adapters.Invalid("empty payload")
	default:
		return adapters.Invalid(syntaxError(p).Error())
	}
	root := p.JSON()
	if !root.IsObject() && !root.IsArray() {
		return adapters.Invalid("top level is neither an object nor an array")
	}
	if !emissionFields(p) {
		return adapters.Valid("no emission or energy fields found")
	}
	return adapters.Valid()
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	if p.Kind() != payload.KindJSON {
		return nil, adapters.Wrap(Name, syntaxError(p), "parse")
	}
	root := p.JSON()
	f := adapters.NewFields()
	data := adapters.NewNormalizedData(descriptor)

	switch {
	case root.IsObject():
		f.AddJSON(root, 2)
	case root.IsArray():
		n := 0
		root.ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				f.AddJSON(item, 1)
				n++
			}
			return true
		})
		data.SetExtra("records", n)
	default:
		return nil, adapters.Errorf(Name, "top level is %s, not an object or array", root.Type)
	}

	f.Fill(data)
	return data, nil
}

// syntaxError describes why p is not JSON, with the byte offset when the
// decoder reports one.
func syntaxError(p *payload.Payload) error {
	if p.Kind() == payload.KindEmpty {
		return errors.New("empty payload")
	}
	var v any
	err := json.Unmarshal(p.Trimmed(), &v)
	var se *json.SyntaxError
	switch {
	case err == nil:
		return fmt.Errorf("payload is %s", p.Kind())
	case errors.As(err, &se):
		return fmt.Errorf("%s at offset %d", se.Error(), se.Offset)
	}
	return err
}
