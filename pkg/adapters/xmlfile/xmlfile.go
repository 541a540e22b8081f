// Package xmlfile reads emission reports encoded as XML. Leaf elements become
// fields named after the element; a unit attribute qualifies the value.
package xmlfile

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/units"
	"golang.org/x/text/encoding/ianaindex"
)

const Name = "xml"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.85,
	SupportedFormats:   []string{"xml"},
	Shape:              adapters.ShapeMarkup,
	Keywords:           []string{"emissions", "carbon", "energy"},
}

var emissionTerms = []string{"emission", "carbon", "co2", "energy", "ghg"}

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "markup",
			Weight:   0.4,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(p.Kind() == payload.KindXML) },
			Evidence: "XML markup",
		},
		{
			Name:     "well-formed",
			Weight:   0.3,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(wellFormedPrefix(p)) },
			Evidence: "well-formed XML",
		},
		{
			Name:   "emission elements",
			Weight: 0.3,
			Test: func(p *payload.Payload) float64 {
				s := p.Structure()
				for _, t := range emissionTerms {
					if s.HasName(t) {
						return 1
					}
				}
				return 0
			},
			Evidence: "emission-related element names",
		},
	}}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.IANA.Encoding(label)
		if err != nil {
			return nil, err
		}
		if enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", label)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return dec
}

// wellFormedPrefix strictly decodes the scan window. Running out of input
// inside the window is not a syntax error.
func wellFormedPrefix(p *payload.Payload) bool {
	if p.Kind() != payload.KindXML {
		return false
	}
	window := p.Trimmed()
	truncated := len(window) > payload.ScanLimit
	if truncated {
		window = window[:payload.ScanLimit]
	}
	dec := newDecoder(bytes.NewReader(window))
	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return sawElement
		}
		if err != nil {
			var se *xml.SyntaxError
			return truncated && sawElement && errors.As(err, &se) && se.Msg == "unexpected EOF"
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	return p.Kind() == payload.KindXML
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	if !p.StartsWith("<") {
		return adapters.FormatConfidence{AdapterName: Name, Evidence: []string{"no markup"}}
	}
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

type frame struct {
	name     string
	unit     string
	text     strings.Builder
	hasChild bool
}

type document struct {
	root     string
	elements int
	fields   *adapters.Fields
}

func parse(p *payload.Payload) (*document, error) {
	if p.Kind() != payload.KindXML {
		return nil, adapters.Errorf(Name, "payload is %s, not xml", p.Kind())
	}
	doc := &document{fields: adapters.NewFields()}
	dec := newDecoder(bytes.NewReader(p.Trimmed()))
	var stack []*frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, adapters.Wrap(Name, err, "parse")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			doc.elements++
			if len(stack) == 0 {
				if doc.root != "" {
					return nil, adapters.Errorf(Name, "multiple root elements")
				}
				doc.root = t.Name.Local
			} else {
				stack[len(stack)-1].hasChild = true
			}
			fr := &frame{name: t.Name.Local}
			for _, attr := range t.Attr {
				switch strings.ToLower(attr.Name.Local) {
				case "unit", "units", "uom":
					fr.unit = attr.Value
				default:
					if v, ok := adapters.ParseNumber(attr.Value); ok {
						doc.fields.Number(attr.Name.Local, v)
					} else if attr.Name.Space != "xmlns" && attr.Name.Local != "xmlns" {
						doc.fields.String(attr.Name.Local, attr.Value)
					}
				}
			}
			stack = append(stack, fr)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if fr.hasChild {
				continue
			}
			text := strings.TrimSpace(fr.text.String())
			if v, ok := adapters.ParseNumber(text); ok {
				doc.fields.Measure(fr.name, v, fr.unit)
			} else {
				doc.fields.String(fr.name, text)
			}
		}
	}
	if doc.root == "" {
		return nil, adapters.Errorf(Name, "no root element")
	}
	return doc, nil
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	doc, err := parse(p)
	if err != nil {
		return adapters.Invalid(err.Error())
	}
	if !doc.fields.HasQuantity(units.Emissions) && !doc.fields.HasQuantity(units.EnergyUse) {
		return adapters.Valid("no emission or energy elements")
	}
	return adapters.Valid()
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	doc, err := parse(p)
	if err != nil {
		return nil, err
	}
	data := adapters.NewNormalizedData(descriptor)
	doc.fields.Fill(data)
	data.SetExtra("root", doc.root)
	data.SetExtra("elements", doc.elements)
	return data, nil
}
