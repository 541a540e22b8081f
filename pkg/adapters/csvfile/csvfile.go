// Package csvfile reads delimited text exports with a header row.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/tabular"
)

const Name = "csv"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.9,
	SupportedFormats:   []string{"csv", "tsv"},
	Shape:              adapters.ShapeRecords,
	Keywords:           []string{"emissions"},
}

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "delimiter",
			Weight:   0.4,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(p.Structure().Records) },
			Evidence: "consistent field delimiter across lines",
		},
		{
			Name:     "header",
			Weight:   0.3,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(tabular.HeaderLike(header(p))) },
			Evidence: "header row of column names",
		},
		{
			Name:   "emission columns",
			Weight: 0.3,
			Test: func(p *payload.Payload) float64 {
				return adapters.Bool(len(tabular.EmissionColumns(header(p))) > 0)
			},
			Evidence: "emission columns detected in header",
		},
	}}
}

// structured payloads share CSV's line shape often enough to need excluding
func structured(p *payload.Payload) bool {
	return p.StartsWith("{", "[", "<")
}

func header(p *payload.Payload) []string {
	s := p.Structure()
	if !s.Records {
		return nil
	}
	lines := p.Lines(1)
	if len(lines) == 0 {
		return nil
	}
	r := csv.NewReader(bytes.NewBufferString(lines[0]))
	r.Comma = s.Delimiter
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil
	}
	return fields
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	return p.Kind() == payload.KindText && !structured(p) && p.Structure().Records
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	if p.Kind() != payload.KindText || structured(p) {
		return adapters.FormatConfidence{AdapterName: Name, Evidence: []string{"not delimited text"}}
	}
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) parse(p *payload.Payload) (tabular.Table, error) {
	if p.Kind() != payload.KindText || structured(p) {
		return tabular.Table{}, adapters.Errorf(Name, "payload is %s, not delimited text", p.Kind())
	}
	s := p.Structure()
	if !s.Records {
		return tabular.Table{}, adapters.Errorf(Name, "no consistent delimiter")
	}
	r := csv.NewReader(bytes.NewReader(p.Trimmed()))
	r.Comma = s.Delimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return tabular.Table{}, adapters.Wrap(Name, err, "parse")
	}
	t, ok := tabular.New(rows)
	if !ok {
		return tabular.Table{}, adapters.Errorf(Name, "no rows")
	}
	return t, nil
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	t, err := a.parse(p)
	if err != nil {
		return adapters.Invalid(err.Error())
	}
	var errs, warns []string
	if !tabular.HeaderLike(t.Header) {
		errs = append(errs, "first row is not a header")
	}
	if len(t.Rows) == 0 {
		errs = append(errs, "no data rows")
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Header) {
			warns = append(warns, fmt.Sprintf("row %d has %d fields, header has %d", i+2, len(r), len(t.Header)))
		}
	}
	if len(tabular.EmissionColumns(t.Header)) == 0 && len(tabular.EnergyColumns(t.Header)) == 0 {
		warns = append(warns, "no emission or energy columns")
	}
	if len(errs) > 0 {
		return adapters.ValidationResult{Errors: errs, Warnings: warns}
	}
	return adapters.Valid(warns...)
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	t, err := a.parse(p)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, adapters.Errorf(Name, "no data rows")
	}
	data := t.Normalize(descriptor)
	data.SetExtra("delimiter", string(p.Structure().Delimiter))
	return data, nil
}
