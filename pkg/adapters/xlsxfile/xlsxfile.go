// Package xlsxfile reads emission tables from Excel workbooks. The first sheet
// with a header and data rows is used.
package xlsxfile

import (
	"bytes"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/tabular"
	"github.com/xuri/excelize/v2"
)

const Name = "xlsx"

const (
	sniffWindow = 64 * 1024
	// maxUnzipSize bounds the decompressed workbook.
	maxUnzipSize = 256 << 20
)

var (
	zipMagic     = []byte("PK\x03\x04")
	workbookPart = []byte("xl/workbook.xml")
)

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.9,
	SupportedFormats:   []string{"xlsx"},
	Shape:              adapters.ShapeBinary,
}

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:     "zip",
			Weight:   0.4,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(isZip(p)) },
			Evidence: "zip container signature",
		},
		{
			Name:     "workbook part",
			Weight:   0.4,
			Test:     func(p *payload.Payload) float64 { return adapters.Bool(hasWorkbookPart(p)) },
			Evidence: "xl/workbook.xml part present",
		},
		{
			Name:   "opens",
			Weight: 0.2,
			Test: func(p *payload.Payload) float64 {
				if !isZip(p) || !hasWorkbookPart(p) {
					return 0
				}
				f, err := open(p)
				if err != nil {
					return 0
				}
				defer f.Close()
				return adapters.Bool(len(f.GetSheetList()) > 0)
			},
			Evidence: "opens as a workbook",
		},
	}}
}

func isZip(p *payload.Payload) bool {
	return bytes.HasPrefix(p.Bytes(), zipMagic)
}

// hasWorkbookPart looks for the part name in the leading local headers and
// in the central directory at the end of the archive.
func hasWorkbookPart(p *payload.Payload) bool {
	b := p.Bytes()
	head, tail := b, b
	if len(b) > sniffWindow {
		head = b[:sniffWindow]
		tail = b[len(b)-sniffWindow:]
	}
	return bytes.Contains(head, workbookPart) || bytes.Contains(tail, workbookPart)
}

func open(p *payload.Payload) (*excelize.File, error) {
	return excelize.OpenReader(bytes.NewReader(p.Bytes()), excelize.Options{UnzipSizeLimit: maxUnzipSize})
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	return isZip(p) && hasWorkbookPart(p)
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

type sheet struct {
	name  string
	table tabular.Table
}

func read(p *payload.Payload) (sheet, []string, error) {
	if !isZip(p) {
		return sheet{}, nil, adapters.Errorf(Name, "not a zip container")
	}
	f, err := open(p)
	if err != nil {
		return sheet{}, nil, adapters.Wrap(Name, err, "open workbook")
	}
	defer f.Close()

	names := f.GetSheetList()
	for _, name := range names {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return sheet{}, names, adapters.Wrap(Name, err, "read sheet "+name)
		}
		t, ok := tabular.New(rows)
		if ok && len(t.Rows) > 0 {
			return sheet{name: name, table: t}, names, nil
		}
	}
	return sheet{}, names, adapters.Errorf(Name, "no sheet with a header and data rows")
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	s, _, err := read(p)
	if err != nil {
		return adapters.Invalid(err.Error())
	}
	if !tabular.HeaderLike(s.table.Header) {
		return adapters.Invalid("sheet " + s.name + " has no header row")
	}
	if len(tabular.EmissionColumns(s.table.Header)) == 0 && len(tabular.EnergyColumns(s.table.Header)) == 0 {
		return adapters.Valid("no emission or energy columns")
	}
	return adapters.Valid()
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	s, names, err := read(p)
	if err != nil {
		return nil, err
	}
	data := s.table.Normalize(descriptor)
	data.SetExtra("sheet", s.name)
	data.SetExtra("sheets", names)
	return data, nil
}
