// Package tabular maps header-plus-rows data (CSV text, spreadsheet sheets)
// onto normalized records.
package tabular

import (
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/units"
)

type Table struct {
	Header []string
	Rows   [][]string
}

// New splits rows into a header and data rows, skipping leading blank rows.
func New(rows [][]string) (Table, bool) {
	for i, r := range rows {
		if blank(r) {
			continue
		}
		t := Table{Header: trimAll(r)}
		for _, row := range rows[i+1:] {
			if !blank(row) {
				t.Rows = append(t.Rows, row)
			}
		}
		return t, true
	}
	return Table{}, false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// HeaderLike reports whether fields read as column names: non-empty and
// not numeric.
func HeaderLike(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		f = strings.Trim(strings.TrimSpace(f), `"`)
		if f == "" {
			return false
		}
		if _, ok := adapters.ParseNumber(f); ok {
			return false
		}
	}
	return true
}

// EmissionColumns returns the indexes of header names holding emission totals.
func EmissionColumns(header []string) []int {
	return columnsOf(header, units.Emissions)
}

// EnergyColumns returns the indexes of header names holding energy use.
func EnergyColumns(header []string) []int {
	return columnsOf(header, units.EnergyUse)
}

func columnsOf(header []string, q units.Quantity) []int {
	var out []int
	for i, h := range header {
		if units.Classify(strings.Trim(h, `"`)).Quantity == q {
			out = append(out, i)
		}
	}
	return out
}

// NumericColumns returns the indexes of columns where every non-blank cell
// parses as a number and at least one cell does.
func (t Table) NumericColumns() []int {
	var out []int
	for i := range t.Header {
		seen := false
		numeric := true
		for _, r := range t.Rows {
			if i >= len(r) || strings.TrimSpace(r[i]) == "" {
				continue
			}
			if _, ok := adapters.ParseNumber(r[i]); !ok {
				numeric = false
				break
			}
			seen = true
		}
		if seen && numeric {
			out = append(out, i)
		}
	}
	return out
}

// Fields folds the table into accumulated fields: numeric columns sum across
// rows, text columns keep their first value.
func (t Table) Fields() *adapters.Fields {
	f := adapters.NewFields()
	numeric := make(map[int]bool)
	for _, i := range t.NumericColumns() {
		numeric[i] = true
	}
	for _, r := range t.Rows {
		for i, name := range t.Header {
			if i >= len(r) {
				break
			}
			if numeric[i] {
				if v, ok := adapters.ParseNumber(r[i]); ok {
					f.Number(name, v)
				}
				continue
			}
			f.String(name, r[i])
		}
	}
	return f
}

// Normalize maps t onto a record for the adapter described by d.
func (t Table) Normalize(d adapters.Descriptor) *adapters.NormalizedData {
	data := adapters.NewNormalizedData(d)
	t.Fields().Fill(data)
	data.SetExtra("rows", len(t.Rows))
	data.SetExtra("columns", t.Header)
	return data
}
