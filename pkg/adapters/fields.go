package adapters

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/qarbon/qingest/pkg/units"
	"github.com/tidwall/gjson"
)

// measure holds every value seen under one name, all expressed in unit.
type measure struct {
	values []float64
	unit   string
}

// fillState tracks which canonical sections Fill has already set.
type fillState struct {
	directPower bool
	energyTotal bool
}

// Fields collects flattened name/value pairs from a structured payload and
// maps them onto a NormalizedData. Numbers seen under the same name
// accumulate, so a list of records folds into totals; the first non-empty
// string for a name wins.
type Fields struct {
	numbers map[string]*measure
	strs    map[string]string
	extras  map[string]any
	order   []string
}

func NewFields() *Fields {
	return &Fields{
		numbers: make(map[string]*measure),
		strs:    make(map[string]string),
		extras:  make(map[string]any),
	}
}

func (f *Fields) seen(name string) bool {
	_, n := f.numbers[name]
	_, s := f.strs[name]
	_, e := f.extras[name]
	return n || s || e
}

func (f *Fields) Number(name string, v float64) { f.Measure(name, v, "") }

// Measure records v under name with an explicit unit, which overrides any
// unit implied by the name. The first explicit unit fixes the unit of the
// name; later values in another unit of the same dimension are rescaled.
func (f *Fields) Measure(name string, v float64, unit string) {
	if name == "" || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m, ok := f.numbers[name]
	if !ok {
		if !f.seen(name) {
			f.order = append(f.order, name)
		}
		m = &measure{}
		f.numbers[name] = m
	}
	switch {
	case unit == "" || unit == m.unit:
	case m.unit == "":
		m.unit = unit
	default:
		if c, ok := units.ConvertTo(v, unit, m.unit); ok {
			v = c
		}
	}
	m.values = append(m.values, v)
}

func (f *Fields) String(name, v string) {
	v = strings.TrimSpace(v)
	if name == "" || v == "" || f.strs[name] != "" {
		return
	}
	if !f.seen(name) {
		f.order = append(f.order, name)
	}
	f.strs[name] = v
}

// Extra keeps a value that is carried through verbatim.
func (f *Fields) Extra(name string, v any) {
	if name == "" || f.seen(name) {
		return
	}
	f.order = append(f.order, name)
	f.extras[name] = v
}

func (f *Fields) Len() int { return len(f.order) }

// HasQuantity reports whether any collected number maps to q.
func (f *Fields) HasQuantity(q units.Quantity) bool {
	for name, m := range f.numbers {
		if f.quantity(name, m) == q {
			return true
		}
	}
	return false
}

func (f *Fields) quantity(name string, m *measure) units.Quantity {
	if q := units.Classify(name).Quantity; q != units.Other {
		return q
	}
	switch units.DimensionOf(m.unit) {
	case units.Mass:
		return units.Emissions
	case units.Energy:
		return units.EnergyUse
	case units.Power:
		return units.PowerDraw
	case units.Time:
		return units.Elapsed
	}
	return units.Other
}

// Fill maps the collected values onto n. Values that fit no canonical
// section land in AdditionalProperties.
func (f *Fields) Fill(n *NormalizedData) {
	var st fillState
	for _, name := range f.order {
		switch {
		case f.numbers[name] != nil:
			f.fillNumber(n, name, f.numbers[name], &st)
		case f.strs[name] != "":
			fillString(n, name, f.strs[name])
		default:
			n.SetExtra(name, f.extras[name])
		}
	}
	if n.Energy != nil && !st.energyTotal && len(n.Energy.Breakdown) > 0 {
		parts := make([]float64, 0, len(n.Energy.Breakdown))
		for _, v := range n.Energy.Breakdown {
			parts = append(parts, v)
		}
		n.Energy.Total, _ = stats.Sum(parts)
	}
}

func (f *Fields) fillNumber(n *NormalizedData, name string, m *measure, st *fillState) {
	lower := strings.ToLower(name)
	if lower == "latitude" || lower == "lat" || lower == "longitude" || lower == "lon" || lower == "lng" {
		v := m.values[0]
		if n.Location == nil {
			n.Location = &Location{}
		}
		if strings.HasPrefix(lower, "lat") {
			n.Location.Latitude = &v
		} else {
			n.Location.Longitude = &v
		}
		return
	}

	field := units.Classify(name)
	q := f.quantity(name, m)
	unit := field.Unit
	if u := units.Normalize(m.unit); u != "" && units.DimensionOf(u) == q.Dimension() {
		unit = u
	}
	if unit == "" {
		unit = units.Canonical(q.Dimension())
	}
	sum, _ := stats.Sum(m.values)
	total, _, _ := units.Convert(sum, unit)

	switch q {
	case units.Emissions:
		if n.Emissions == nil {
			n.Emissions = &Emissions{Total: total, Unit: units.Kilogram}
			return
		}
	case units.EnergyUse:
		if n.Energy == nil {
			n.Energy = &Energy{Unit: units.KilowattHour}
		}
		if field.Component != "" {
			if n.Energy.Breakdown == nil {
				n.Energy.Breakdown = make(map[string]float64)
			}
			n.Energy.Breakdown[field.Component] += total
			return
		}
		if !st.energyTotal {
			n.Energy.Total = total
			st.energyTotal = true
			return
		}
	case units.PowerDraw:
		mean, _ := stats.Mean(m.values)
		peak, _ := stats.Max(m.values)
		mean, _, _ = units.Convert(mean, unit)
		peak, _, _ = units.Convert(peak, unit)
		switch {
		case n.Power == nil:
			n.Power = &Power{Average: mean, Peak: peak, Unit: units.Watt, Samples: len(m.values)}
			st.directPower = field.Component == ""
			return
		case field.Component != "" && !st.directPower:
			n.Power.Average += mean
			n.Power.Peak += peak
			return
		case field.Component == "" && !st.directPower:
			n.Power = &Power{Average: mean, Peak: peak, Unit: units.Watt, Samples: len(m.values)}
			st.directPower = true
			return
		}
	case units.Elapsed:
		if n.Duration == nil {
			n.Duration = &Duration{Seconds: total}
			return
		}
	}

	if len(m.values) == 1 {
		n.SetExtra(name, m.values[0])
		return
	}
	mean, _ := stats.Mean(m.values)
	lo, _ := stats.Min(m.values)
	hi, _ := stats.Max(m.values)
	n.SetExtra(name, map[string]float64{"sum": sum, "mean": mean, "min": lo, "max": hi, "count": float64(len(m.values))})
}

func fillString(n *NormalizedData, name, v string) {
	location := func() *Location {
		if n.Location == nil {
			n.Location = &Location{}
		}
		return n.Location
	}
	device := func() *Device {
		if n.Device == nil {
			n.Device = &Device{}
		}
		return n.Device
	}

	switch strings.ToLower(name) {
	case "country", "country_name", "country_iso_code", "country_code":
		if l := location(); l.Country == "" {
			l.Country = v
			return
		}
	case "region", "cloud_region", "grid_region", "zone":
		if l := location(); l.Region == "" {
			l.Region = v
			return
		}
	case "model", "model_name", "device_model":
		if d := device(); d.Model == "" {
			d.Model = v
			return
		}
	case "manufacturer", "vendor", "provider":
		if d := device(); d.Manufacturer == "" {
			d.Manufacturer = v
			return
		}
	case "device", "device_type", "hardware":
		if d := device(); d.Type == "" {
			d.Type = v
			return
		}
	case "serial", "serial_number":
		if d := device(); d.Serial == "" {
			d.Serial = v
			return
		}
	}
	n.SetExtra(name, v)
}

// valueKeys name the member holding the amount in {"total": 1.2, "unit": "kg"} style objects.
var valueKeys = []string{"total", "value", "amount"}

// AddJSON flattens the members of obj. Nested objects are descended up to
// depth levels; an object carrying an amount and a unit is read as one
// measurement named after its parent key.
func (f *Fields) AddJSON(obj gjson.Result, depth int) {
	obj.ForEach(func(key, value gjson.Result) bool {
		f.addJSONValue(key.String(), value, depth)
		return true
	})
}

func (f *Fields) addJSONValue(name string, value gjson.Result, depth int) {
	switch {
	case value.Type == gjson.Number:
		f.Number(name, value.Float())
	case value.Type == gjson.String:
		f.String(name, value.String())
	case value.Type == gjson.True || value.Type == gjson.False:
		f.Extra(name, value.Bool())
	case value.IsObject():
		for _, k := range valueKeys {
			if v := value.Get(k); v.Type == gjson.Number {
				f.Measure(name, v.Float(), value.Get("unit").String())
				return
			}
		}
		if depth > 0 {
			f.AddJSON(value, depth-1)
		}
	case value.IsArray():
		value.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.Type == gjson.Number:
				f.Number(name, item.Float())
			case item.IsObject() && depth > 0:
				f.AddJSON(item, depth-1)
			}
			return true
		})
	}
}

// AddMap is AddJSON for decoded documents such as YAML. Keys are visited in
// sorted order so string precedence is deterministic.
func (f *Fields) AddMap(m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.addMapValue(k, m[k], depth)
	}
}

func (f *Fields) addMapValue(name string, value any, depth int) {
	switch v := value.(type) {
	case int:
		f.Number(name, float64(v))
	case int64:
		f.Number(name, float64(v))
	case uint64:
		f.Number(name, float64(v))
	case float64:
		f.Number(name, v)
	case string:
		f.String(name, v)
	case bool:
		f.Extra(name, v)
	case map[string]any:
		for _, k := range valueKeys {
			if amount, ok := toFloat(v[k]); ok {
				unit, _ := v["unit"].(string)
				f.Measure(name, amount, unit)
				return
			}
		}
		if depth > 0 {
			f.AddMap(v, depth-1)
		}
	case []any:
		for _, item := range v {
			if x, ok := toFloat(item); ok {
				f.Number(name, x)
			} else if m, ok := item.(map[string]any); ok && depth > 0 {
				f.AddMap(m, depth-1)
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// ParseNumber reads a numeric cell or element text. Blank and non-numeric
// input reports false.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
