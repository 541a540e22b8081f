// Package units normalizes unit spellings and classifies field names found in
// emission exports.
package units

import (
	"strings"
)

type Dimension int

const (
	Unknown Dimension = iota
	Mass
	Energy
	Power
	Time
)

func (d Dimension) String() string {
	switch d {
	case Mass:
		return "mass"
	case Energy:
		return "energy"
	case Power:
		return "power"
	case Time:
		return "time"
	default:
		return "unknown"
	}
}

// Canonical units every converted value is expressed in.
const (
	Kilogram     = "kg"
	KilowattHour = "kWh"
	Watt         = "W"
	Second       = "s"
)

// unificationMap is the source of truth for unit normalization.
// It groups raw spellings under a canonical unit name.
var unificationMap = map[string][]string{
	"g":   {"g", "gram", "grams", "gco2", "gco2e", "gco2eq", "g_co2", "g_co2e"},
	"kg":  {"kg", "kgs", "kilogram", "kilograms", "kgco2", "kgco2e", "kgco2eq", "kg_co2", "kg_co2e"},
	"t":   {"t", "ton", "tons", "tonne", "tonnes", "tco2", "tco2e", "t_co2e"},
	"Wh":  {"wh", "watt_hour", "watt_hours", "watthour", "watthours"},
	"kWh": {"kwh", "kilowatt_hour", "kilowatt_hours", "kilowatthour", "kilowatthours"},
	"MWh": {"mwh", "megawatt_hour", "megawatt_hours"},
	"J":   {"j", "joule", "joules"},
	"kJ":  {"kj", "kilojoule", "kilojoules"},
	"W":   {"w", "watt", "watts"},
	"kW":  {"kw", "kilowatt", "kilowatts"},
	"ms":  {"ms", "millisecond", "milliseconds", "msec"},
	"s":   {"s", "sec", "secs", "second", "seconds"},
	"min": {"min", "mins", "minute", "minutes"},
	"h":   {"h", "hr", "hrs", "hour", "hours"},
}

type conversion struct {
	dim    Dimension
	factor float64 // multiplier to the canonical unit of dim
}

var conversions = map[string]conversion{
	"g":   {Mass, 0.001},
	"kg":  {Mass, 1},
	"t":   {Mass, 1000},
	"Wh":  {Energy, 0.001},
	"kWh": {Energy, 1},
	"MWh": {Energy, 1000},
	"J":   {Energy, 1 / 3.6e6},
	"kJ":  {Energy, 1 / 3600.0},
	"W":   {Power, 1},
	"kW":  {Power, 1000},
	"ms":  {Time, 0.001},
	"s":   {Time, 1},
	"min": {Time, 60},
	"h":   {Time, 3600},
}

// unitMap is a reverse map generated from unificationMap for efficient lookups.
var unitMap map[string]string

func init() {
	unitMap = make(map[string]string)
	for unified, raws := range unificationMap {
		for _, raw := range raws {
			unitMap[raw] = unified
		}
	}
}

func key(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_", "₂", "2").Replace(s)
	return s
}

// Normalize returns the canonical spelling of raw, or "" when it is not a
// known unit.
func Normalize(raw string) string {
	return unitMap[key(raw)]
}

// DimensionOf reports what unit measures.
func DimensionOf(unit string) Dimension {
	if c, ok := conversions[unit]; ok {
		return c.dim
	}
	if c, ok := conversions[Normalize(unit)]; ok {
		return c.dim
	}
	return Unknown
}

// Convert expresses v, measured in unit, in the canonical unit of its
// dimension (kg, kWh, W or s).
func Convert(v float64, unit string) (float64, Dimension, bool) {
	c, ok := conversions[unit]
	if !ok {
		c, ok = conversions[Normalize(unit)]
	}
	if !ok {
		return v, Unknown, false
	}
	return v * c.factor, c.dim, true
}

// ConvertTo expresses v, measured in from, in to. It fails when either unit
// is unknown or the two measure different dimensions.
func ConvertTo(v float64, from, to string) (float64, bool) {
	base, fd, ok := Convert(v, from)
	if !ok {
		return v, false
	}
	unit, td, ok := Convert(1, to)
	if !ok || fd != td {
		return v, false
	}
	return base / unit, true
}

// Canonical returns the canonical unit for d.
func Canonical(d Dimension) string {
	switch d {
	case Mass:
		return Kilogram
	case Energy:
		return KilowattHour
	case Power:
		return Watt
	case Time:
		return Second
	}
	return ""
}
