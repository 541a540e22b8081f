package units

import (
	"strings"
	"unicode"
)

// Quantity is what a field name says its value measures.
type Quantity int

const (
	Other Quantity = iota
	Emissions
	EnergyUse
	PowerDraw
	Elapsed
)

func (q Quantity) Dimension() Dimension {
	switch q {
	case Emissions:
		return Mass
	case EnergyUse:
		return Energy
	case PowerDraw:
		return Power
	case Elapsed:
		return Time
	}
	return Unknown
}

// Field is the classification of one key or column name.
type Field struct {
	Quantity  Quantity
	Unit      string // unit named in the key, else the canonical unit
	Component string // hardware component for breakdown fields, e.g. "cpu"
}

// Derived measures such as rates or intensities are not totals.
var derivedTokens = map[string]bool{
	"rate": true, "intensity": true, "factor": true, "per": true, "percent": true,
	"pct": true, "ratio": true, "id": true, "source": true, "mode": true, "unit": true,
	"units": true, "offset": true, "saved": true, "avoided": true,
}

var components = map[string]bool{
	"cpu": true, "gpu": true, "ram": true, "memory": true, "disk": true,
	"network": true, "storage": true,
}

func tokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Classify maps a field name such as "emissions_kg", "energy_consumed" or
// "duration_seconds" to the quantity it holds and the unit it is in.
func Classify(name string) Field {
	toks := tokens(name)
	if len(toks) == 0 {
		return Field{}
	}
	for _, t := range toks {
		if derivedTokens[t] {
			return Field{}
		}
	}

	q := Other
	for _, t := range toks {
		if q = quantityOf(t); q != Other {
			break
		}
	}
	if q == Other {
		// a bare energy unit such as "kwh" names its quantity
		for _, t := range toks {
			if DimensionOf(t) == Energy {
				q = EnergyUse
				break
			}
		}
	}
	if q == Other {
		return Field{}
	}

	f := Field{Quantity: q, Unit: Canonical(q.Dimension())}
	for i := len(toks) - 1; i >= 0; i-- {
		if u := Normalize(toks[i]); u != "" && DimensionOf(u) == q.Dimension() {
			f.Unit = u
			break
		}
	}
	if components[toks[0]] {
		f.Component = toks[0]
	}
	return f
}

func quantityOf(tok string) Quantity {
	switch {
	case strings.HasPrefix(tok, "emission"), strings.HasPrefix(tok, "co2"),
		strings.HasPrefix(tok, "carbon"), strings.HasPrefix(tok, "ghg"):
		return Emissions
	case strings.Contains(tok, "energy"), tok == "electricity", tok == "consumption":
		return EnergyUse
	case tok == "power", tok == "watts":
		return PowerDraw
	case tok == "duration", tok == "elapsed", tok == "runtime", tok == "latency":
		return Elapsed
	}
	return Other
}
