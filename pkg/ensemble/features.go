package ensemble

import (
	"math"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"gonum.org/v1/gonum/floats"
)

// Vocabulary is the canonical emission vocabulary. Its order fixes the
// trailing dimensions of every feature vector.
var Vocabulary = []string{"emissions", "carbon", "co2", "energy", "fuel", "electricity"}

// Feature vector layout.
const (
	DimObject = iota
	DimArray
	DimNull
	DimKeyCount
	dimVocabulary
)

// Dimensions is the length of every feature vector.
var Dimensions = dimVocabulary + len(Vocabulary)

// keyCountScale maps a key count onto [0,1].
const keyCountScale = 10.0

// markupObjectness is the object weight given to markup formats, which are
// tree-shaped without being key/value documents.
const markupObjectness = 0.5

type Vector []float64

// Extract builds the payload's feature vector.
func Extract(p *payload.Payload) Vector {
	s := p.Structure()
	v := make(Vector, Dimensions)
	v[DimObject] = flag(s.Object)
	v[DimArray] = flag(s.Array || s.Records)
	v[DimNull] = flag(s.Null)
	v[DimKeyCount] = keyCount(s.KeyCount)
	for i, term := range Vocabulary {
		v[dimVocabulary+i] = flag(s.HasName(term))
	}
	return v
}

// Reference derives an adapter's reference vector from its descriptor.
// Binary formats carry no structure, so their reference is the zero vector.
func Reference(d adapters.Descriptor) Vector {
	v := make(Vector, Dimensions)
	switch d.Shape {
	case adapters.ShapeBinary:
		return v
	case adapters.ShapeObject:
		v[DimObject] = 1
	case adapters.ShapeArray, adapters.ShapeRecords:
		v[DimArray] = 1
	case adapters.ShapeMarkup:
		v[DimObject] = markupObjectness
	default:
		v[DimObject] = 1
		v[DimArray] = 1
	}
	v[DimKeyCount] = keyCount(d.TypicalKeys)
	for _, kw := range d.Keywords {
		kw = strings.ToLower(kw)
		for i, term := range Vocabulary {
			if kw == term {
				v[dimVocabulary+i] = 1
			}
		}
	}
	return v
}

// Similarity is the cosine similarity of a and b in [0,1]. Two zero vectors
// are identical; a zero vector against a non-zero one scores 0.
func Similarity(a, b Vector) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	switch {
	case na == 0 && nb == 0:
		return 1
	case na == 0 || nb == 0:
		return 0
	}
	return adapters.Clamp(floats.Dot(a, b) / (na * nb))
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func keyCount(n int) float64 {
	return math.Min(float64(n)/keyCountScale, 1)
}
