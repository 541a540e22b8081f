package adapters

import (
	"fmt"

	"github.com/qarbon/qingest/pkg/payload"
)

// Adapter is implemented by every format plugin. All methods must be safe for
// concurrent use and must not mutate shared state.
type Adapter interface {
	// Descriptor returns static metadata. It is read once at registration.
	Descriptor() Descriptor

	// Detect is a cheap sniff. It never panics and returns false on malformed input.
	Detect(p *payload.Payload) bool

	// DetectConfidence scores the payload against the adapter's own heuristics.
	// It never fails; unparseable input yields a low score with evidence.
	DetectConfidence(p *payload.Payload) FormatConfidence

	// Ingest parses the payload into the canonical record, returning a
	// *FormatError when the payload cannot be mapped.
	Ingest(p *payload.Payload) (*NormalizedData, error)

	// Validate checks structural and semantic requirements without producing
	// a record.
	Validate(p *payload.Payload) ValidationResult
}

// Shape is the structural form a format usually takes. It seeds the
// adapter's reference vector.
type Shape int

const (
	ShapeAny Shape = iota
	ShapeObject
	ShapeArray
	ShapeRecords
	ShapeMarkup
	ShapeBinary
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	case ShapeRecords:
		return "records"
	case ShapeMarkup:
		return "markup"
	case ShapeBinary:
		return "binary"
	default:
		return "any"
	}
}

// Descriptor identifies an adapter and describes the data it expects.
type Descriptor struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	DeclaredConfidence float64  `json:"declaredConfidence"`
	SupportedFormats   []string `json:"supportedFormats"`

	Shape       Shape    `json:"-"`
	Keywords    []string `json:"keywords,omitempty"`
	TypicalKeys int      `json:"-"`
}

// Validate reports descriptor errors that would make the adapter unusable.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("adapter descriptor has no name")
	}
	if d.DeclaredConfidence < 0 || d.DeclaredConfidence > 1 {
		return fmt.Errorf("adapter %s: declared confidence %.2f outside [0,1]", d.Name, d.DeclaredConfidence)
	}
	return nil
}

// FormatConfidence is one adapter's score against one payload.
type FormatConfidence struct {
	AdapterName string   `json:"adapterName"`
	Score       float64  `json:"score"`
	Evidence    []string `json:"evidence"`
}

type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid returns a passing result carrying optional warnings.
func Valid(warnings ...string) ValidationResult {
	return ValidationResult{IsValid: true, Warnings: warnings}
}

// Invalid returns a failing result.
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{IsValid: false, Errors: errs}
}

// Clamp limits v to [0,1]; NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
