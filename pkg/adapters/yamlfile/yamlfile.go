// Package yamlfile reads YAML emission reports and configuration-style
// exports.
package yamlfile

import (
	"regexp"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/units"
	"gopkg.in/yaml.v3"
)

const Name = "yaml"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 0.8,
	SupportedFormats:   []string{"yaml", "yml"},
	Shape:              adapters.ShapeObject,
	Keywords:           []string{"emissions", "energy"},
}

var mappingLine = regexp.MustCompile(`^\s*(- )?["']?[\w.\- ]+["']?:(\s|$)`)

type Adapter struct {
	heuristics []adapters.Heuristic
}

func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:   "mapping",
			Weight: 0.5,
			Test: func(p *payload.Payload) float64 {
				m, err := decodeWindow(p)
				return adapters.Bool(err == nil && len(m) > 0)
			},
			Evidence: "YAML mapping document",
		},
		{
			Name:     "key lines",
			Weight:   0.2,
			Test:     keyLines,
			Evidence: "key: value lines",
		},
		{
			Name:   "emission keys",
			Weight: 0.3,
			Test: func(p *payload.Payload) float64 {
				m, err := decodeWindow(p)
				if err != nil {
					return 0
				}
				return adapters.Bool(hasVocabulary(m, 1))
			},
			Evidence: "emission-related keys",
		},
	}}
}

// structured payloads are JSON or markup, which the YAML parser would
// otherwise also accept.
func structured(p *payload.Payload) bool {
	return p.Kind() != payload.KindText || p.StartsWith("{", "[", "<")
}

func decodeWindow(p *payload.Payload) (map[string]any, error) {
	if structured(p) {
		return nil, adapters.Errorf(Name, "payload is %s, not yaml", p.Kind())
	}
	b := p.Trimmed()
	if len(b) > payload.ScanLimit {
		// decode whole lines only
		b = b[:payload.ScanLimit]
		if i := strings.LastIndexByte(string(b), '\n'); i > 0 {
			b = b[:i]
		}
	}
	return decode(b)
}

func decode(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, adapters.Wrap(Name, err, "parse")
	}
	return m, nil
}

// keyLines is the share of the first lines that look like mapping entries.
func keyLines(p *payload.Payload) float64 {
	if structured(p) {
		return 0
	}
	lines := p.Lines(20)
	if len(lines) == 0 {
		return 0
	}
	n := 0
	for _, l := range lines {
		if l == "---" || strings.HasPrefix(l, "#") || mappingLine.MatchString(l) {
			n++
		}
	}
	return float64(n) / float64(len(lines))
}

func hasVocabulary(m map[string]any, depth int) bool {
	for k, v := range m {
		lk := strings.ToLower(k)
		for _, term := range ensemble.Vocabulary {
			if strings.Contains(lk, term) {
				return true
			}
		}
		if sub, ok := v.(map[string]any); ok && depth > 0 && hasVocabulary(sub, depth-1) {
			return true
		}
	}
	return false
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	if keyLines(p) < 0.5 {
		return false
	}
	m, err := decodeWindow(p)
	return err == nil && len(m) > 0
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	if structured(p) {
		return adapters.FormatConfidence{AdapterName: Name, Evidence: []string{"not yaml text"}}
	}
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) parse(p *payload.Payload) (map[string]any, error) {
	if structured(p) {
		return nil, adapters.Errorf(Name, "payload is %s, not yaml", p.Kind())
	}
	m, err := decode(p.Trimmed())
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, adapters.Errorf(Name, "document is not a mapping")
	}
	return m, nil
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	m, err := a.parse(p)
	if err != nil {
		return adapters.Invalid(err.Error())
	}
	f := adapters.NewFields()
	f.AddMap(m, 2)
	if !f.HasQuantity(units.Emissions) && !f.HasQuantity(units.EnergyUse) {
		return adapters.Valid("no emission or energy keys")
	}
	return adapters.Valid()
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	m, err := a.parse(p)
	if err != nil {
		return nil, err
	}
	f := adapters.NewFields()
	f.AddMap(m, 2)
	data := adapters.NewNormalizedData(descriptor)
	f.Fill(data)
	return data, nil
}
