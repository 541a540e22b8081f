package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Kind is the coarse shape of a payload as seen by a byte-level sniff.
type Kind int

const (
	KindEmpty Kind = iota
	KindJSON
	KindXML
	KindText
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindXML:
		return "xml"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "empty"
	}
}

const (
	// ScanLimit bounds every structural scan over text and markup payloads.
	ScanLimit = 64 * 1024

	binarySniffSize = 512
	maxScanLines    = 20
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Payload wraps one untrusted input. The raw bytes are never modified; the
// sniffed kind and the structural summary are computed once on first use and
// are safe to read from multiple goroutines.
type Payload struct {
	raw []byte

	once      sync.Once
	trimmed   []byte
	kind      Kind
	structure Structure
}

// FromBytes wraps b without copying it. Callers must not mutate b afterwards.
func FromBytes(b []byte) *Payload {
	return &Payload{raw: b}
}

func FromString(s string) *Payload {
	return &Payload{raw: []byte(s)}
}

// FromValue accepts an already parsed object or array and re-encodes it as
// JSON so it flows through the same detection path as serialized input.
func FromValue(v any) (*Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload value: %w", err)
	}
	return FromBytes(b), nil
}

// From dispatches on the dynamic type of v.
func From(v any) (*Payload, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil payload")
	case *Payload:
		return t, nil
	case []byte:
		return FromBytes(t), nil
	case string:
		return FromString(t), nil
	case json.RawMessage:
		return FromBytes(t), nil
	default:
		return FromValue(v)
	}
}

func (p *Payload) Bytes() []byte { return p.raw }

func (p *Payload) Len() int { return len(p.raw) }

func (p *Payload) Text() string { return string(p.raw) }

// Trimmed returns the payload without surrounding whitespace or a UTF-8 BOM.
func (p *Payload) Trimmed() []byte {
	p.init()
	return p.trimmed
}

func (p *Payload) Kind() Kind {
	p.init()
	return p.kind
}

// JSON returns the parsed root. The result is empty unless Kind is KindJSON.
func (p *Payload) JSON() gjson.Result {
	if p.Kind() != KindJSON {
		return gjson.Result{}
	}
	return gjson.ParseBytes(p.trimmed)
}

// Get is a gjson path lookup against a JSON payload.
func (p *Payload) Get(path string) gjson.Result {
	if p.Kind() != KindJSON {
		return gjson.Result{}
	}
	return gjson.GetBytes(p.trimmed, path)
}

// Decode unmarshals a JSON payload into v.
func (p *Payload) Decode(v any) error {
	if p.Kind() != KindJSON {
		return fmt.Errorf("payload is %s, not json", p.Kind())
	}
	return json.Unmarshal(p.trimmed, v)
}

// StartsWith reports whether the trimmed payload begins with any of the prefixes.
func (p *Payload) StartsWith(prefixes ...string) bool {
	t := p.Trimmed()
	for _, pre := range prefixes {
		if bytes.HasPrefix(t, []byte(pre)) {
			return true
		}
	}
	return false
}

// Lines returns up to n non-empty, space-trimmed lines from the first
// ScanLimit bytes of a text payload.
func (p *Payload) Lines(n int) []string {
	k := p.Kind()
	if k == KindEmpty || k == KindBinary {
		return nil
	}
	return splitLines(p.trimmed, n)
}

func splitLines(b []byte, n int) []string {
	if len(b) > ScanLimit {
		b = b[:ScanLimit]
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

// Structure returns the bounded structural summary used by detection.
func (p *Payload) Structure() Structure {
	p.init()
	return p.structure
}

func (p *Payload) init() {
	p.once.Do(func() {
		p.trimmed = bytes.TrimSpace(bytes.TrimPrefix(p.raw, utf8BOM))
		p.kind = sniff(p.raw, p.trimmed)
		p.structure = summarize(p.kind, p.trimmed)
	})
}

func sniff(raw, trimmed []byte) Kind {
	if len(trimmed) == 0 {
		return KindEmpty
	}
	if looksBinary(raw) {
		return KindBinary
	}
	switch trimmed[0] {
	case '{', '[':
		if gjson.ValidBytes(trimmed) {
			return KindJSON
		}
		return KindText
	case '<':
		return KindXML
	}
	if gjson.ValidBytes(trimmed) {
		return KindJSON
	}
	return KindText
}

func looksBinary(b []byte) bool {
	if len(b) > binarySniffSize {
		b = b[:binarySniffSize]
	}
	var control int
	for _, c := range b {
		if c == 0 {
			return true
		}
		if c < 0x09 || (c > 0x0d && c < 0x20) {
			control++
		}
	}
	return control*10 > len(b)
}
